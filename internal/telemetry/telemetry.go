package telemetry

import (
	"context"
	stderrors "errors"
	"net"
	"net/http"
	"time"

	"codeberg.org/mutker/procmon/internal/errors"
	"codeberg.org/mutker/procmon/internal/host"
	"codeberg.org/mutker/procmon/internal/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 5 * time.Second
)

type service struct {
	*exporter
	cfg      Config
	logger   logger.Logger
	listener net.Listener
	server   *http.Server
	done     chan struct{}
}

// No-op implementation
type noopCollector struct{}

// NewService starts the metrics endpoint, or returns a no-op collector when
// no listen address is configured.
func NewService(cfg Config, entities []host.Info, log logger.Logger) (Collector, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}
	if log == nil {
		log = logger.Default()
	}
	log = log.With("telemetry")

	if !cfg.Enabled() {
		log.Debug().Msg("Metrics endpoint disabled, using no-op collector")
		return &noopCollector{}, nil
	}
	if cfg.Path == "" {
		cfg.Path = defaultPath
	}

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return nil, errFactory.Wrap(ErrServerInit, err).WithData(cfg.Listen)
	}

	e := newExporter(entities)
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{Registry: e.registry}))

	s := &service{
		exporter: e,
		cfg:      cfg,
		logger:   log,
		listener: ln,
		server:   &http.Server{Handler: mux, ReadHeaderTimeout: readHeaderTimeout},
		done:     make(chan struct{}),
	}

	go s.serve()

	log.Info().Str("addr", ln.Addr().String()).Str("path", cfg.Path).Msg("Metrics endpoint listening")

	return s, nil
}

func (s *service) serve() {
	defer close(s.done)
	if err := s.server.Serve(s.listener); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		s.logger.Error().Err(err).Msg("Metrics endpoint stopped")
	}
}

// Addr returns the bound address, useful when listening on port 0.
func (s *service) Addr() string {
	return s.listener.Addr().String()
}

func (s *service) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return errors.New().Wrap(ErrServiceShutdown, err)
	}
	<-s.done

	return nil
}

// No-op implementation
func (*noopCollector) Observe(*Snapshot) error {
	return nil
}

func (*noopCollector) Close() error {
	return nil
}
