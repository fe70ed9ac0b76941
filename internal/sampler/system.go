package sampler

import (
	"context"
	"sort"
	"time"

	"codeberg.org/mutker/procmon/internal/errors"
	"codeberg.org/mutker/procmon/internal/logger"
	"golang.org/x/sync/errgroup"
)

const DefaultChannelCapacity = 16384

type Option func(*options)

type options struct {
	log      logger.Logger
	capacity int
	start    time.Time
}

// WithLogger sets the logger used by the System and its handles.
func WithLogger(l logger.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithChannelCapacity bounds the event channel. Producers block when it is
// full until the next Update drains it.
func WithChannelCapacity(n int) Option {
	return func(o *options) { o.capacity = n }
}

// WithStart sets the start of the first window. Default is time.Now().
func WithStart(t time.Time) Option {
	return func(o *options) { o.start = t }
}

// System owns every producer and the Accumulator. Update and the accessors
// must be called from one goroutine.
type System struct {
	features Feature
	entities []EntityID
	log      logger.Logger

	ch  chan message
	acc *Accumulator
	reg *registry

	runCtx context.Context
	cancel context.CancelFunc
	group  errgroup.Group

	// threadsErr is set when the privileged query could not be built for
	// thread counts alone.
	threadsErr error

	events [metricCount]uint64
	closed bool
}

// New builds and starts the producers for features. Construction is all
// or nothing: on any failure every producer already built is closed and
// the returned error carries the failing feature. ctx bounds construction
// only; background producers live until Close.
func New(ctx context.Context, factory Factory, features Feature, entities []EntityID, opts ...Option) (*System, error) {
	errFactory := errors.New()

	o := &options{
		log:      logger.Default(),
		capacity: DefaultChannelCapacity,
		start:    time.Now(),
	}
	for _, opt := range opts {
		opt(o)
	}

	if features&^allFeatures() != 0 {
		return nil, errFactory.WithData(ErrInvalidFeatures, uint32(features))
	}
	if o.capacity <= 0 {
		return nil, errFactory.WithData(errors.ErrInvalidArgument, o.capacity)
	}

	ids, err := normalizeEntities(entities)
	if err != nil {
		return nil, err
	}

	s := &System{
		features: features,
		entities: ids,
		log:      o.log.With("sampler"),
		ch:       make(chan message, o.capacity),
		acc:      NewAccumulator(o.start),
		reg:      newRegistry(),
	}
	for _, e := range ids {
		s.acc.Register(e)
	}

	if err := s.build(ctx, factory); err != nil {
		return nil, err
	}

	s.runCtx, s.cancel = context.WithCancel(context.Background())
	s.launch()

	s.log.Info().
		Str("features", features.String()).
		Int("entities", len(ids)).
		Int("producers", len(s.reg.handles)).
		Msg("Sampler started")

	return s, nil
}

func allFeatures() Feature {
	var all Feature
	for _, fn := range featureNames {
		all |= fn.f
	}
	return all
}

func normalizeEntities(entities []EntityID) ([]EntityID, error) {
	seen := make(map[EntityID]bool, len(entities))
	ids := make([]EntityID, 0, len(entities))
	for _, e := range entities {
		if e <= 0 {
			return nil, errors.New().WithData(errors.ErrInvalidArgument, int32(e))
		}
		if seen[e] {
			continue
		}
		seen[e] = true
		ids = append(ids, e)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// launch runs every streamer in the errgroup. A streamer that returns
// while the System is open reports itself on the event channel.
func (s *System) launch() {
	sink := channelSink{ch: s.ch}

	for _, h := range s.reg.handles {
		st, ok := h.producer.(Streamer)
		if !ok {
			continue
		}
		s.group.Go(func() error {
			err := st.Run(s.runCtx, sink)
			if s.runCtx.Err() != nil {
				return nil
			}
			if err == nil {
				err = errors.New().WithMessage(ErrConsumerDisconnected, "producer exited")
			}
			select {
			case s.ch <- message{status: &status{h: h, err: err}}:
			case <-s.runCtx.Done():
			}
			return err
		})
	}
}

// Update closes the current window at now. It drains the events queued so
// far, derives rates and refreshes every counter query. It never fails:
// refresh errors are kept per producer and surface through the accessors.
func (s *System) Update(ctx context.Context, now time.Time) time.Duration {
	if s.closed {
		return 0
	}

	s.drain(ctx)
	elapsed := s.acc.Window(now)
	s.refresh(ctx)

	return elapsed
}

func (s *System) drain(ctx context.Context) {
	// Only what is queued now belongs to this window.
	n := len(s.ch)
	for i := 0; i < n; i++ {
		m := <-s.ch
		if m.status != nil {
			s.log.Warn().
				Err(m.status.err).
				Str("producer", m.status.h.name()).
				Str("features", m.status.h.features.String()).
				Msg("Producer disconnected")
			m.status.h.disconnect(ctx, m.status.err)
			continue
		}
		s.acc.Add(m.event)
		if m.event.Metric < metricCount {
			s.events[m.event.Metric] = saturatingAdd(s.events[m.event.Metric], m.event.Delta)
		}
	}
}

func (s *System) refresh(ctx context.Context) {
	for _, h := range s.reg.handles {
		r, ok := h.producer.(Refresher)
		if !ok || h.disconnected != nil {
			continue
		}
		err := r.Refresh(ctx)
		if err != nil && h.refreshErr == nil {
			s.log.Warn().Err(err).Str("producer", h.name()).Msg("Refresh failed")
		} else if err == nil && h.refreshErr != nil {
			s.log.Info().Str("producer", h.name()).Msg("Refresh recovered")
		}
		h.refreshErr = err
	}
}

// Close stops every background producer, waits for them and closes all
// producers. It is safe to call more than once.
func (s *System) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	s.cancel()
	if err := s.group.Wait(); err != nil {
		s.log.Debug().Err(err).Msg("Producer ended with error before shutdown")
	}

	err := s.teardown(context.Background())
	s.log.Info().Msg("Sampler stopped")

	return err
}

func (s *System) teardown(ctx context.Context) error {
	var first error
	for _, h := range s.reg.handles {
		if err := h.stop(ctx); err != nil {
			s.log.Error().Err(err).Str("producer", h.name()).Msg("Failed to close producer")
			if first == nil {
				first = err
			}
		}
	}
	if first != nil {
		return errors.New().Wrap(errors.ErrShutdownFailed, first)
	}
	return nil
}

// ProducerStatus describes one producer for diagnostics.
type ProducerStatus struct {
	Name        string
	Features    Feature
	State       string
	ParseErrors uint64
	Err         error
}

// Producers returns the status of every producer in construction order.
func (s *System) Producers() []ProducerStatus {
	out := make([]ProducerStatus, 0, len(s.reg.handles))
	for _, h := range s.reg.handles {
		ps := ProducerStatus{
			Name:     h.name(),
			Features: h.features,
			State:    h.state(),
			Err:      h.available(),
		}
		if pc, ok := h.producer.(ParseErrorCounter); ok {
			ps.ParseErrors = pc.ParseErrors()
		}
		out = append(out, ps)
	}
	return out
}

// EventTotal returns the sum of deltas received for m since New.
func (s *System) EventTotal(m MetricKind) uint64 {
	if m >= metricCount {
		return 0
	}
	return s.events[m]
}
