package tracefs

import (
	"bytes"
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/procmon/internal/errors"
	"codeberg.org/mutker/procmon/internal/logger"
	"codeberg.org/mutker/procmon/internal/sampler"
	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

const (
	pollTimeout = 200 * time.Millisecond
	readBufSize = 64 * 1024
	maxLineLen  = 4096
)

// DefaultRoots are the usual tracefs mount points.
var DefaultRoots = []string{"/sys/kernel/tracing", "/sys/kernel/debug/tracing"}

// FindRoot returns override when set, else the first mounted default root.
func FindRoot(override string) (string, error) {
	candidates := DefaultRoots
	if override != "" {
		candidates = []string{override}
	}
	for _, root := range candidates {
		if _, err := os.Stat(filepath.Join(root, "trace_pipe")); err == nil {
			return root, nil
		}
	}
	return "", errors.New().WithData(errors.ErrUnsupportedFeature, ErrNoTracefs)
}

type Config struct {
	Root          string
	Entities      []sampler.EntityID
	Frames        bool
	Net           bool
	PresentProbes []string
	Log           logger.Logger
}

// Session is a private tracefs instance carrying frame and network probes.
// It implements sampler.Streamer.
type Session struct {
	cfg     Config
	log     logger.Logger
	watched map[int32]bool

	id       string
	group    string
	instance string
	probes   []probe

	mu        sync.Mutex
	created   bool
	installed []probe
	pipeFD    int

	parseErrors atomic.Uint64
}

func New(cfg Config) *Session {
	log := cfg.Log
	if log == nil {
		log = logger.Default()
	}

	id := uuid.NewString()
	s := &Session{
		cfg:     cfg,
		log:     log.With("tracefs"),
		watched: make(map[int32]bool, len(cfg.Entities)),
		id:      id,
		group:   "procmon_" + strings.ReplaceAll(id, "-", "")[:8],
		pipeFD:  -1,
	}
	for _, e := range cfg.Entities {
		s.watched[int32(e)] = true
	}
	return s
}

func (s *Session) Name() string {
	return "trace-session"
}

func (s *Session) ParseErrors() uint64 {
	return s.parseErrors.Load()
}

// Start creates the instance, installs the probes and opens trace_pipe.
// Whatever was set up is torn down again on failure.
func (s *Session) Start(ctx context.Context) (err error) {
	root, err := FindRoot(s.cfg.Root)
	if err != nil {
		return err
	}
	s.instance = filepath.Join(root, "instances", "procmon-"+s.id)

	if s.cfg.Net {
		s.probes = append(s.probes, netProbes(s.group)...)
	}
	if s.cfg.Frames {
		present := presentProbes(s.group, s.cfg.PresentProbes, func(spec string, err error) {
			s.log.Debug().Err(err).Str("probe", spec).Msg("Skipping present probe")
		})
		if len(present) == 0 {
			return errors.New().WithData(errors.ErrUnsupportedFeature, ErrNoPresentHook)
		}
		s.probes = append(s.probes, present...)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() {
		if err != nil {
			s.teardownLocked(root)
		}
	}()

	if err := ctx.Err(); err != nil {
		return errors.New().Wrap(errors.ErrResourceInit, err)
	}

	if err := os.Mkdir(s.instance, 0o755); err != nil {
		return classify("create_instance", err)
	}
	s.created = true

	if err := writeControl(filepath.Join(s.instance, "options", "record-tgid"), "1"); err != nil {
		s.log.Debug().Err(err).Msg("record-tgid unavailable, attributing by pid")
	}

	for _, p := range s.probes {
		if err := appendControl(filepath.Join(root, p.eventsFile()), p.Definition()); err != nil {
			return classify("install_probe", err)
		}
		s.installed = append(s.installed, p)
	}

	if err := writeControl(filepath.Join(s.instance, "events", s.group, "enable"), "1"); err != nil {
		return classify("enable_events", err)
	}
	if err := writeControl(filepath.Join(s.instance, "tracing_on"), "1"); err != nil {
		return classify("tracing_on", err)
	}

	fd, err := unix.Open(filepath.Join(s.instance, "trace_pipe"), unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return classify("open_trace_pipe", err)
	}
	s.pipeFD = fd

	s.log.Info().
		Str("instance", s.instance).
		Int("probes", len(s.probes)).
		Int("watched", len(s.watched)).
		Msg("Trace session started")

	return nil
}

// Run reads trace_pipe until ctx is cancelled. Every poll is bounded by
// pollTimeout so cancellation is noticed promptly.
func (s *Session) Run(ctx context.Context, sink sampler.Sink) error {
	s.mu.Lock()
	fd := s.pipeFD
	s.mu.Unlock()
	if fd < 0 {
		return errors.New().WithMessage(errors.ErrConsumerDisconnected, "trace session not started")
	}

	return s.readLoop(ctx, fd, sink)
}

func (s *Session) readLoop(ctx context.Context, fd int, sink sampler.Sink) error {
	buf := make([]byte, readBufSize)
	pending := make([]byte, 0, readBufSize)
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := unix.Poll(fds, int(pollTimeout/time.Millisecond))
		if err != nil {
			if stderrors.Is(err, unix.EINTR) {
				continue
			}
			return errors.New().Wrap(errors.ErrConsumerDisconnected, err)
		}
		if n == 0 {
			continue
		}

		r, err := unix.Read(fd, buf)
		if err != nil {
			if stderrors.Is(err, unix.EAGAIN) || stderrors.Is(err, unix.EINTR) {
				continue
			}
			return errors.New().Wrap(errors.ErrConsumerDisconnected, err)
		}
		if r == 0 {
			// Regular files report EOF instead of blocking.
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pollTimeout):
			}
			continue
		}

		pending = append(pending, buf[:r]...)
		rest := pending
		for {
			i := bytes.IndexByte(rest, '\n')
			if i < 0 {
				break
			}
			if err := s.handle(ctx, string(rest[:i]), sink); err != nil {
				return err
			}
			rest = rest[i+1:]
		}
		if len(rest) > maxLineLen {
			s.parseErrors.Add(1)
			rest = rest[:0]
		}
		pending = pending[:copy(pending, rest)]
	}
}

func (s *Session) handle(ctx context.Context, raw string, sink sampler.Sink) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	line, ok := ParseLine(raw)
	if !ok {
		s.parseErrors.Add(1)
		return nil
	}
	ev, ok := s.translate(line)
	if !ok {
		return nil
	}
	return sink.Emit(ctx, ev)
}

// translate turns a probe hit into a sampler event. Hits from unwatched
// processes are dropped. With no watched entities every hit counts toward
// the system entity.
func (s *Session) translate(l Line) (sampler.Event, bool) {
	entity := sampler.SystemEntity
	if len(s.watched) > 0 {
		owner := l.Owner()
		if !s.watched[owner] {
			return sampler.Event{}, false
		}
		entity = sampler.EntityID(owner)
	}

	switch {
	case strings.HasPrefix(l.Event, eventPresent):
		return sampler.Event{Entity: entity, Metric: sampler.MetricPresents, Delta: 1}, true
	case strings.HasPrefix(l.Event, eventNetSend):
		size, ok := l.Uint("size")
		if !ok || size == 0 {
			return sampler.Event{}, false
		}
		return sampler.Event{Entity: entity, Metric: sampler.MetricBytesOut, Delta: size}, true
	case strings.HasPrefix(l.Event, eventNetRecv):
		ret, ok := l.Int("ret")
		if !ok || ret <= 0 {
			return sampler.Event{}, false
		}
		return sampler.Event{Entity: entity, Metric: sampler.MetricBytesIn, Delta: uint64(ret)}, true
	default:
		return sampler.Event{}, false
	}
}

// Close disables tracing and removes the instance and probes. It is safe
// to call on a session that never started.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.instance == "" {
		return nil
	}
	return s.teardownLocked(filepath.Dir(filepath.Dir(s.instance)))
}

func (s *Session) teardownLocked(root string) error {
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}

	if s.pipeFD >= 0 {
		keep(unix.Close(s.pipeFD))
		s.pipeFD = -1
	}

	if s.created {
		_ = writeControl(filepath.Join(s.instance, "tracing_on"), "0")
		_ = writeControl(filepath.Join(s.instance, "events", s.group, "enable"), "0")
		if err := os.Remove(s.instance); err != nil && !os.IsNotExist(err) {
			keep(err)
		}
		s.created = false
	}

	for _, p := range s.installed {
		if err := appendControl(filepath.Join(root, p.eventsFile()), p.Removal()); err != nil {
			s.log.Debug().Err(err).Str("probe", p.Definition()).Msg("Failed to remove probe")
			keep(err)
		}
	}
	s.installed = nil

	if first != nil {
		return errors.New().Wrap(errors.ErrShutdownFailed, first)
	}
	s.log.Debug().Msg("Trace session removed")
	return nil
}

func writeControl(path, value string) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	_, err = f.WriteString(value)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

// appendControl appends one definition. kprobe_events and uprobe_events
// must never be opened with O_TRUNC, which would clear every probe on the
// host.
func appendControl(path, line string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return err
	}
	_, err = f.WriteString(line + "\n")
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}
