package scraper

import (
	"bufio"
	"context"
	stderrors "errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/procmon/internal/errors"
	"codeberg.org/mutker/procmon/internal/logger"
	"codeberg.org/mutker/procmon/internal/sampler"
)

const (
	maxLineLen  = 64 * 1024
	waitTimeout = 2 * time.Second
)

// Runner spawns a long-lived helper and turns its stdout into events. It
// implements sampler.Streamer.
type Runner struct {
	name    string
	path    string
	args    []string
	grammar Grammar
	log     logger.Logger

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdout io.ReadCloser
	cancel context.CancelFunc

	waitOnce sync.Once
	waitErr  error

	parseErrors atomic.Uint64
	lines       atomic.Uint64
}

func NewRunner(name, path string, args []string, grammar Grammar, log logger.Logger) *Runner {
	if log == nil {
		log = logger.Default()
	}
	return &Runner{
		name:    name,
		path:    path,
		args:    args,
		grammar: grammar,
		log:     log.With(name),
	}
}

func (r *Runner) Name() string {
	return r.name
}

func (r *Runner) ParseErrors() uint64 {
	return r.parseErrors.Load()
}

// Lines returns the number of lines read so far.
func (r *Runner) Lines() uint64 {
	return r.lines.Load()
}

// Start resolves and spawns the helper. The helper runs under its own
// context so it outlives ctx and is stopped by Close.
func (r *Runner) Start(_ context.Context) error {
	errFactory := errors.New()

	path, err := exec.LookPath(r.path)
	if err != nil {
		if stderrors.Is(err, os.ErrPermission) {
			return errFactory.Wrap(errors.ErrAccessDenied, err).WithData(r.path)
		}
		return errFactory.Wrap(errors.ErrUnsupportedFeature, errFactory.Wrap(ErrHelperMissing, err)).WithData(r.path)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(runCtx, path, r.args...)
	cmd.WaitDelay = waitTimeout

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return errFactory.Wrap(errors.ErrResourceInit, err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		if stderrors.Is(err, os.ErrPermission) {
			return errFactory.Wrap(errors.ErrAccessDenied, err).WithData(path)
		}
		return errFactory.Wrap(errors.ErrResourceInit, err).WithData(path)
	}

	r.mu.Lock()
	r.cmd, r.stdout, r.cancel = cmd, stdout, cancel
	r.mu.Unlock()

	r.log.Info().Str("path", path).Strs("args", r.args).Int("pid", cmd.Process.Pid).Msg("Helper started")

	return nil
}

// Run reads the helper's output until ctx is done or the helper exits. An
// exit while ctx is live is reported as ErrConsumerDisconnected.
func (r *Runner) Run(ctx context.Context, sink sampler.Sink) error {
	r.mu.Lock()
	stdout, cancel := r.stdout, r.cancel
	r.mu.Unlock()
	if stdout == nil {
		return errors.New().WithMessage(errors.ErrConsumerDisconnected, "helper not started")
	}

	// Unblock the scanner when ctx is cancelled.
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	eof, err := r.consume(ctx, stdout, sink)
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if !eof {
		// The helper is still writing into a pipe nobody reads.
		cancel()
	}

	exitErr := r.wait()
	r.log.Warn().Err(exitErr).Uint64("lines", r.Lines()).Msg("Helper exited")
	if exitErr == nil {
		return errors.New().WithData(errors.ErrConsumerDisconnected, ErrHelperExited)
	}
	return errors.New().Wrap(errors.ErrConsumerDisconnected, exitErr).WithData(ErrHelperExited)
}

// Consume parses r line by line and emits events. Unparseable lines are
// counted and skipped. It returns when the reader ends or sink fails.
func (r *Runner) Consume(ctx context.Context, rd io.Reader, sink sampler.Sink) error {
	_, err := r.consume(ctx, rd, sink)
	return err
}

// consume reports eof when rd ended cleanly rather than on a read error.
func (r *Runner) consume(ctx context.Context, rd io.Reader, sink sampler.Sink) (bool, error) {
	sc := bufio.NewScanner(rd)
	sc.Buffer(make([]byte, 0, 4096), maxLineLen)

	for sc.Scan() {
		r.lines.Add(1)
		line := sc.Text()

		events, ok := r.grammar.Parse(line)
		if !ok {
			if !r.grammar.Skippable(line) {
				r.parseErrors.Add(1)
			}
			continue
		}
		for _, ev := range events {
			if err := sink.Emit(ctx, ev); err != nil {
				return false, err
			}
		}
	}

	err := sc.Err()
	if err != nil && ctx.Err() == nil && !stderrors.Is(err, os.ErrClosed) {
		// Over-long line: the stream can't be resynchronised by bufio.
		r.parseErrors.Add(1)
		r.log.Debug().Err(err).Msg("Helper output unreadable")
	}

	return err == nil, nil
}

// wait reaps the helper once. Wait closes stdout, so it runs only after
// reading is done.
func (r *Runner) wait() error {
	r.waitOnce.Do(func() {
		r.waitErr = r.cmd.Wait()
	})
	return r.waitErr
}

// Close stops the helper and waits for it to exit.
func (r *Runner) Close() error {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	if err := r.wait(); err != nil {
		r.log.Debug().Err(err).Msg("Helper stopped")
	}

	return nil
}
