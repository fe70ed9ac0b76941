package sampler

import (
	"context"
	"sync"

	"codeberg.org/mutker/procmon/internal/errors"
	"codeberg.org/mutker/procmon/internal/logger"
	"github.com/looplab/fsm"
)

// Producer lifecycle states
const (
	StateUninitialized = "uninitialized"
	StateInitializing  = "initializing"
	StateRunning       = "running"
	StateFailed        = "failed"
	StateStopped       = "stopped"
)

const (
	eventInitialize = "initialize"
	eventReady      = "ready"
	eventFail       = "fail"
	eventStop       = "stop"
)

// handle owns one producer instance and its lifecycle. A handle shared by
// several features is registered under each of them.
type handle struct {
	producer Producer
	features Feature
	fsm      *fsm.FSM
	log      logger.Logger

	// set on the foreground goroutine only
	disconnected error
	refreshErr   error

	closeOnce sync.Once
	closeErr  error
}

func newHandle(p Producer, log logger.Logger) *handle {
	h := &handle{producer: p, log: log.With(p.Name())}
	h.fsm = fsm.NewFSM(
		StateUninitialized,
		fsm.Events{
			{Name: eventInitialize, Src: []string{StateUninitialized}, Dst: StateInitializing},
			{Name: eventReady, Src: []string{StateInitializing}, Dst: StateRunning},
			{Name: eventFail, Src: []string{StateInitializing}, Dst: StateFailed},
			{Name: eventStop, Src: []string{StateRunning}, Dst: StateStopped},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				h.log.Debug().Str("from", e.Src).Str("to", e.Dst).Msg("Producer state changed")
			},
		},
	)
	return h
}

func (h *handle) name() string {
	return h.producer.Name()
}

func (h *handle) state() string {
	return h.fsm.Current()
}

func (h *handle) transition(ctx context.Context, event string) {
	if !h.fsm.Can(event) {
		return
	}
	if err := h.fsm.Event(ctx, event); err != nil {
		h.log.Debug().Err(err).Str("event", event).Msg("Producer transition rejected")
	}
}

// start moves the handle through initializing into running or failed.
// Streamers open their resource here.
func (h *handle) start(ctx context.Context) error {
	h.transition(ctx, eventInitialize)

	if s, ok := h.producer.(Streamer); ok {
		if err := s.Start(ctx); err != nil {
			h.transition(ctx, eventFail)
			return err
		}
	}

	h.transition(ctx, eventReady)
	return nil
}

// stop closes the producer once and moves a running handle to stopped.
func (h *handle) stop(ctx context.Context) error {
	h.closeOnce.Do(func() {
		h.closeErr = h.producer.Close()
	})
	h.transition(ctx, eventStop)
	return h.closeErr
}

// disconnect marks the handle as permanently unavailable.
func (h *handle) disconnect(ctx context.Context, err error) {
	if h.disconnected != nil {
		return
	}
	if !errors.HasCode(err, ErrConsumerDisconnected) {
		err = errors.New().Wrap(ErrConsumerDisconnected, err)
	}
	h.disconnected = err
	h.transition(ctx, eventStop)
}

// available returns the error an accessor should report for this handle,
// or nil.
func (h *handle) available() error {
	if h.disconnected != nil {
		return h.disconnected
	}
	return h.refreshErr
}

// message travels on the single event channel: either an event or a
// status notice from a streamer that stopped on its own.
type message struct {
	event  Event
	status *status
}

type status struct {
	h   *handle
	err error
}

type channelSink struct {
	ch chan<- message
}

func (s channelSink) Emit(ctx context.Context, ev Event) error {
	select {
	case s.ch <- message{event: ev}:
		return nil
	case <-ctx.Done():
		return errors.New().Wrap(ErrConsumerDisconnected, ctx.Err())
	}
}
