package sampler_test

import (
	"context"
	"sync"
	"sync/atomic"

	"codeberg.org/mutker/procmon/internal/errors"
	"codeberg.org/mutker/procmon/internal/sampler"
)

type fakeStreamer struct {
	name     string
	startErr error
	events   []sampler.Event
	// exitErr makes Run return after emitting instead of blocking.
	exit    bool
	exitErr error

	emitted chan struct{}
	started atomic.Int32
	closed  atomic.Int32
	parse   atomic.Uint64
}

func newFakeStreamer(name string, events ...sampler.Event) *fakeStreamer {
	return &fakeStreamer{name: name, events: events, emitted: make(chan struct{})}
}

func (f *fakeStreamer) Name() string { return f.name }

func (f *fakeStreamer) Start(context.Context) error {
	f.started.Add(1)
	return f.startErr
}

func (f *fakeStreamer) Run(ctx context.Context, sink sampler.Sink) error {
	for _, ev := range f.events {
		if err := sink.Emit(ctx, ev); err != nil {
			return err
		}
	}
	close(f.emitted)
	if f.exit {
		return f.exitErr
	}
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeStreamer) Close() error {
	f.closed.Add(1)
	return nil
}

func (f *fakeStreamer) ParseErrors() uint64 { return f.parse.Load() }

type fakeProcess struct {
	mu         sync.Mutex
	refreshErr error
	refreshes  int
	cpu        map[sampler.EntityID]float64
	cpuErr     map[sampler.EntityID]error
	closed     int
}

func (f *fakeProcess) Name() string { return "fake-process" }

func (f *fakeProcess) Refresh(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	return f.refreshErr
}

func (f *fakeProcess) setRefreshErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshErr = err
}

func (f *fakeProcess) CPUUsage(e sampler.EntityID) (float64, error) {
	if err := f.cpuErr[e]; err != nil {
		return 0, err
	}
	v, ok := f.cpu[e]
	if !ok {
		return 0, errors.New().New(errors.ErrNotObserved)
	}
	return v, nil
}

func (f *fakeProcess) Memory(sampler.EntityID) (uint64, error)        { return 1 << 20, nil }
func (f *fakeProcess) VirtualMemory(sampler.EntityID) (uint64, error) { return 1 << 30, nil }
func (f *fakeProcess) CPUsUsage() ([]float64, error)                  { return []float64{10, 20}, nil }

func (f *fakeProcess) Close() error {
	f.closed++
	return nil
}

type fakeGPU struct{ closed int }

func (f *fakeGPU) Name() string                                   { return "fake-gpu" }
func (f *fakeGPU) Refresh(context.Context) error                  { return nil }
func (f *fakeGPU) ProcessUsage(sampler.EntityID) (float64, error) { return 42, nil }
func (f *fakeGPU) ProcessMemory(sampler.EntityID) (uint64, error) { return 512, nil }
func (f *fakeGPU) DevicesUsage() ([]float64, error)               { return []float64{55}, nil }
func (f *fakeGPU) Close() error                                   { f.closed++; return nil }

type fakeFrequency struct{}

func (fakeFrequency) Name() string                    { return "fake-cpufreq" }
func (fakeFrequency) Refresh(context.Context) error   { return nil }
func (fakeFrequency) Frequencies() ([]float64, error) { return []float64{3400, 3600}, nil }
func (fakeFrequency) Close() error                    { return nil }

type fakeSensors struct{}

func (fakeSensors) Name() string                        { return "fake-sensors" }
func (fakeSensors) Refresh(context.Context) error       { return nil }
func (fakeSensors) CPUTemperatures() ([]float64, error) { return []float64{55}, nil }
func (fakeSensors) GPUTemperatures() ([]float64, error) {
	return nil, errors.New().New(errors.ErrUnsupportedFeature)
}
func (fakeSensors) GPUPower() ([]float64, error)    { return []float64{120}, nil }
func (fakeSensors) SystemPower() ([]float64, error) { return []float64{15.5}, nil }
func (fakeSensors) Close() error                    { return nil }

type fakePrivileged struct {
	err    error
	closed int
}

func (f *fakePrivileged) Name() string { return "fake-privileged" }

func (f *fakePrivileged) KernelObjects(sampler.EntityID) (uint64, error) {
	if f.err != nil {
		return 0, f.err
	}
	return 64, nil
}

func (f *fakePrivileged) Threads(sampler.EntityID) (uint64, error) {
	if f.err != nil {
		return 0, f.err
	}
	return 8, nil
}

func (f *fakePrivileged) Close() error {
	f.closed++
	return nil
}

type traceCall struct {
	fps, net bool
}

type fakeFactory struct {
	shared bool

	trace      *fakeStreamer
	traceErr   error
	traceCalls []traceCall

	scraper    *fakeStreamer
	scraperErr error

	process    *fakeProcess
	processErr error

	gpu        *fakeGPU
	privileged *fakePrivileged
	privErr    error
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{
		shared:     true,
		trace:      newFakeStreamer("fake-trace"),
		scraper:    newFakeStreamer("fake-scraper"),
		process:    &fakeProcess{cpu: map[sampler.EntityID]float64{100: 12.5}},
		gpu:        &fakeGPU{},
		privileged: &fakePrivileged{},
	}
}

func (f *fakeFactory) SharedTraceSession() bool { return f.shared }

func (f *fakeFactory) TraceSession(_ []sampler.EntityID, fps, net bool) (sampler.Streamer, error) {
	f.traceCalls = append(f.traceCalls, traceCall{fps: fps, net: net})
	if f.traceErr != nil {
		return nil, f.traceErr
	}
	return f.trace, nil
}

func (f *fakeFactory) NetScraper([]sampler.EntityID) (sampler.Streamer, error) {
	if f.scraperErr != nil {
		return nil, f.scraperErr
	}
	return f.scraper, nil
}

func (f *fakeFactory) ProcessQuery([]sampler.EntityID) (sampler.ProcessQuery, error) {
	if f.processErr != nil {
		return nil, f.processErr
	}
	return f.process, nil
}

func (f *fakeFactory) GPUQuery([]sampler.EntityID) (sampler.GPUQuery, error) {
	return f.gpu, nil
}

func (f *fakeFactory) FrequencyQuery() (sampler.FrequencyQuery, error) {
	return fakeFrequency{}, nil
}

func (f *fakeFactory) SensorQuery() (sampler.SensorQuery, error) {
	return fakeSensors{}, nil
}

func (f *fakeFactory) PrivilegedQuery() (sampler.PrivilegedQuery, error) {
	if f.privErr != nil {
		return nil, f.privErr
	}
	return f.privileged, nil
}
