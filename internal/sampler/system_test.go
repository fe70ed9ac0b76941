package sampler_test

import (
	"context"
	"io"
	"math/rand"
	"testing"
	"time"

	"codeberg.org/mutker/procmon/internal/errors"
	"codeberg.org/mutker/procmon/internal/logger"
	"codeberg.org/mutker/procmon/internal/sampler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func newSystem(t *testing.T, f sampler.Factory, features sampler.Feature, entities ...sampler.EntityID) *sampler.System {
	t.Helper()

	sys, err := sampler.New(context.Background(), f, features, entities,
		sampler.WithLogger(logger.Nop()),
		sampler.WithStart(t0),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sys.Close() })

	return sys
}

func waitEmitted(t *testing.T, s *fakeStreamer) {
	t.Helper()
	select {
	case <-s.emitted:
	case <-time.After(5 * time.Second):
		t.Fatalf("%s never finished emitting", s.name)
	}
}

func presents(e sampler.EntityID, n int) []sampler.Event {
	out := make([]sampler.Event, n)
	for i := range out {
		out[i] = sampler.Event{Entity: e, Metric: sampler.MetricPresents, Delta: 1}
	}
	return out
}

func TestMissingFeatureAlwaysFails(t *testing.T) {
	f := newFakeFactory()
	sys := newSystem(t, f, sampler.FeatureProcess)

	for i := 0; i < 3; i++ {
		_, err := sys.ProcessGPUUsage(100)
		require.Error(t, err)
		assert.True(t, errors.HasCode(err, errors.ErrFeatureMissing))

		_, err = sys.ProcessFPS(100)
		assert.True(t, errors.HasCode(err, errors.ErrFeatureMissing))

		_, err = sys.ProcessKernelObjects(100)
		assert.True(t, errors.HasCode(err, errors.ErrFeatureMissing))

		_, err = sys.CPUsTemperature()
		assert.True(t, errors.HasCode(err, errors.ErrFeatureMissing))

		sys.Update(context.Background(), t0.Add(time.Duration(i+1)*time.Second))
	}

	assert.Empty(t, f.traceCalls, "no trace session for unrequested features")
}

func TestFrameRate(t *testing.T) {
	f := newFakeFactory()
	f.trace = newFakeStreamer("fake-trace", presents(100, 30)...)

	sys := newSystem(t, f, sampler.FeatureFPS, 100)
	waitEmitted(t, f.trace)

	elapsed := sys.Update(context.Background(), t0.Add(time.Second))
	assert.Equal(t, time.Second, elapsed)

	fps, err := sys.ProcessFPS(100)
	require.NoError(t, err)
	assert.InDelta(t, 30.0, fps, 0.01)
	assert.Equal(t, time.Second, sys.WindowDuration())
	assert.Equal(t, uint64(30), sys.EventTotal(sampler.MetricPresents))
}

func TestNetTrafficRate(t *testing.T) {
	f := newFakeFactory()
	f.trace = newFakeStreamer("fake-trace",
		sampler.Event{Entity: 200, Metric: sampler.MetricBytesIn, Delta: 1024},
		sampler.Event{Entity: 200, Metric: sampler.MetricBytesIn, Delta: 1024},
		sampler.Event{Entity: 200, Metric: sampler.MetricBytesOut, Delta: 100},
	)

	sys := newSystem(t, f, sampler.FeatureNetTraffic, 200)
	waitEmitted(t, f.trace)

	sys.Update(context.Background(), t0.Add(500*time.Millisecond))

	in, err := sys.ProcessNetIn(200)
	require.NoError(t, err)
	assert.InDelta(t, 4096.0, in, 1e-9)

	out, err := sys.ProcessNetOut(200)
	require.NoError(t, err)
	assert.InDelta(t, 200.0, out, 1e-9)

	// Entities first seen through events are observed too; others are not.
	_, err = sys.ProcessNetIn(999)
	assert.True(t, errors.HasCode(err, errors.ErrNotObserved))
}

func TestIdleWindowResetsToZero(t *testing.T) {
	f := newFakeFactory()
	f.trace = newFakeStreamer("fake-trace", presents(100, 10)...)

	sys := newSystem(t, f, sampler.FeatureFPS, 100)
	waitEmitted(t, f.trace)

	sys.Update(context.Background(), t0.Add(time.Second))
	fps, err := sys.ProcessFPS(100)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, fps, 1e-9)

	sys.Update(context.Background(), t0.Add(2*time.Second))
	fps, err = sys.ProcessFPS(100)
	require.NoError(t, err)
	assert.Zero(t, fps)
}

func TestRegisteredEntityReportsZeroBeforeEvents(t *testing.T) {
	f := newFakeFactory()
	sys := newSystem(t, f, sampler.FeatureFPS, 100)

	sys.Update(context.Background(), t0.Add(time.Second))

	fps, err := sys.ProcessFPS(100)
	require.NoError(t, err)
	assert.Zero(t, fps)
}

func TestSharedTraceSession(t *testing.T) {
	f := newFakeFactory()
	sys := newSystem(t, f, sampler.FeatureFPS|sampler.FeatureNetTraffic, 100)

	require.Len(t, f.traceCalls, 1)
	assert.Equal(t, traceCall{fps: true, net: true}, f.traceCalls[0])
	assert.Equal(t, int32(1), f.trace.started.Load())
	assert.Equal(t, int32(0), f.scraper.started.Load())

	producers := sys.Producers()
	require.Len(t, producers, 1)
	assert.Equal(t, sampler.FeatureFPS|sampler.FeatureNetTraffic, producers[0].Features)
	assert.Equal(t, sampler.StateRunning, producers[0].State)
}

func TestSeparateNetScraper(t *testing.T) {
	f := newFakeFactory()
	f.shared = false
	sys := newSystem(t, f, sampler.FeatureFPS|sampler.FeatureNetTraffic, 100)

	require.Len(t, f.traceCalls, 1)
	assert.Equal(t, traceCall{fps: true, net: false}, f.traceCalls[0])
	assert.Equal(t, int32(1), f.scraper.started.Load())
	assert.Len(t, sys.Producers(), 2)
}

func TestPrivilegedQueryShared(t *testing.T) {
	f := newFakeFactory()
	sys := newSystem(t, f, sampler.FeatureProcess|sampler.FeatureKernelObjects, 100)

	threads, err := sys.ProcessThreads(100)
	require.NoError(t, err)
	assert.Equal(t, uint64(8), threads)

	kobj, err := sys.ProcessKernelObjects(100)
	require.NoError(t, err)
	assert.Equal(t, uint64(64), kobj)

	var privileged int
	for _, p := range sys.Producers() {
		if p.Name == "fake-privileged" {
			privileged++
		}
	}
	assert.Equal(t, 1, privileged)
}

func TestConstructionAccessDeniedFailsFast(t *testing.T) {
	f := newFakeFactory()
	f.trace.startErr = errors.New().New(errors.ErrAccessDenied)

	sys, err := sampler.New(context.Background(), f,
		sampler.FeatureFPS|sampler.FeatureProcess, []sampler.EntityID{100},
		sampler.WithLogger(logger.Nop()))
	require.Error(t, err)
	assert.Nil(t, sys)

	assert.True(t, errors.HasCode(err, errors.ErrAccessDenied))
	var appErr errors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, errors.ErrAccessDenied, appErr.Code())
	assert.Equal(t, "FPS", appErr.GetData())

	// Every producer built before the failure is closed.
	assert.Equal(t, int32(1), f.trace.closed.Load())
	assert.Equal(t, 1, f.process.closed)
	assert.Equal(t, 1, f.privileged.closed)
}

func TestConstructionFactoryErrorClosesEarlierProducers(t *testing.T) {
	f := newFakeFactory()
	f.privErr = errors.New().New(errors.ErrUnsupportedFeature)

	_, err := sampler.New(context.Background(), f,
		sampler.FeatureFPS|sampler.FeatureKernelObjects, []sampler.EntityID{100},
		sampler.WithLogger(logger.Nop()))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrUnsupportedFeature))
	assert.Contains(t, err.Error(), "KERNEL_OBJECTS")

	assert.Equal(t, int32(1), f.trace.closed.Load())
	assert.Equal(t, int32(0), f.trace.started.Load(), "nothing starts once a factory call fails")
}

func TestConstructionUntypedErrorIsResourceInit(t *testing.T) {
	f := newFakeFactory()
	f.processErr = io.ErrUnexpectedEOF

	_, err := sampler.New(context.Background(), f, sampler.FeatureProcess, nil,
		sampler.WithLogger(logger.Nop()))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrResourceInit))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestConstructionValidation(t *testing.T) {
	f := newFakeFactory()

	_, err := sampler.New(context.Background(), f, sampler.FeatureProcess, []sampler.EntityID{0},
		sampler.WithLogger(logger.Nop()))
	assert.True(t, errors.HasCode(err, errors.ErrInvalidArgument))

	_, err = sampler.New(context.Background(), f, sampler.Feature(1<<20), nil,
		sampler.WithLogger(logger.Nop()))
	assert.True(t, errors.HasCode(err, sampler.ErrInvalidFeatures))

	_, err = sampler.New(context.Background(), f, sampler.FeatureProcess, nil,
		sampler.WithLogger(logger.Nop()), sampler.WithChannelCapacity(0))
	assert.True(t, errors.HasCode(err, errors.ErrInvalidArgument))
}

func TestStreamerExitDisconnects(t *testing.T) {
	f := newFakeFactory()
	f.trace = newFakeStreamer("fake-trace", presents(100, 5)...)
	f.trace.exit = true
	f.trace.exitErr = io.ErrUnexpectedEOF

	sys := newSystem(t, f, sampler.FeatureFPS|sampler.FeatureProcess, 100)
	waitEmitted(t, f.trace)

	now := t0
	require.Eventually(t, func() bool {
		now = now.Add(time.Second)
		sys.Update(context.Background(), now)
		_, err := sys.ProcessFPS(100)
		return errors.HasCode(err, errors.ErrConsumerDisconnected)
	}, 5*time.Second, 10*time.Millisecond)

	_, err := sys.ProcessFPS(100)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	// Other categories keep working.
	cpu, err := sys.ProcessCPUUsage(100)
	require.NoError(t, err)
	assert.InDelta(t, 12.5, cpu, 1e-9)

	for _, p := range sys.Producers() {
		if p.Name == "fake-trace" {
			assert.Equal(t, sampler.StateStopped, p.State)
			assert.Error(t, p.Err)
		}
	}
}

func TestRefreshErrorIsSoft(t *testing.T) {
	f := newFakeFactory()
	sys := newSystem(t, f, sampler.FeatureProcess|sampler.FeatureGPU, 100)

	f.process.setRefreshErr(errors.New().New(errors.ErrAccessDenied))
	sys.Update(context.Background(), t0.Add(time.Second))

	_, err := sys.ProcessCPUUsage(100)
	assert.True(t, errors.HasCode(err, errors.ErrAccessDenied))

	gpu, err := sys.ProcessGPUUsage(100)
	require.NoError(t, err)
	assert.InDelta(t, 42.0, gpu, 1e-9)

	f.process.setRefreshErr(nil)
	sys.Update(context.Background(), t0.Add(2*time.Second))

	cpu, err := sys.ProcessCPUUsage(100)
	require.NoError(t, err)
	assert.InDelta(t, 12.5, cpu, 1e-9)
}

func TestUpdateWithNonIncreasingTime(t *testing.T) {
	f := newFakeFactory()
	sys := newSystem(t, f, sampler.FeatureFPS, 100)

	assert.NotPanics(t, func() {
		assert.Equal(t, sampler.MinWindow, sys.Update(context.Background(), t0))
		assert.Equal(t, sampler.MinWindow, sys.Update(context.Background(), t0.Add(-time.Hour)))
	})
}

func TestSystemWideAccessors(t *testing.T) {
	f := newFakeFactory()
	sys := newSystem(t, f,
		sampler.FeatureProcess|sampler.FeatureGPU|sampler.FeatureCPUFrequency|sampler.FeatureSensors)
	sys.Update(context.Background(), t0.Add(time.Second))

	cpus, err := sys.CPUsUsage()
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 20}, cpus)

	freq, err := sys.CPUsFrequency()
	require.NoError(t, err)
	assert.Equal(t, []float64{3400, 3600}, freq)

	gpus, err := sys.SystemGPUUsage()
	require.NoError(t, err)
	assert.Equal(t, []float64{55}, gpus)

	temps, err := sys.CPUsTemperature()
	require.NoError(t, err)
	assert.Equal(t, []float64{55}, temps)

	_, err = sys.GPUsTemperature()
	assert.True(t, errors.HasCode(err, errors.ErrUnsupportedFeature))

	power, err := sys.SystemPower()
	require.NoError(t, err)
	assert.Equal(t, []float64{15.5}, power)
}

func TestCloseStopsEverything(t *testing.T) {
	f := newFakeFactory()
	sys, err := sampler.New(context.Background(), f,
		sampler.FeatureFPS|sampler.FeatureProcess, []sampler.EntityID{100},
		sampler.WithLogger(logger.Nop()))
	require.NoError(t, err)

	require.NoError(t, sys.Close())
	require.NoError(t, sys.Close())

	assert.Equal(t, int32(1), f.trace.closed.Load())
	assert.Equal(t, 1, f.process.closed)
	for _, p := range sys.Producers() {
		assert.Equal(t, sampler.StateStopped, p.State, p.Name)
	}

	_, err = sys.ProcessCPUUsage(100)
	assert.True(t, errors.HasCode(err, sampler.ErrClosed))
	assert.Zero(t, sys.Update(context.Background(), t0.Add(time.Second)))
}

func TestProcessWithoutPrivilegedQuery(t *testing.T) {
	f := newFakeFactory()
	f.privErr = errors.New().New(errors.ErrUnsupportedFeature)

	sys := newSystem(t, f, sampler.FeatureProcess, 100)
	sys.Update(context.Background(), t0.Add(time.Second))

	cpu, err := sys.ProcessCPUUsage(100)
	require.NoError(t, err)
	assert.InDelta(t, 12.5, cpu, 1e-9)

	cpus, err := sys.CPUsUsage()
	require.NoError(t, err)
	assert.Len(t, cpus, 2)

	_, err = sys.ProcessThreads(100)
	assert.True(t, errors.HasCode(err, errors.ErrUnsupportedFeature))

	_, err = sys.ProcessKernelObjects(100)
	assert.True(t, errors.HasCode(err, errors.ErrFeatureMissing))

	for _, p := range sys.Producers() {
		assert.NotEqual(t, "fake-privileged", p.Name)
	}
}

func TestKernelObjectsRequirePrivilegedQuery(t *testing.T) {
	f := newFakeFactory()
	f.privErr = errors.New().New(errors.ErrAccessDenied)

	_, err := sampler.New(context.Background(), f,
		sampler.FeatureProcess|sampler.FeatureKernelObjects, []sampler.EntityID{100},
		sampler.WithLogger(logger.Nop()))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrAccessDenied))

	var appErr errors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "KERNEL_OBJECTS", appErr.GetData())
	assert.Equal(t, 1, f.process.closed)
}

func TestFailedReadStaysWithItsEntity(t *testing.T) {
	f := newFakeFactory()
	f.process.cpu[200] = 3
	f.process.cpuErr = map[sampler.EntityID]error{100: errors.New().New(errors.ErrAccessDenied)}

	sys := newSystem(t, f, sampler.FeatureProcess, 100, 200)
	sys.Update(context.Background(), t0.Add(time.Second))

	_, err := sys.ProcessCPUUsage(100)
	assert.True(t, errors.HasCode(err, errors.ErrAccessDenied))

	cpu, err := sys.ProcessCPUUsage(200)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, cpu, 1e-9)

	cpus, err := sys.CPUsUsage()
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 20}, cpus)

	for _, p := range sys.Producers() {
		if p.Name == "fake-process" {
			assert.NoError(t, p.Err)
		}
	}
}

// One multiset of events split across two streamers in different orders
// drains into identical rates.
func TestSystemRatesCommutative(t *testing.T) {
	var events []sampler.Event
	for i := 0; i < 2000; i++ {
		events = append(events, sampler.Event{
			Entity: sampler.EntityID(1 + i%5),
			Metric: sampler.MetricKind(i % 3),
			Delta:  uint64(i%17 + 1),
		})
	}
	entities := []sampler.EntityID{1, 2, 3, 4, 5}

	run := func(seed int64, split int) map[sampler.EntityID][3]float64 {
		shuffled := make([]sampler.Event, len(events))
		copy(shuffled, events)
		rng := rand.New(rand.NewSource(seed))
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

		f := newFakeFactory()
		f.shared = false
		f.trace = newFakeStreamer("fake-trace", shuffled[:split]...)
		f.scraper = newFakeStreamer("fake-scraper", shuffled[split:]...)

		sys, err := sampler.New(context.Background(), f,
			sampler.FeatureFPS|sampler.FeatureNetTraffic, entities,
			sampler.WithLogger(logger.Nop()),
			sampler.WithStart(t0),
		)
		require.NoError(t, err)
		defer sys.Close()

		waitEmitted(t, f.trace)
		waitEmitted(t, f.scraper)
		sys.Update(context.Background(), t0.Add(1500*time.Millisecond))

		out := make(map[sampler.EntityID][3]float64)
		for _, e := range entities {
			var r [3]float64
			r[0], err = sys.ProcessFPS(e)
			require.NoError(t, err)
			r[1], err = sys.ProcessNetIn(e)
			require.NoError(t, err)
			r[2], err = sys.ProcessNetOut(e)
			require.NoError(t, err)
			out[e] = r
		}
		return out
	}

	first := run(1, 700)
	assert.Equal(t, first, run(2, 1300))
	assert.Equal(t, first, run(3, 0))
	assert.Positive(t, first[1][0])
}
