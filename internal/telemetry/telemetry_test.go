package telemetry

import (
	"io"
	"math"
	"net/http"
	"testing"
	"time"

	"codeberg.org/mutker/procmon/internal/errors"
	"codeberg.org/mutker/procmon/internal/host"
	"codeberg.org/mutker/procmon/internal/logger"
	"codeberg.org/mutker/procmon/internal/recorder"
	"codeberg.org/mutker/procmon/internal/sampler"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshot(cpu float64, presents uint64, producers ...sampler.ProducerStatus) *Snapshot {
	return &Snapshot{
		Tick: &recorder.Tick{
			Window: 500 * time.Millisecond,
			Samples: []recorder.Sample{
				{Entity: 100, Category: sampler.CategoryCPU, Value: cpu},
				{Entity: sampler.SystemEntity, Category: sampler.CategorySystemCPU, Index: 1, Value: 33},
			},
		},
		Events:    map[sampler.MetricKind]uint64{sampler.MetricPresents: presents},
		Producers: producers,
	}
}

func TestExporterObserve(t *testing.T) {
	e := newExporter([]host.Info{{PID: 100, Name: "game"}})

	require.NoError(t, e.Observe(snapshot(12.5, 30)))

	assert.Equal(t, 12.5, testutil.ToFloat64(e.process.WithLabelValues("100", "game", "cpu")))
	assert.Equal(t, 33.0, testutil.ToFloat64(e.system.WithLabelValues("sys_cpu", "1")))
	assert.Equal(t, 0.5, testutil.ToFloat64(e.window))
	assert.Equal(t, 30.0, testutil.ToFloat64(e.events.WithLabelValues("presents")))

	require.NoError(t, e.Observe(snapshot(math.NaN(), 45)))

	assert.Equal(t, 0, testutil.CollectAndCount(e.process), "failed reads are not exported")
	assert.Equal(t, 45.0, testutil.ToFloat64(e.events.WithLabelValues("presents")))
	assert.Equal(t, 2.0, testutil.ToFloat64(e.ticks))
}

func TestExporterProducers(t *testing.T) {
	e := newExporter(nil)

	trace := sampler.ProducerStatus{
		Name:        "trace-session",
		Features:    sampler.FeatureFPS | sampler.FeatureNetTraffic,
		ParseErrors: 3,
	}
	require.NoError(t, e.Observe(snapshot(1, 0, trace)))
	assert.Equal(t, 3.0, testutil.ToFloat64(e.parseErrors.WithLabelValues("trace-session")))

	trace.ParseErrors = 5
	trace.Err = errors.New().New(errors.ErrConsumerDisconnected)
	require.NoError(t, e.Observe(snapshot(1, 0, trace)))
	require.NoError(t, e.Observe(snapshot(1, 0, trace)))

	assert.Equal(t, 5.0, testutil.ToFloat64(e.parseErrors.WithLabelValues("trace-session")))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.disconnects.WithLabelValues("FPS")))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.disconnects.WithLabelValues("NET_TRAFFIC")))
}

func TestExporterRejectsEmptySnapshot(t *testing.T) {
	e := newExporter(nil)
	assert.True(t, errors.HasCode(e.Observe(nil), ErrInvalidMetrics))
	assert.True(t, errors.HasCode(e.Observe(&Snapshot{}), ErrInvalidMetrics))
}

func TestNewServiceDisabled(t *testing.T) {
	c, err := NewService(DefaultConfig(), nil, logger.Nop())
	require.NoError(t, err)
	assert.IsType(t, &noopCollector{}, c)
	assert.NoError(t, c.Observe(nil))
	assert.NoError(t, c.Close())
}

func TestNewServiceInvalidListen(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Listen = "no-port"

	_, err := NewService(cfg, nil, logger.Nop())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, ErrInvalidListen))
}

func TestServiceServesMetrics(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Listen = "127.0.0.1:0"

	c, err := NewService(cfg, []host.Info{{PID: 100, Name: "game"}}, logger.Nop())
	require.NoError(t, err)
	svc := c.(*service)
	defer svc.Close()

	require.NoError(t, c.Observe(snapshot(12.5, 30)))

	resp, err := http.Get("http://" + svc.Addr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `procmon_process_metric{category="cpu",name="game",pid="100"} 12.5`)
	assert.Contains(t, string(body), `procmon_events_total{metric="presents"} 30`)

	require.NoError(t, svc.Close())
}
