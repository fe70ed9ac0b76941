package telemetry

import (
	"math"
	"strconv"
	"sync"

	"codeberg.org/mutker/procmon/internal/errors"
	"codeberg.org/mutker/procmon/internal/host"
	"codeberg.org/mutker/procmon/internal/sampler"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// exporter mirrors every tick into Prometheus metrics on its own registry.
type exporter struct {
	registry *prometheus.Registry
	names    map[sampler.EntityID]string

	process     *prometheus.GaugeVec
	system      *prometheus.GaugeVec
	window      prometheus.Gauge
	ticks       prometheus.Counter
	events      *prometheus.CounterVec
	parseErrors *prometheus.CounterVec
	disconnects *prometheus.CounterVec

	mu           sync.Mutex
	lastEvents   map[sampler.MetricKind]uint64
	lastParse    map[string]uint64
	disconnected map[string]bool
}

func newExporter(entities []host.Info) *exporter {
	e := &exporter{
		registry: prometheus.NewRegistry(),
		names:    make(map[sampler.EntityID]string, len(entities)),
		process: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "process_metric",
			Help:      "Latest per-process reading by category.",
		}, []string{"pid", "name", "category"}),
		system: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "system_metric",
			Help:      "Latest system-wide reading by category and CPU, device or supply index.",
		}, []string{"category", "index"}),
		window: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "window_seconds",
			Help:      "Length of the last sampling window.",
		}),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Sampling ticks recorded.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Sum of deltas received from background producers.",
		}, []string{"metric"}),
		parseErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_errors_total",
			Help:      "Malformed producer lines skipped.",
		}, []string{"source"}),
		disconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "producer_disconnects_total",
			Help:      "Producers that stopped while sampling was running.",
		}, []string{"feature"}),
		lastEvents:   make(map[sampler.MetricKind]uint64),
		lastParse:    make(map[string]uint64),
		disconnected: make(map[string]bool),
	}

	for _, info := range entities {
		e.names[info.PID] = info.Name
	}

	e.registry.MustRegister(
		e.process, e.system, e.window, e.ticks,
		e.events, e.parseErrors, e.disconnects,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: namespace}),
	)

	return e
}

func (e *exporter) Observe(snapshot *Snapshot) error {
	if snapshot == nil || snapshot.Tick == nil {
		return errors.New().New(ErrInvalidMetrics)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	tick := snapshot.Tick
	e.window.Set(tick.Window.Seconds())
	e.ticks.Inc()

	for _, s := range tick.Samples {
		if s.Entity == sampler.SystemEntity {
			setOrDelete(e.system, s.Value, string(s.Category), strconv.Itoa(s.Index))
			continue
		}
		setOrDelete(e.process, s.Value, s.Entity.String(), e.names[s.Entity], string(s.Category))
	}

	for m, total := range snapshot.Events {
		if last := e.lastEvents[m]; total > last {
			e.events.WithLabelValues(m.String()).Add(float64(total - last))
		}
		e.lastEvents[m] = total
	}

	for _, p := range snapshot.Producers {
		if p.ParseErrors > e.lastParse[p.Name] {
			e.parseErrors.WithLabelValues(p.Name).Add(float64(p.ParseErrors - e.lastParse[p.Name]))
		}
		e.lastParse[p.Name] = p.ParseErrors

		if e.disconnected[p.Name] || !errors.HasCode(p.Err, errors.ErrConsumerDisconnected) {
			continue
		}
		e.disconnected[p.Name] = true
		for _, f := range p.Features.Features() {
			e.disconnects.WithLabelValues(f.String()).Inc()
		}
	}

	return nil
}

// setOrDelete drops the series of a failed read instead of exporting NaN.
func setOrDelete(vec *prometheus.GaugeVec, v float64, labels ...string) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		vec.DeleteLabelValues(labels...)
		return
	}
	vec.WithLabelValues(labels...).Set(v)
}
