package sampler

import (
	"math"
	"time"
)

// MinWindow is the floor applied to the elapsed time of a window.
const MinWindow = time.Millisecond

type counters [metricCount]uint64

type rates [metricCount]float64

// Accumulator holds raw counters and derived rates per entity. It is owned
// by a single goroutine and is not safe for concurrent use.
type Accumulator struct {
	raw          map[EntityID]*counters
	rates        map[EntityID]*rates
	lastUpdate   time.Time
	lastDuration time.Duration
}

func NewAccumulator(start time.Time) *Accumulator {
	return &Accumulator{
		raw:        make(map[EntityID]*counters),
		rates:      make(map[EntityID]*rates),
		lastUpdate: start,
	}
}

// Register makes e known so that idle windows report a zero rate for it.
func (a *Accumulator) Register(e EntityID) {
	if _, ok := a.raw[e]; ok {
		return
	}
	a.raw[e] = &counters{}
	a.rates[e] = &rates{}
}

// Add applies ev as a saturating sum.
func (a *Accumulator) Add(ev Event) {
	if ev.Metric >= metricCount {
		return
	}
	a.Register(ev.Entity)
	c := a.raw[ev.Entity]
	c[ev.Metric] = saturatingAdd(c[ev.Metric], ev.Delta)
}

// Window closes the current window at now: every rate becomes raw/elapsed,
// raw counters are zeroed and now becomes the start of the next window.
// It returns the elapsed duration used as the denominator.
func (a *Accumulator) Window(now time.Time) time.Duration {
	elapsed := now.Sub(a.lastUpdate)
	if elapsed < MinWindow {
		elapsed = MinWindow
	}
	secs := elapsed.Seconds()

	for e, c := range a.raw {
		r := a.rates[e]
		for m := range c {
			r[m] = float64(c[m]) / secs
			c[m] = 0
		}
	}

	a.lastUpdate = now
	a.lastDuration = elapsed

	return elapsed
}

// Rate returns the rate of m for e over the last window. ok is false when
// e has never been observed.
func (a *Accumulator) Rate(e EntityID, m MetricKind) (float64, bool) {
	r, ok := a.rates[e]
	if !ok || m >= metricCount {
		return 0, false
	}
	return r[m], true
}

// Raw returns the pending counter of m for e.
func (a *Accumulator) Raw(e EntityID, m MetricKind) uint64 {
	c, ok := a.raw[e]
	if !ok || m >= metricCount {
		return 0
	}
	return c[m]
}

func (a *Accumulator) LastDuration() time.Duration {
	return a.lastDuration
}

func (a *Accumulator) Entities() []EntityID {
	out := make([]EntityID, 0, len(a.raw))
	for e := range a.raw {
		out = append(out, e)
	}
	return out
}

func saturatingAdd(a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}
