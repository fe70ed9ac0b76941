package recorder

import (
	"context"
	"math"
	"time"

	"codeberg.org/mutker/procmon/internal/errors"
	"codeberg.org/mutker/procmon/internal/host"
	"codeberg.org/mutker/procmon/internal/logger"
	"codeberg.org/mutker/procmon/internal/sampler"
	"github.com/google/uuid"
)

type seriesKey struct {
	entity   sampler.EntityID
	category sampler.Category
}

// Recorder keeps every series of a run in memory and forwards each tick to
// the configured writers.
type Recorder struct {
	run     Run
	writers []Writer
	logger  logger.Logger

	ticks   int
	process map[seriesKey]*Series
	system  map[sampler.Category][]*Series
	last    map[seriesKey]errors.ErrorCode
	current *Tick
	closed  bool
}

// New opens every output in cfg. Without outputs the run is only kept in
// memory for the summary.
func New(cfg Config, run Run, log logger.Logger) (*Recorder, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}
	if log == nil {
		log = logger.Default()
	}
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.Started.IsZero() {
		run.Started = time.Now()
	}

	r := &Recorder{
		run:     run,
		logger:  log.With("recorder"),
		process: make(map[seriesKey]*Series),
		system:  make(map[sampler.Category][]*Series),
		last:    make(map[seriesKey]errors.ErrorCode),
	}

	for _, out := range cfg.Outputs {
		w, err := r.open(out, cfg)
		if err != nil {
			r.closeWriters()
			return nil, err
		}
		r.writers = append(r.writers, w)
	}
	if len(r.writers) == 0 {
		r.logger.Debug().Msg("No output configured, using no-op writer")
		r.writers = append(r.writers, noopWriter{})
	}

	for _, c := range run.Categories {
		if !c.PerProcess() {
			continue
		}
		for _, e := range run.Entities {
			r.process[seriesKey{entity: e.PID, category: c}] = newSeries(0)
		}
	}

	return r, nil
}

func (r *Recorder) open(path string, cfg Config) (Writer, error) {
	kind, err := KindOf(path)
	if err != nil {
		return nil, err
	}
	if kind == OutputSQLite {
		return newRepository(path, cfg, &r.run, r.logger)
	}
	return newJSONWriter(path, r.logger)
}

// Run returns the run description.
func (r *Recorder) Run() Run {
	return r.run
}

// Ticks returns the number of recorded ticks.
func (r *Recorder) Ticks() int {
	return r.ticks
}

// LastTick returns the most recently recorded tick, or nil before the first.
func (r *Recorder) LastTick() *Tick {
	return r.current
}

// Record reads every category from src. A failed read is logged when its
// error changes and recorded as NaN.
func (r *Recorder) Record(ctx context.Context, now time.Time, window time.Duration, src Source) error {
	errFactory := errors.New()

	select {
	case <-ctx.Done():
		return errFactory.Wrap(ErrOperationTimeout, ctx.Err())
	default:
	}
	if r.closed {
		return errFactory.WithMessage(ErrStorageWrite, "recorder closed")
	}

	tick := &Tick{Index: r.ticks, Timestamp: now, Window: window}

	for _, c := range r.run.Categories {
		if c.PerProcess() {
			for _, e := range r.run.Entities {
				v, err := src.ProcessValue(c, e.PID)
				v = r.check(seriesKey{entity: e.PID, category: c}, v, err)
				r.process[seriesKey{entity: e.PID, category: c}].Append(v)
				tick.Samples = append(tick.Samples, Sample{Entity: e.PID, Category: c, Value: v})
			}
			continue
		}

		values, err := src.SystemValues(c)
		r.check(seriesKey{entity: sampler.SystemEntity, category: c}, 0, err)
		series := r.systemSeries(c, len(values))
		for i, s := range series {
			v := math.NaN()
			if err == nil && i < len(values) {
				v = values[i]
			}
			s.Append(v)
			tick.Samples = append(tick.Samples, Sample{Entity: sampler.SystemEntity, Category: c, Index: i, Value: v})
		}
	}

	r.ticks++
	r.current = tick

	var firstErr error
	for _, w := range r.writers {
		if err := w.Record(tick); err != nil && firstErr == nil {
			firstErr = errFactory.Wrap(ErrStorageWrite, err)
		}
	}

	return firstErr
}

// check returns v, or NaN when err is set.
func (r *Recorder) check(key seriesKey, v float64, err error) float64 {
	if err == nil {
		delete(r.last, key)
		return v
	}

	code := errors.CodeOf(err)
	if r.last[key] != code {
		r.last[key] = code
		r.logger.Debug().
			Str("entity", key.entity.String()).
			Str("category", string(key.category)).
			Err(err).
			Msg("Read failed")
	}
	return math.NaN()
}

// systemSeries grows the series of c to at least n, padding new ones with
// NaN for the ticks before they appeared.
func (r *Recorder) systemSeries(c sampler.Category, n int) []*Series {
	series := r.system[c]
	for len(series) < n {
		series = append(series, newSeries(r.ticks))
	}
	r.system[c] = series
	return series
}

// Report assembles the end-of-run document.
func (r *Recorder) Report() *Report {
	report := &Report{
		Run:       r.run,
		Ticks:     r.ticks,
		Processes: make([]ProcessReport, 0, len(r.run.Entities)),
		System:    make(map[sampler.Category][]SeriesReport),
	}

	for _, e := range r.run.Entities {
		pr := ProcessReport{Info: e, Metrics: make(map[sampler.Category]SeriesReport)}
		for _, c := range r.run.Categories {
			if s, ok := r.process[seriesKey{entity: e.PID, category: c}]; ok {
				pr.Metrics[c] = seriesReport(0, s)
			}
		}
		report.Processes = append(report.Processes, pr)
	}

	for c, series := range r.system {
		out := make([]SeriesReport, len(series))
		for i, s := range series {
			out[i] = seriesReport(i, s)
		}
		report.System[c] = out
	}

	return report
}

func seriesReport(i int, s *Series) SeriesReport {
	return SeriesReport{Index: i, Average: nullable(s.Average()), Max: nullable(s.Max()), Values: s}
}

// Summary returns average and max per entity and category, system
// categories first averaged across their indices.
func (r *Recorder) Summary() []Summary {
	var out []Summary

	for _, e := range r.run.Entities {
		for _, c := range r.run.Categories {
			s, ok := r.process[seriesKey{entity: e.PID, category: c}]
			if !ok {
				continue
			}
			out = append(out, Summary{Entity: label(e), Category: c, Average: s.Average(), Max: s.Max()})
		}
	}

	for _, c := range r.run.Categories {
		series, ok := r.system[c]
		if !ok || len(series) == 0 {
			continue
		}
		combined := newSeries(0)
		for i := 0; i < r.ticks; i++ {
			var sum float64
			var n int
			for _, s := range series {
				if v := s.values[i]; !math.IsNaN(v) {
					sum += v
					n++
				}
			}
			if n == 0 {
				combined.Append(math.NaN())
			} else {
				combined.Append(sum / float64(n))
			}
		}
		out = append(out, Summary{Entity: "system", Category: c, Average: combined.Average(), Max: combined.Max()})
	}

	return out
}

func label(e host.Info) string {
	if e.Name == "" {
		return e.PID.String()
	}
	return e.Name + "(" + e.PID.String() + ")"
}

// Close hands the report to every writer and closes them.
func (r *Recorder) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	errFactory := errors.New()
	report := r.Report()

	var firstErr error
	for _, w := range r.writers {
		if err := w.Finish(report); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := r.closeWriters(); err != nil && firstErr == nil {
		firstErr = err
	}
	if firstErr != nil {
		return errFactory.Wrap(ErrStorageClose, firstErr)
	}

	return nil
}

func (r *Recorder) closeWriters() error {
	var firstErr error
	for _, w := range r.writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
