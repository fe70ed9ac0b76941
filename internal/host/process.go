package host

import (
	"context"
	stderrors "errors"
	"sync"

	"codeberg.org/mutker/procmon/internal/errors"
	"codeberg.org/mutker/procmon/internal/logger"
	"codeberg.org/mutker/procmon/internal/sampler"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/process"
)

type processReading struct {
	cpu  float64
	rss  uint64
	vms  uint64
	err  error
	gone bool
}

// ProcessQuery reads CPU and memory of the watched processes, plus per-CPU
// system usage. It implements sampler.ProcessQuery.
type ProcessQuery struct {
	procs map[sampler.EntityID]*process.Process
	log   logger.Logger

	mu       sync.RWMutex
	readings map[sampler.EntityID]processReading
	cpus     []float64
	cpusErr  error
}

// NewProcessQuery primes the CPU counters so the first Refresh already
// reports usage since construction. A pid that no longer exists is kept and
// reported as not observed.
func NewProcessQuery(ctx context.Context, entities []sampler.EntityID, log logger.Logger) (*ProcessQuery, error) {
	if log == nil {
		log = logger.Default()
	}

	q := &ProcessQuery{
		procs:    make(map[sampler.EntityID]*process.Process, len(entities)),
		log:      log.With("process"),
		readings: make(map[sampler.EntityID]processReading, len(entities)),
	}

	for _, e := range entities {
		p, err := process.NewProcessWithContext(ctx, int32(e))
		if err != nil {
			q.log.Warn().Int32("pid", int32(e)).Err(err).Msg("Process not found")
			q.readings[e] = processReading{gone: true}
			continue
		}
		if _, err := p.PercentWithContext(ctx, 0); err != nil {
			q.log.Debug().Int32("pid", int32(e)).Err(err).Msg("Failed to prime CPU counter")
		}
		q.procs[e] = p
	}

	if _, err := cpu.PercentWithContext(ctx, 0, true); err != nil {
		return nil, classify(ErrCPURead, err)
	}

	return q, nil
}

func (q *ProcessQuery) Name() string {
	return "process"
}

// Refresh reads every watched process once. A vanished process is dropped
// and not an error. A failed read stays with its own accessor; Refresh fails
// only when nothing could be read.
func (q *ProcessQuery) Refresh(ctx context.Context) error {
	readings := make(map[sampler.EntityID]processReading, len(q.procs))

	for e, p := range q.procs {
		r := q.read(ctx, p)
		if r.gone {
			q.log.Info().Int32("pid", int32(e)).Msg("Process exited")
			delete(q.procs, e)
		} else if r.err != nil {
			q.log.Debug().Int32("pid", int32(e)).Err(r.err).Msg("Process read failed")
		}
		readings[e] = r
	}

	cpus, cpusErr := cpu.PercentWithContext(ctx, 0, true)
	if cpusErr != nil {
		cpusErr = classify(ErrCPURead, cpusErr)
	}

	q.mu.Lock()
	for e, r := range readings {
		q.readings[e] = r
	}
	q.cpus, q.cpusErr = cpus, cpusErr
	q.mu.Unlock()

	return refreshError(readings, cpusErr)
}

// refreshError is cpusErr when no process could be read either.
func refreshError(readings map[sampler.EntityID]processReading, cpusErr error) error {
	if cpusErr == nil {
		return nil
	}
	for _, r := range readings {
		if r.err == nil && !r.gone {
			return nil
		}
	}
	return cpusErr
}

func (q *ProcessQuery) read(ctx context.Context, p *process.Process) processReading {
	if running, err := p.IsRunningWithContext(ctx); err == nil && !running {
		return processReading{gone: true}
	}

	var r processReading
	var err error

	if r.cpu, err = p.PercentWithContext(ctx, 0); err != nil {
		return readFailure(err)
	}

	mem, err := p.MemoryInfoWithContext(ctx)
	if err != nil {
		return readFailure(err)
	}
	r.rss, r.vms = mem.RSS, mem.VMS

	return r
}

func readFailure(err error) processReading {
	if stderrors.Is(err, process.ErrorProcessNotRunning) {
		return processReading{gone: true}
	}
	e := classify(ErrProcessRead, err)
	return processReading{err: e, gone: errors.HasCode(e, errors.ErrNotObserved)}
}

func (q *ProcessQuery) reading(e sampler.EntityID) (processReading, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	r, ok := q.readings[e]
	switch {
	case !ok:
		return r, notObserved(e.String())
	case r.gone:
		return r, errors.New().WithMessage(errors.ErrNotObserved, "process exited").WithData(e.String())
	case r.err != nil:
		return r, r.err
	}
	return r, nil
}

// CPUUsage is percent of one logical CPU, so a busy multithreaded process
// can exceed 100.
func (q *ProcessQuery) CPUUsage(e sampler.EntityID) (float64, error) {
	r, err := q.reading(e)
	return r.cpu, err
}

func (q *ProcessQuery) Memory(e sampler.EntityID) (uint64, error) {
	r, err := q.reading(e)
	return r.rss, err
}

func (q *ProcessQuery) VirtualMemory(e sampler.EntityID) (uint64, error) {
	r, err := q.reading(e)
	return r.vms, err
}

func (q *ProcessQuery) CPUsUsage() ([]float64, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.cpusErr != nil {
		return nil, q.cpusErr
	}
	if q.cpus == nil {
		return nil, notObserved("cpus")
	}
	return append([]float64(nil), q.cpus...), nil
}

func (q *ProcessQuery) Close() error {
	return nil
}
