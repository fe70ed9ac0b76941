package gpu

import (
	"context"
	"math"
	"sync"

	"codeberg.org/mutker/procmon/internal/errors"
	"codeberg.org/mutker/procmon/internal/logger"
	"codeberg.org/mutker/procmon/internal/sampler"
	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

// Monitor answers per-process and per-device GPU usage. It implements
// sampler.GPUQuery.
type Monitor struct {
	devices []Device
	calc    Calculation
	watched map[sampler.EntityID]bool
	log     logger.Logger

	mu          sync.RWMutex
	lastSeen    []uint64
	usage       map[sampler.EntityID]float64
	memory      map[sampler.EntityID]uint64
	usageErr    error
	memoryErr   error
	deviceUsage []float64
	deviceErr   error
}

// NewMonitor opens every device lib reports. An unknown calc falls back to
// CalculationMax.
func NewMonitor(lib Library, entities []sampler.EntityID, calc Calculation, log logger.Logger) (*Monitor, error) {
	if log == nil {
		log = logger.Default()
	}
	if calc != CalculationSum {
		calc = CalculationMax
	}

	devices, err := openDevices(lib)
	if err != nil {
		return nil, err
	}

	m := &Monitor{
		devices:  devices,
		calc:     calc,
		watched:  make(map[sampler.EntityID]bool, len(entities)),
		log:      log.With("nvml"),
		lastSeen: make([]uint64, len(devices)),
		usage:    make(map[sampler.EntityID]float64),
		memory:   make(map[sampler.EntityID]uint64),
	}
	for _, e := range entities {
		m.watched[e] = true
	}

	for i, d := range devices {
		if name, ret := d.GetName(); IsNVMLSuccess(ret) {
			m.log.Info().Int("index", i).Str("name", name).Msg("Detected GPU")
		} else {
			m.log.Warn().Int("index", i).Err(newNVMLError(ret)).Msg("Failed to get GPU name")
		}
	}

	return m, nil
}

func (m *Monitor) Name() string {
	return "nvml"
}

// Refresh reads every device once. Per-process readings are combined across
// devices with the configured calculation. A read that fails on some devices
// only loses those devices; each accessor reports a read that failed on all
// of them. Refresh itself fails only when nothing could be read.
func (m *Monitor) Refresh(_ context.Context) error {
	deviceUsage := make([]float64, len(m.devices))
	usage := make(map[sampler.EntityID]float64)
	memory := make(map[sampler.EntityID]uint64)
	var deviceErr, usageErr, memoryErr error
	var utilOK, usageOK, memoryOK bool

	for i, d := range m.devices {
		rates, ret := d.GetUtilizationRates()
		if IsNVMLSuccess(ret) {
			deviceUsage[i] = float64(rates.Gpu)
			utilOK = true
		} else {
			deviceUsage[i] = math.NaN()
			deviceErr = firstOf(deviceErr, wrapReturn(ErrUtilizationFailed, ret))
			m.log.Debug().Int("index", i).Err(newNVMLError(ret)).Msg("Failed to read GPU utilization")
		}

		sm, err := m.processUtilization(i, d)
		if err != nil {
			usageErr = firstOf(usageErr, err)
			m.log.Debug().Int("index", i).Err(err).Msg("Failed to read process utilization")
		} else {
			usageOK = true
		}
		for pid, v := range sm {
			e := sampler.EntityID(pid)
			if m.tracked(e) {
				usage[e] = m.calc.combine(usage[e], v)
			}
		}

		mem, err := processMemory(d)
		if err != nil {
			memoryErr = firstOf(memoryErr, err)
			m.log.Debug().Int("index", i).Err(err).Msg("Failed to read process memory")
		} else {
			memoryOK = true
		}
		for pid, v := range mem {
			e := sampler.EntityID(pid)
			if m.tracked(e) {
				memory[e] = uint64(m.calc.combine(float64(memory[e]), float64(v)))
			}
		}
	}

	if utilOK {
		deviceErr = nil
	}
	if usageOK {
		usageErr = nil
	}
	if memoryOK {
		memoryErr = nil
	}

	m.mu.Lock()
	m.deviceUsage, m.deviceErr = deviceUsage, deviceErr
	m.usage, m.usageErr = usage, usageErr
	m.memory, m.memoryErr = memory, memoryErr
	m.mu.Unlock()

	if deviceErr != nil && usageErr != nil && memoryErr != nil {
		return deviceErr
	}
	return nil
}

func firstOf(have, err error) error {
	if have != nil {
		return have
	}
	return err
}

// processUtilization returns the highest SM utilisation per pid among the
// samples newer than the previous refresh.
func (m *Monitor) processUtilization(i int, d Device) (map[uint32]float64, error) {
	samples, ret := d.GetProcessUtilization(m.lastSeen[i])
	switch {
	case ret == nvml.ERROR_NOT_FOUND:
		// no process was sampled since lastSeen
		return nil, nil
	case !IsNVMLSuccess(ret):
		return nil, wrapReturn(ErrUtilizationFailed, ret)
	}

	out := make(map[uint32]float64, len(samples))
	for _, s := range samples {
		if s.TimeStamp > m.lastSeen[i] {
			m.lastSeen[i] = s.TimeStamp
		}
		out[s.Pid] = max(out[s.Pid], float64(s.SmUtil))
	}

	return out, nil
}

// processMemory merges compute and graphics contexts. A pid with both
// reports the same allocation twice, so the larger one wins. It fails only
// when neither list can be read.
func processMemory(d Device) (map[uint32]uint64, error) {
	out := make(map[uint32]uint64)
	var firstErr error
	read := false

	for _, list := range []func() ([]nvml.ProcessInfo, nvml.Return){
		d.GetComputeRunningProcesses,
		d.GetGraphicsRunningProcesses,
	} {
		procs, ret := list()
		if !IsNVMLSuccess(ret) {
			if firstErr == nil {
				firstErr = wrapReturn(ErrProcessesFailed, ret)
			}
			continue
		}
		read = true
		for _, p := range procs {
			out[p.Pid] = max(out[p.Pid], p.UsedGpuMemory)
		}
	}

	if read {
		return out, nil
	}
	return nil, firstErr
}

func (m *Monitor) tracked(e sampler.EntityID) bool {
	return len(m.watched) == 0 || m.watched[e]
}

// ProcessUsage is the SM utilisation percent of e. A watched process that
// holds no GPU context reads as 0.
func (m *Monitor) ProcessUsage(e sampler.EntityID) (float64, error) {
	if !m.watched[e] {
		return 0, errors.New().WithData(errors.ErrNotObserved, e.String())
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.usageErr != nil {
		return 0, m.usageErr
	}
	return m.usage[e], nil
}

// ProcessMemory is the GPU memory held by e in bytes.
func (m *Monitor) ProcessMemory(e sampler.EntityID) (uint64, error) {
	if !m.watched[e] {
		return 0, errors.New().WithData(errors.ErrNotObserved, e.String())
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.memoryErr != nil {
		return 0, m.memoryErr
	}
	return m.memory[e], nil
}

// DevicesUsage is the utilisation percent per device. A device whose read
// failed reports NaN.
func (m *Monitor) DevicesUsage() ([]float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.deviceErr != nil {
		return nil, m.deviceErr
	}
	if m.deviceUsage == nil {
		return nil, errors.New().WithMessage(errors.ErrNotObserved, "no GPU reading yet")
	}

	return append([]float64(nil), m.deviceUsage...), nil
}

// Close releases nothing: the library belongs to the platform context.
func (m *Monitor) Close() error {
	return nil
}
