package sampler

import (
	"time"

	"codeberg.org/mutker/procmon/internal/errors"
)

// Features returns the set requested at construction.
func (s *System) Features() Feature {
	return s.features
}

// Entities returns the watched entities in ascending order.
func (s *System) Entities() []EntityID {
	out := make([]EntityID, len(s.entities))
	copy(out, s.entities)
	return out
}

// WindowDuration returns the elapsed time of the last window.
func (s *System) WindowDuration() time.Duration {
	return s.acc.LastDuration()
}

// lookup applies the degradation policy for one feature and returns the
// handle serving capability c.
func (s *System) lookup(f Feature, c capability) (*handle, error) {
	errFactory := errors.New()

	if !s.features.Has(f) {
		return nil, errFactory.WithData(ErrFeatureMissing, f.String())
	}
	if s.closed {
		return nil, errFactory.New(ErrClosed)
	}
	h, ok := s.reg.get(c)
	if !ok {
		return nil, errFactory.WithData(ErrFeatureMissing, f.String())
	}
	if err := h.available(); err != nil {
		return nil, err
	}
	return h, nil
}

func (s *System) rate(f Feature, c capability, e EntityID, m MetricKind) (float64, error) {
	if _, err := s.lookup(f, c); err != nil {
		return 0, err
	}
	r, ok := s.acc.Rate(e, m)
	if !ok {
		return 0, errors.New().WithData(ErrNotObserved, e.String())
	}
	return r, nil
}

func (s *System) processQuery() (ProcessQuery, error) {
	h, err := s.lookup(FeatureProcess, capProcess)
	if err != nil {
		return nil, err
	}
	return h.producer.(ProcessQuery), nil
}

func (s *System) gpuQuery() (GPUQuery, error) {
	h, err := s.lookup(FeatureGPU, capGPU)
	if err != nil {
		return nil, err
	}
	return h.producer.(GPUQuery), nil
}

func (s *System) sensorQuery() (SensorQuery, error) {
	h, err := s.lookup(FeatureSensors, capSensors)
	if err != nil {
		return nil, err
	}
	return h.producer.(SensorQuery), nil
}

// ProcessCPUUsage returns the CPU usage of e in percent of one logical CPU.
func (s *System) ProcessCPUUsage(e EntityID) (float64, error) {
	q, err := s.processQuery()
	if err != nil {
		return 0, err
	}
	return q.CPUUsage(e)
}

// ProcessMemory returns the resident set size of e in bytes.
func (s *System) ProcessMemory(e EntityID) (uint64, error) {
	q, err := s.processQuery()
	if err != nil {
		return 0, err
	}
	return q.Memory(e)
}

func (s *System) ProcessVirtualMemory(e EntityID) (uint64, error) {
	q, err := s.processQuery()
	if err != nil {
		return 0, err
	}
	return q.VirtualMemory(e)
}

// ProcessThreads runs a fresh OS query for the thread count of e.
func (s *System) ProcessThreads(e EntityID) (uint64, error) {
	if s.threadsErr != nil && !s.closed {
		return 0, s.threadsErr
	}
	h, err := s.lookup(FeatureProcess, capPrivileged)
	if err != nil {
		return 0, err
	}
	return h.producer.(PrivilegedQuery).Threads(e)
}

// ProcessKernelObjects runs a fresh OS query for the open descriptor count
// of e.
func (s *System) ProcessKernelObjects(e EntityID) (uint64, error) {
	h, err := s.lookup(FeatureKernelObjects, capPrivileged)
	if err != nil {
		return 0, err
	}
	return h.producer.(PrivilegedQuery).KernelObjects(e)
}

func (s *System) ProcessGPUUsage(e EntityID) (float64, error) {
	q, err := s.gpuQuery()
	if err != nil {
		return 0, err
	}
	return q.ProcessUsage(e)
}

func (s *System) ProcessGPUMemory(e EntityID) (uint64, error) {
	q, err := s.gpuQuery()
	if err != nil {
		return 0, err
	}
	return q.ProcessMemory(e)
}

// ProcessFPS returns frames presented per second by e over the last window.
func (s *System) ProcessFPS(e EntityID) (float64, error) {
	return s.rate(FeatureFPS, capFrames, e, MetricPresents)
}

// ProcessNetIn returns bytes received per second by e over the last window.
func (s *System) ProcessNetIn(e EntityID) (float64, error) {
	return s.rate(FeatureNetTraffic, capNet, e, MetricBytesIn)
}

// ProcessNetOut returns bytes sent per second by e over the last window.
func (s *System) ProcessNetOut(e EntityID) (float64, error) {
	return s.rate(FeatureNetTraffic, capNet, e, MetricBytesOut)
}

// CPUsUsage returns usage percent per logical CPU.
func (s *System) CPUsUsage() ([]float64, error) {
	q, err := s.processQuery()
	if err != nil {
		return nil, err
	}
	return q.CPUsUsage()
}

// CPUsFrequency returns MHz per logical CPU.
func (s *System) CPUsFrequency() ([]float64, error) {
	h, err := s.lookup(FeatureCPUFrequency, capFrequency)
	if err != nil {
		return nil, err
	}
	return h.producer.(FrequencyQuery).Frequencies()
}

// SystemGPUUsage returns usage percent per GPU device.
func (s *System) SystemGPUUsage() ([]float64, error) {
	q, err := s.gpuQuery()
	if err != nil {
		return nil, err
	}
	return q.DevicesUsage()
}

func (s *System) CPUsTemperature() ([]float64, error) {
	q, err := s.sensorQuery()
	if err != nil {
		return nil, err
	}
	return q.CPUTemperatures()
}

func (s *System) GPUsTemperature() ([]float64, error) {
	q, err := s.sensorQuery()
	if err != nil {
		return nil, err
	}
	return q.GPUTemperatures()
}

// GPUsPower returns watts per GPU device.
func (s *System) GPUsPower() ([]float64, error) {
	q, err := s.sensorQuery()
	if err != nil {
		return nil, err
	}
	return q.GPUPower()
}

// SystemPower returns watts per power supply.
func (s *System) SystemPower() ([]float64, error) {
	q, err := s.sensorQuery()
	if err != nil {
		return nil, err
	}
	return q.SystemPower()
}
