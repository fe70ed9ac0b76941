package sampler

import "codeberg.org/mutker/procmon/internal/errors"

// ProcessValue reads a per-entity category as a float64. Byte and count
// readings are converted as is.
func (s *System) ProcessValue(c Category, e EntityID) (float64, error) {
	switch c {
	case CategoryCPU:
		return s.ProcessCPUUsage(e)
	case CategoryMemory:
		return asFloat(s.ProcessMemory(e))
	case CategoryVirtualMemory:
		return asFloat(s.ProcessVirtualMemory(e))
	case CategoryThreads:
		return asFloat(s.ProcessThreads(e))
	case CategoryGPU:
		return s.ProcessGPUUsage(e)
	case CategoryGPUMemory:
		return asFloat(s.ProcessGPUMemory(e))
	case CategoryFPS:
		return s.ProcessFPS(e)
	case CategoryNetIn:
		return s.ProcessNetIn(e)
	case CategoryNetOut:
		return s.ProcessNetOut(e)
	case CategoryKernelObjects:
		return asFloat(s.ProcessKernelObjects(e))
	default:
		return 0, errors.New().WithData(errors.ErrInvalidArgument, string(c))
	}
}

// SystemValues reads a system-wide category, one value per CPU, device or
// supply.
func (s *System) SystemValues(c Category) ([]float64, error) {
	switch c {
	case CategorySystemCPU:
		return s.CPUsUsage()
	case CategorySystemCPUFrequency:
		return s.CPUsFrequency()
	case CategorySystemGPU:
		return s.SystemGPUUsage()
	case CategorySystemCPUTemp:
		return s.CPUsTemperature()
	case CategorySystemGPUTemp:
		return s.GPUsTemperature()
	case CategorySystemGPUPower:
		return s.GPUsPower()
	case CategorySystemPower:
		return s.SystemPower()
	default:
		return nil, errors.New().WithData(errors.ErrInvalidArgument, string(c))
	}
}

func asFloat(v uint64, err error) (float64, error) {
	return float64(v), err
}
