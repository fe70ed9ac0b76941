package gpu

import "github.com/NVIDIA/go-nvml/pkg/nvml"

// Device is the part of nvml.Device the monitor reads.
type Device interface {
	GetName() (string, nvml.Return)
	GetUtilizationRates() (nvml.Utilization, nvml.Return)
	GetProcessUtilization(lastSeenTimestamp uint64) ([]nvml.ProcessUtilizationSample, nvml.Return)
	GetComputeRunningProcesses() ([]nvml.ProcessInfo, nvml.Return)
	GetGraphicsRunningProcesses() ([]nvml.ProcessInfo, nvml.Return)
	GetTemperature(sensor nvml.TemperatureSensors) (uint32, nvml.Return)
	GetPowerUsage() (uint32, nvml.Return)
	GetNumFans() (int, nvml.Return)
	GetFanSpeed_v2(fan int) (uint32, nvml.Return)
}

// Library enumerates devices. The NVML implementation is shared process
// wide and shut down once by its owner.
type Library interface {
	Initialize() error
	Shutdown() error
	GetDeviceCount() (int, error)
	GetDevice(index int) (Device, error)
}

// Calculation combines one process's readings across devices.
type Calculation string

const (
	CalculationSum Calculation = "sum"
	CalculationMax Calculation = "max"
)

func (c Calculation) combine(acc, v float64) float64 {
	if c == CalculationSum {
		return acc + v
	}
	return max(acc, v)
}

const (
	milliWattsToWatts = 1000
)
