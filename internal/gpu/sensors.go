package gpu

import (
	"sync"

	"codeberg.org/mutker/procmon/internal/errors"
	"codeberg.org/mutker/procmon/internal/logger"
	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

// SensorReader reads board temperature and power draw per device.
type SensorReader struct {
	devices  []Device
	fanCount []int
	log      logger.Logger

	mu           sync.RWMutex
	temperatures []float64
	tempErr      error
	power        []float64
	powerErr     error
}

func NewSensorReader(lib Library, log logger.Logger) (*SensorReader, error) {
	if log == nil {
		log = logger.Default()
	}

	devices, err := openDevices(lib)
	if err != nil {
		return nil, err
	}

	r := &SensorReader{
		devices:  devices,
		fanCount: make([]int, len(devices)),
		log:      log.With("nvml-sensors"),
	}
	for i, d := range devices {
		if count, ret := d.GetNumFans(); IsNVMLSuccess(ret) {
			r.fanCount[i] = count
		}
		r.log.Debug().Int("index", i).Int("fans", r.fanCount[i]).Msg("Detected fans")
	}

	return r, nil
}

// Refresh reads every sensor once and returns the first failure.
func (r *SensorReader) Refresh() error {
	temps := make([]float64, len(r.devices))
	power := make([]float64, len(r.devices))
	var tempErr, powerErr error

	for i, d := range r.devices {
		if t, ret := d.GetTemperature(nvml.TEMPERATURE_GPU); IsNVMLSuccess(ret) {
			temps[i] = float64(t)
		} else if tempErr == nil {
			tempErr = wrapReturn(ErrTemperatureFailed, ret)
		}

		if mw, ret := d.GetPowerUsage(); IsNVMLSuccess(ret) {
			power[i] = float64(mw) / milliWattsToWatts
		} else if powerErr == nil {
			powerErr = wrapReturn(ErrPowerReadFailed, ret)
		}

		r.logFans(i, d)
	}

	r.mu.Lock()
	r.temperatures, r.tempErr = temps, tempErr
	r.power, r.powerErr = power, powerErr
	r.mu.Unlock()

	if tempErr != nil {
		return tempErr
	}
	return powerErr
}

func (r *SensorReader) logFans(i int, d Device) {
	if r.fanCount[i] == 0 {
		return
	}
	speeds := make([]int, 0, r.fanCount[i])
	for fan := 0; fan < r.fanCount[i]; fan++ {
		speed, ret := d.GetFanSpeed_v2(fan)
		if !IsNVMLSuccess(ret) {
			return
		}
		speeds = append(speeds, int(speed))
	}
	r.log.Debug().Int("index", i).Ints("speeds", speeds).Msg("Fan speeds")
}

// Temperatures is degrees Celsius per device.
func (r *SensorReader) Temperatures() ([]float64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return snapshot(r.temperatures, r.tempErr)
}

// Power is watts per device.
func (r *SensorReader) Power() ([]float64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return snapshot(r.power, r.powerErr)
}

func snapshot(values []float64, err error) ([]float64, error) {
	if err != nil {
		return nil, err
	}
	if values == nil {
		return nil, errors.New().WithMessage(errors.ErrNotObserved, "no GPU sensor reading yet")
	}
	return append([]float64(nil), values...), nil
}
