package host

import (
	"context"
	"strings"
	"sync"

	"codeberg.org/mutker/procmon/internal/errors"
	"codeberg.org/mutker/procmon/internal/logger"
	gohost "github.com/shirou/gopsutil/v3/host"
)

// GPUSensors is the per-device temperature and power reader of the GPU
// package.
type GPUSensors interface {
	Refresh() error
	Temperatures() ([]float64, error)
	Power() ([]float64, error)
}

// PowerSource returns watts per power supply.
type PowerSource func() ([]float64, error)

type temperatureSource func(ctx context.Context) ([]gohost.TemperatureStat, error)

// Sensor keys reported for the CPU package or cores.
var cpuSensorKeys = []string{"coretemp", "k10temp", "zenpower", "cpu", "x86_pkg_temp", "acpitz"}

type reading struct {
	values []float64
	err    error
}

// Sensors implements sampler.SensorQuery from hwmon temperatures, an
// optional GPU reader and an optional power source.
type Sensors struct {
	temperatures temperatureSource
	gpu          GPUSensors
	power        PowerSource
	log          logger.Logger

	mu      sync.RWMutex
	cpuTemp reading
	gpuTemp reading
	gpuPow  reading
	sysPow  reading
}

// NewSensors reads every source once and fails when none of them works.
// gpu and power may be nil.
func NewSensors(ctx context.Context, gpu GPUSensors, power PowerSource, log logger.Logger) (*Sensors, error) {
	return newSensors(ctx, gohost.SensorsTemperaturesWithContext, gpu, power, log)
}

func newSensors(ctx context.Context, temps temperatureSource, gpu GPUSensors, power PowerSource, log logger.Logger) (*Sensors, error) {
	if log == nil {
		log = logger.Default()
	}

	s := &Sensors{
		temperatures: temps,
		gpu:          gpu,
		power:        power,
		log:          log.With("sensors"),
	}

	_ = s.Refresh(ctx)

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cpuTemp.err != nil && s.gpuTemp.err != nil && s.gpuPow.err != nil && s.sysPow.err != nil {
		errFactory := errors.New()
		return nil, errFactory.Wrap(errors.ErrUnsupportedFeature, errFactory.Wrap(ErrNoSensors, s.cpuTemp.err))
	}

	return s, nil
}

func (s *Sensors) Name() string {
	return "sensors"
}

// Refresh reads every source. Each accessor reports its own source's error;
// Refresh fails only when no source could be read.
func (s *Sensors) Refresh(ctx context.Context) error {
	cpuTemp := s.readCPUTemperatures(ctx)

	var gpuTemp, gpuPow reading
	if s.gpu == nil {
		gpuTemp.err = unsupported("gpu sensors")
		gpuPow.err = gpuTemp.err
	} else {
		if err := s.gpu.Refresh(); err != nil {
			s.log.Debug().Err(err).Msg("GPU sensor refresh failed")
		}
		gpuTemp.values, gpuTemp.err = s.gpu.Temperatures()
		gpuPow.values, gpuPow.err = s.gpu.Power()
	}

	var sysPow reading
	if s.power == nil {
		sysPow.err = unsupported("power supply")
	} else {
		sysPow.values, sysPow.err = s.power()
	}

	s.mu.Lock()
	s.cpuTemp, s.gpuTemp, s.gpuPow, s.sysPow = cpuTemp, gpuTemp, gpuPow, sysPow
	s.mu.Unlock()

	var firstErr error
	for _, r := range []reading{cpuTemp, gpuTemp, gpuPow, sysPow} {
		switch {
		case r.err == nil:
			return nil
		case firstErr == nil && !errors.HasCode(r.err, errors.ErrUnsupportedFeature):
			firstErr = r.err
		}
	}

	return firstErr
}

func (s *Sensors) readCPUTemperatures(ctx context.Context) reading {
	stats, err := s.temperatures(ctx)
	// gopsutil returns partial results together with warnings
	if err != nil && len(stats) == 0 {
		return reading{err: classify(ErrSensorRead, err)}
	}

	var values []float64
	for _, st := range stats {
		if isCPUSensor(st.SensorKey) && st.Temperature > 0 {
			values = append(values, st.Temperature)
		}
	}
	if len(values) == 0 {
		return reading{err: unsupported("cpu temperature")}
	}

	return reading{values: values}
}

func isCPUSensor(key string) bool {
	key = strings.ToLower(key)
	for _, k := range cpuSensorKeys {
		if strings.HasPrefix(key, k) {
			return true
		}
	}
	return false
}

func unsupported(what string) errors.Error {
	return errors.New().WithData(errors.ErrUnsupportedFeature, what)
}

func (s *Sensors) get(r *reading) ([]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r.err != nil {
		return nil, r.err
	}
	return append([]float64(nil), r.values...), nil
}

// CPUTemperatures is degrees Celsius per CPU sensor.
func (s *Sensors) CPUTemperatures() ([]float64, error) { return s.get(&s.cpuTemp) }

func (s *Sensors) GPUTemperatures() ([]float64, error) { return s.get(&s.gpuTemp) }

// GPUPower is watts per device.
func (s *Sensors) GPUPower() ([]float64, error) { return s.get(&s.gpuPow) }

// SystemPower is watts per power supply.
func (s *Sensors) SystemPower() ([]float64, error) { return s.get(&s.sysPow) }

func (s *Sensors) Close() error {
	return nil
}
