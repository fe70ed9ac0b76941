package platform

import (
	"context"

	"codeberg.org/mutker/procmon/internal/config"
	"codeberg.org/mutker/procmon/internal/gpu"
	"codeberg.org/mutker/procmon/internal/host"
	"codeberg.org/mutker/procmon/internal/sampler"
)

// Factory builds the producers of this platform. It implements
// sampler.Factory.
type Factory struct {
	ctx *Context
}

var _ sampler.Factory = (*Factory)(nil)

func NewFactory(c *Context) *Factory {
	return &Factory{ctx: c}
}

func (f *Factory) ProcessQuery(entities []sampler.EntityID) (sampler.ProcessQuery, error) {
	q, err := host.NewProcessQuery(context.Background(), entities, f.ctx.opts.Log)
	if err != nil {
		return nil, err
	}
	return q, nil
}

func (f *Factory) GPUQuery(entities []sampler.EntityID) (sampler.GPUQuery, error) {
	lib, err := f.ctx.GPU()
	if err != nil {
		return nil, err
	}
	m, err := gpu.NewMonitor(lib, entities, f.ctx.opts.GPUCalculation, f.ctx.opts.Log)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// gpuSensors returns the NVML sensor reader, or nil when there is no GPU.
func (f *Factory) gpuSensors() host.GPUSensors {
	lib, err := f.ctx.GPU()
	if err != nil {
		return nil
	}
	r, err := gpu.NewSensorReader(lib, f.ctx.opts.Log)
	if err != nil {
		f.ctx.log.Debug().Err(err).Msg("GPU sensors unavailable")
		return nil
	}
	return r
}

func (f *Factory) SharedTraceSession() bool {
	return f.ctx.opts.NetSource == config.NetSourceTrace
}
