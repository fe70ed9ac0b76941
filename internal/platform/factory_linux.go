package platform

import (
	"context"

	"codeberg.org/mutker/procmon/internal/host"
	"codeberg.org/mutker/procmon/internal/sampler"
	"codeberg.org/mutker/procmon/internal/scraper"
	"codeberg.org/mutker/procmon/internal/tracefs"
)

func (f *Factory) TraceSession(entities []sampler.EntityID, fps, net bool) (sampler.Streamer, error) {
	return tracefs.New(tracefs.Config{
		Root:          f.ctx.opts.TraceRoot,
		Entities:      entities,
		Frames:        fps,
		Net:           net,
		PresentProbes: f.ctx.opts.PresentProbes,
		Log:           f.ctx.opts.Log,
	}), nil
}

func (f *Factory) NetScraper(entities []sampler.EntityID) (sampler.Streamer, error) {
	o := f.ctx.opts
	return scraper.NewNethogsRunner(o.NethogsPath, o.NethogsDelay, entities, o.Log), nil
}

func (f *Factory) FrequencyQuery() (sampler.FrequencyQuery, error) {
	q, err := host.NewFrequency(f.ctx.os.sys)
	if err != nil {
		return nil, err
	}
	return q, nil
}

func (f *Factory) SensorQuery() (sampler.SensorQuery, error) {
	s, err := host.NewSensors(context.Background(), f.gpuSensors(), host.SysfsPower(f.ctx.os.sys), f.ctx.opts.Log)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (f *Factory) PrivilegedQuery() (sampler.PrivilegedQuery, error) {
	return host.NewPrivileged(f.ctx.os.proc), nil
}
