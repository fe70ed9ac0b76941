//go:build !linux

package platform

import (
	"codeberg.org/mutker/procmon/internal/errors"
	"codeberg.org/mutker/procmon/internal/sampler"
)

func unsupported(what string) error {
	return errors.New().WithData(errors.ErrUnsupportedFeature, what)
}

func (f *Factory) TraceSession([]sampler.EntityID, bool, bool) (sampler.Streamer, error) {
	return nil, unsupported("trace session")
}

func (f *Factory) NetScraper([]sampler.EntityID) (sampler.Streamer, error) {
	return nil, unsupported("net scraper")
}

func (f *Factory) FrequencyQuery() (sampler.FrequencyQuery, error) {
	return nil, unsupported("cpu frequency")
}

func (f *Factory) SensorQuery() (sampler.SensorQuery, error) {
	return nil, unsupported("sensors")
}

func (f *Factory) PrivilegedQuery() (sampler.PrivilegedQuery, error) {
	return nil, unsupported("privileged query")
}
