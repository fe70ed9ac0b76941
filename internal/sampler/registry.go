package sampler

import "context"

// capability keys the producer registry. Several features can resolve to
// one capability, and one handle can serve several capabilities.
type capability uint8

const (
	capProcess capability = iota
	capGPU
	capFrequency
	capSensors
	capFrames
	capNet
	capPrivileged
)

// registry maps capabilities to producer handles and remembers the unique
// handles in construction order.
type registry struct {
	byCap   map[capability]*handle
	handles []*handle
}

func newRegistry() *registry {
	return &registry{byCap: make(map[capability]*handle)}
}

func (r *registry) add(h *handle, caps ...capability) {
	r.handles = append(r.handles, h)
	for _, c := range caps {
		r.byCap[c] = h
	}
}

func (r *registry) get(c capability) (*handle, bool) {
	h, ok := r.byCap[c]
	return h, ok
}

// build asks the factory for the minimal set of producers covering the
// requested features. On error every producer built so far is closed.
func (s *System) build(ctx context.Context, f Factory) (err error) {
	defer func() {
		if err != nil {
			s.teardown(ctx)
		}
	}()

	wantFPS := s.features.Has(FeatureFPS)
	wantNet := s.features.Has(FeatureNetTraffic)

	switch {
	case (wantFPS || wantNet) && f.SharedTraceSession():
		var served Feature
		var caps []capability
		if wantFPS {
			served |= FeatureFPS
			caps = append(caps, capFrames)
		}
		if wantNet {
			served |= FeatureNetTraffic
			caps = append(caps, capNet)
		}
		st, err := f.TraceSession(s.entities, wantFPS, wantNet)
		if err != nil {
			return featureError(served, err)
		}
		s.register(st, served, caps...)
	default:
		if wantFPS {
			st, err := f.TraceSession(s.entities, true, false)
			if err != nil {
				return featureError(FeatureFPS, err)
			}
			s.register(st, FeatureFPS, capFrames)
		}
		if wantNet {
			sc, err := f.NetScraper(s.entities)
			if err != nil {
				return featureError(FeatureNetTraffic, err)
			}
			s.register(sc, FeatureNetTraffic, capNet)
		}
	}

	if s.features.Has(FeatureProcess) {
		q, err := f.ProcessQuery(s.entities)
		if err != nil {
			return featureError(FeatureProcess, err)
		}
		s.register(q, FeatureProcess, capProcess)
	}

	if s.features.Has(FeatureGPU) {
		q, err := f.GPUQuery(s.entities)
		if err != nil {
			return featureError(FeatureGPU, err)
		}
		s.register(q, FeatureGPU, capGPU)
	}

	if s.features.Has(FeatureCPUFrequency) {
		q, err := f.FrequencyQuery()
		if err != nil {
			return featureError(FeatureCPUFrequency, err)
		}
		s.register(q, FeatureCPUFrequency, capFrequency)
	}

	if s.features.Has(FeatureSensors) {
		q, err := f.SensorQuery()
		if err != nil {
			return featureError(FeatureSensors, err)
		}
		s.register(q, FeatureSensors, capSensors)
	}

	// Thread counts and kernel object counts share one privileged query.
	// Only kernel objects require it; without it threads alone degrade.
	if privileged := s.features & (FeatureProcess | FeatureKernelObjects); privileged != FeatureNone {
		q, err := f.PrivilegedQuery()
		switch {
		case err == nil:
			s.register(q, privileged, capPrivileged)
		case s.features.Has(FeatureKernelObjects):
			return featureError(FeatureKernelObjects, err)
		default:
			s.threadsErr = featureError(FeatureProcess, err)
			s.log.Info().Err(err).Msg("Thread counts unavailable")
		}
	}

	for _, h := range s.reg.handles {
		if err := h.start(ctx); err != nil {
			return featureError(h.features, err)
		}
	}

	return nil
}

func (s *System) register(p Producer, served Feature, caps ...capability) {
	h := newHandle(p, s.log)
	h.features = served
	s.reg.add(h, caps...)
}
