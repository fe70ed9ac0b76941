package telemetry

import (
	"codeberg.org/mutker/procmon/internal/recorder"
	"codeberg.org/mutker/procmon/internal/sampler"
)

// Collector defines the core domain interface
type Collector interface {
	Observe(snapshot *Snapshot) error
	Close() error
}

// Snapshot is what one tick exposes.
type Snapshot struct {
	Tick      *recorder.Tick
	Events    map[sampler.MetricKind]uint64
	Producers []sampler.ProducerStatus
}
