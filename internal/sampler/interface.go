package sampler

import (
	"context"
	"strconv"
)

// EntityID identifies a watched process. SystemEntity is reserved for
// system-wide aggregates.
type EntityID int32

const SystemEntity EntityID = -1

func (e EntityID) String() string {
	if e == SystemEntity {
		return "system"
	}
	return strconv.Itoa(int(e))
}

// MetricKind names a windowed counter.
type MetricKind uint8

const (
	MetricPresents MetricKind = iota
	MetricBytesIn
	MetricBytesOut

	metricCount
)

func (m MetricKind) String() string {
	switch m {
	case MetricPresents:
		return "presents"
	case MetricBytesIn:
		return "bytes_in"
	case MetricBytesOut:
		return "bytes_out"
	default:
		return "unknown"
	}
}

// Event is one delta pushed by a background producer.
type Event struct {
	Entity EntityID
	Metric MetricKind
	Delta  uint64
}

// Sink is the producer side of the event channel.
type Sink interface {
	// Emit blocks until the event is queued or ctx is done.
	Emit(ctx context.Context, ev Event) error
}

// Producer is the part every producer kind shares.
type Producer interface {
	Name() string
	Close() error
}

// Streamer is a producer owning a background loop: a trace session or a
// scraped subprocess.
type Streamer interface {
	Producer
	// Start opens the underlying resource. It must fail fast so that
	// construction can report the error.
	Start(ctx context.Context) error
	// Run pushes events into sink until ctx is cancelled or the source
	// ends.
	Run(ctx context.Context, sink Sink) error
}

// Refresher is a counter-query producer, refreshed once per Update.
type Refresher interface {
	Producer
	// Refresh fails only when the whole producer is unusable; that error
	// then masks every accessor it serves until a refresh succeeds. A read
	// that fails for one entity or one source is reported by its own
	// accessor instead.
	Refresh(ctx context.Context) error
}

// ParseErrorCounter is implemented by streamers that skip malformed input.
type ParseErrorCounter interface {
	ParseErrors() uint64
}

type ProcessQuery interface {
	Refresher
	// CPUUsage is percent of one logical CPU.
	CPUUsage(e EntityID) (float64, error)
	// Memory is resident set size in bytes.
	Memory(e EntityID) (uint64, error)
	VirtualMemory(e EntityID) (uint64, error)
	// CPUsUsage is percent per logical CPU.
	CPUsUsage() ([]float64, error)
}

type GPUQuery interface {
	Refresher
	ProcessUsage(e EntityID) (float64, error)
	ProcessMemory(e EntityID) (uint64, error)
	DevicesUsage() ([]float64, error)
}

type FrequencyQuery interface {
	Refresher
	// Frequencies is MHz per logical CPU.
	Frequencies() ([]float64, error)
}

type SensorQuery interface {
	Refresher
	CPUTemperatures() ([]float64, error)
	GPUTemperatures() ([]float64, error)
	GPUPower() ([]float64, error)
	SystemPower() ([]float64, error)
}

// PrivilegedQuery answers each call with a fresh OS query.
type PrivilegedQuery interface {
	Producer
	KernelObjects(e EntityID) (uint64, error)
	Threads(e EntityID) (uint64, error)
}

// Factory builds producers for one platform.
type Factory interface {
	// SharedTraceSession reports whether frame and network signals ride
	// the same trace session.
	SharedTraceSession() bool
	TraceSession(entities []EntityID, fps, net bool) (Streamer, error)
	NetScraper(entities []EntityID) (Streamer, error)
	ProcessQuery(entities []EntityID) (ProcessQuery, error)
	GPUQuery(entities []EntityID) (GPUQuery, error)
	FrequencyQuery() (FrequencyQuery, error)
	SensorQuery() (SensorQuery, error)
	PrivilegedQuery() (PrivilegedQuery, error)
}
