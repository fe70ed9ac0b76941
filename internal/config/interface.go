package config

// Provider defines the interface for accessing configuration values.
// All values are immutable after loading.
type Provider interface {
	// GetInterval returns the sampling interval in seconds
	GetInterval() float64

	// GetTimes returns the number of ticks to record, 0 meaning until interrupted
	GetTimes() int

	// GetPIDs returns the explicitly watched process ids
	GetPIDs() []int

	// GetNames returns process names to discover at startup
	GetNames() []string

	// GetCategories returns the requested metric categories
	GetCategories() []string

	// GetOutputs returns the output file paths
	GetOutputs() []string

	// GetLogLevel returns the configured logging level
	GetLogLevel() string

	// GetMetricsListen returns the Prometheus listen address, empty when disabled
	GetMetricsListen() string
}

// Option defines a configuration option that can be passed to Load
type Option func(*options) error

// options holds internal configuration options
type options struct {
	args       []string
	argsSet    bool
	configPath string
	envPrefix  string
}

// WithArgs overrides the command line arguments parsed by Load.
// Default is os.Args[1:].
func WithArgs(args []string) Option {
	return func(o *options) error {
		o.args = args
		o.argsSet = true
		return nil
	}
}

// WithConfigFile specifies an explicit configuration file path
func WithConfigFile(path string) Option {
	return func(o *options) error {
		o.configPath = path
		return nil
	}
}

// WithEnvPrefix specifies a custom environment variable prefix
// Default is "PROCMON"
func WithEnvPrefix(prefix string) Option {
	return func(o *options) error {
		o.envPrefix = prefix
		return nil
	}
}

// LogLevel represents valid logging levels
type LogLevel string

const (
	LogLevelDebug   LogLevel = "debug"
	LogLevelInfo    LogLevel = "info"
	LogLevelWarning LogLevel = "warning"
	LogLevelError   LogLevel = "error"
)

// IsValid returns whether the log level is valid
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarning, LogLevelError:
		return true
	default:
		return false
	}
}

// String implements the Stringer interface
func (l LogLevel) String() string {
	return string(l)
}

// Network traffic sources
const (
	NetSourceTrace   = "trace"
	NetSourceScraper = "scraper"
)

// GPU usage combination modes
const (
	GPUCalculationSum = "sum"
	GPUCalculationMax = "max"
)
