package config

import (
	"os"
	"strings"

	"codeberg.org/mutker/procmon/internal/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultEnvPrefix       = "PROCMON"
	DefaultLogLevel        = string(LogLevelInfo)
	DefaultInterval        = 1.0
	DefaultTimes           = 30
	DefaultChannelCapacity = 16384

	configName = "procmon"
	configType = "toml"
	configDir  = "/etc"
)

// DefaultCategories is used when no category was requested.
var DefaultCategories = []string{"cpu", "mem"}

// DefaultPresentProbes are the library:symbol pairs probed for frame presentation.
var DefaultPresentProbes = []string{
	"libvulkan.so.1:vkQueuePresentKHR",
	"libEGL.so.1:eglSwapBuffers",
	"libGLX.so.0:glXSwapBuffers",
}

type Config struct {
	Interval        float64
	Times           int
	PIDs            []int
	Names           []string
	RecurseChildren bool
	Categories      []string
	Outputs         []string
	LogLevel        string
	MetricsListen   string
	NetSource       string
	TraceRoot       string
	GPUCalculation  string
	PresentProbes   []string
	NethogsPath     string
	ChannelCapacity int
	RuntimeDir      string
}

// flag name -> viper key
var flagKeys = map[string]string{
	"interval":         "interval",
	"times":            "times",
	"pid":              "pids",
	"name":             "names",
	"recurse-children": "recurse_children",
	"category":         "categories",
	"output":           "outputs",
	"log-level":        "log_level",
	"metrics-listen":   "metrics_listen",
	"net-source":       "net_source",
	"trace-root":       "trace_root",
	"gpu-calculation":  "gpu_calculation",
	"runtime-dir":      "runtime_dir",
}

// Load reads configuration from flags, environment and an optional TOML
// file, in that order of precedence.
func Load(opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := &options{envPrefix: DefaultEnvPrefix}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
		}
	}
	if !o.argsSet {
		o.args = os.Args[1:]
	}

	fs := newFlagSet()
	if err := fs.Parse(o.args); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for name, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return nil, errFactory.Wrap(errors.ErrBindFlags, err)
		}
	}

	if err := readConfigFile(v, fs, o); err != nil {
		return nil, err
	}

	cfg := &Config{
		Interval:        v.GetFloat64("interval"),
		Times:           v.GetInt("times"),
		PIDs:            v.GetIntSlice("pids"),
		Names:           v.GetStringSlice("names"),
		RecurseChildren: v.GetBool("recurse_children"),
		Categories:      v.GetStringSlice("categories"),
		Outputs:         v.GetStringSlice("outputs"),
		LogLevel:        v.GetString("log_level"),
		MetricsListen:   v.GetString("metrics_listen"),
		NetSource:       v.GetString("net_source"),
		TraceRoot:       v.GetString("trace_root"),
		GPUCalculation:  v.GetString("gpu_calculation"),
		PresentProbes:   v.GetStringSlice("present_probes"),
		NethogsPath:     v.GetString("nethogs_path"),
		ChannelCapacity: v.GetInt("channel_capacity"),
		RuntimeDir:      v.GetString("runtime_dir"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("procmon", pflag.ContinueOnError)
	fs.Float64P("interval", "i", DefaultInterval, "Seconds between samples")
	fs.IntP("times", "t", DefaultTimes, "Number of samples to record, 0 for unlimited")
	fs.IntSliceP("pid", "p", nil, "Process id to watch (repeatable)")
	fs.StringSliceP("name", "n", nil, "Process name to watch (repeatable)")
	fs.Bool("recurse-children", false, "Also watch child processes")
	fs.StringSliceP("category", "c", nil, "Metric category to record (repeatable)")
	fs.StringSliceP("output", "o", nil, "Output file, .json or .db (repeatable)")
	fs.String("log-level", DefaultLogLevel, "Log level: debug, info, warning, error")
	fs.String("metrics-listen", "", "Address to serve Prometheus metrics on")
	fs.String("net-source", NetSourceTrace, "Network traffic source: trace or scraper")
	fs.String("trace-root", "", "tracefs mount point")
	fs.String("gpu-calculation", GPUCalculationMax, "Per-process GPU usage across engines: sum or max")
	fs.String("runtime-dir", os.TempDir(), "Directory holding the pid file")
	fs.String("config", "", "Path to configuration file")
	return fs
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("interval", DefaultInterval)
	v.SetDefault("times", DefaultTimes)
	v.SetDefault("categories", DefaultCategories)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("net_source", NetSourceTrace)
	v.SetDefault("gpu_calculation", GPUCalculationMax)
	v.SetDefault("present_probes", DefaultPresentProbes)
	v.SetDefault("nethogs_path", "nethogs")
	v.SetDefault("channel_capacity", DefaultChannelCapacity)
	v.SetDefault("runtime_dir", os.TempDir())
}

func readConfigFile(v *viper.Viper, fs *pflag.FlagSet, o *options) error {
	errFactory := errors.New()

	path := o.configPath
	if f := fs.Lookup("config"); f != nil && f.Changed {
		path = f.Value.String()
	}
	if path == "" {
		path = os.Getenv(o.envPrefix + "_CONFIG")
	}

	v.SetConfigType(configType)
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath(configDir)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok && path == "" {
			return nil
		}
		return errFactory.Wrap(errors.ErrReadConfig, err)
	}

	return nil
}

// Validate checks value ranges and enumerations
func (c *Config) Validate() error {
	errFactory := errors.New()

	if c.Interval <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, c.Interval)
	}
	if c.Times < 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, struct {
			Field string
			Value int
		}{"times", c.Times})
	}
	if !LogLevel(c.LogLevel).IsValid() {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}
	if c.NetSource != NetSourceTrace && c.NetSource != NetSourceScraper {
		return errFactory.WithData(errors.ErrInvalidConfig, struct {
			Field string
			Value string
		}{"net_source", c.NetSource})
	}
	if c.GPUCalculation != GPUCalculationSum && c.GPUCalculation != GPUCalculationMax {
		return errFactory.WithData(errors.ErrInvalidConfig, struct {
			Field string
			Value string
		}{"gpu_calculation", c.GPUCalculation})
	}
	if c.ChannelCapacity <= 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, struct {
			Field string
			Value int
		}{"channel_capacity", c.ChannelCapacity})
	}
	if len(c.Categories) == 0 {
		c.Categories = DefaultCategories
	}

	return nil
}

func (c *Config) GetInterval() float64     { return c.Interval }
func (c *Config) GetTimes() int            { return c.Times }
func (c *Config) GetPIDs() []int           { return c.PIDs }
func (c *Config) GetNames() []string       { return c.Names }
func (c *Config) GetCategories() []string  { return c.Categories }
func (c *Config) GetOutputs() []string     { return c.Outputs }
func (c *Config) GetLogLevel() string      { return c.LogLevel }
func (c *Config) GetMetricsListen() string { return c.MetricsListen }
