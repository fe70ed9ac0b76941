package platform

import (
	"sync"

	"codeberg.org/mutker/procmon/internal/config"
	"codeberg.org/mutker/procmon/internal/errors"
	"codeberg.org/mutker/procmon/internal/gpu"
	"codeberg.org/mutker/procmon/internal/logger"
)

// Options selects how producers are built.
type Options struct {
	TraceRoot      string
	PresentProbes  []string
	NetSource      string
	NethogsPath    string
	NethogsDelay   int
	GPUCalculation gpu.Calculation
	Log            logger.Logger
}

// OptionsFromConfig maps the loaded configuration onto Options.
func OptionsFromConfig(cfg *config.Config, log logger.Logger) Options {
	delay := int(cfg.Interval + 0.5)
	return Options{
		TraceRoot:      cfg.TraceRoot,
		PresentProbes:  cfg.PresentProbes,
		NetSource:      cfg.NetSource,
		NethogsPath:    cfg.NethogsPath,
		NethogsDelay:   max(delay, 1),
		GPUCalculation: gpu.Calculation(cfg.GPUCalculation),
		Log:            log,
	}
}

// Context holds the process-wide handles producers share: procfs and sysfs
// on Linux and the NVML library. Build one per run and Close it after the
// sampler.
type Context struct {
	opts Options
	log  logger.Logger
	os   osState

	gpuOnce sync.Once
	gpuLib  gpu.Library
	gpuErr  error
	newLib  func() gpu.Library
}

func NewContext(opts Options) (*Context, error) {
	if opts.Log == nil {
		opts.Log = logger.Default()
	}
	if opts.NetSource == "" {
		opts.NetSource = config.NetSourceTrace
	}

	state, err := newOSState(opts)
	if err != nil {
		return nil, err
	}

	return &Context{
		opts:   opts,
		log:    opts.Log.With("platform"),
		os:     state,
		newLib: gpu.NewLibrary,
	}, nil
}

// GPU initialises NVML on first use and returns the same result afterwards.
func (c *Context) GPU() (gpu.Library, error) {
	c.gpuOnce.Do(func() {
		lib := c.newLib()
		if err := lib.Initialize(); err != nil {
			c.gpuErr = err
			c.log.Debug().Err(err).Msg("NVML unavailable")
			return
		}
		c.gpuLib = lib
	})
	return c.gpuLib, c.gpuErr
}

// Close shuts NVML down if it was initialised.
func (c *Context) Close() error {
	if c.gpuLib == nil {
		return nil
	}
	if err := c.gpuLib.Shutdown(); err != nil {
		return errors.New().Wrap(errors.ErrShutdownFailed, err)
	}
	c.gpuLib = nil
	return nil
}
