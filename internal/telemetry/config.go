package telemetry

import (
	"net"

	"codeberg.org/mutker/procmon/internal/errors"
)

const (
	defaultPath = "/metrics"
	namespace   = "procmon"
)

type Config struct {
	// Listen is the host:port of the metrics endpoint. Empty disables it.
	Listen string
	Path   string
}

func DefaultConfig() Config {
	return Config{
		Path: defaultPath,
	}
}

func (c Config) Enabled() bool {
	return c.Listen != ""
}

func (c Config) Validate() error {
	errFactory := errors.New()
	if !c.Enabled() {
		return nil
	}
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return errFactory.Wrap(ErrInvalidListen, err).WithData(c.Listen)
	}
	return nil
}
