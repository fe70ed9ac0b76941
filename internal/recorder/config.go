package recorder

import (
	"path/filepath"
	"strings"

	"codeberg.org/mutker/procmon/internal/errors"
)

const (
	// File system permissions
	defaultDirPerm  = 0o755
	defaultFilePerm = 0o644

	defaultBatchSize    = 256
	defaultBatchTimeout = 5
)

// OutputKind is derived from the output file extension.
type OutputKind int

const (
	OutputJSON OutputKind = iota
	OutputSQLite
)

type Config struct {
	Outputs []string
	// BatchSize is the number of ticks buffered before a database write.
	BatchSize int
	// BatchTimeout is the longest a buffered tick waits, in seconds.
	BatchTimeout int
}

func DefaultConfig() Config {
	return Config{
		BatchSize:    defaultBatchSize,
		BatchTimeout: defaultBatchTimeout,
	}
}

func (c Config) Validate() error {
	for _, out := range c.Outputs {
		if _, err := KindOf(out); err != nil {
			return err
		}
	}
	return nil
}

// KindOf maps a path to its output kind by extension.
func KindOf(path string) (OutputKind, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return OutputJSON, nil
	case ".db", ".sqlite", ".sqlite3":
		return OutputSQLite, nil
	default:
		return 0, errors.New().WithData(ErrInvalidOutput, path)
	}
}
