package recorder

import (
	"os"
	"path/filepath"

	"codeberg.org/mutker/procmon/internal/errors"
	"codeberg.org/mutker/procmon/internal/logger"
	"github.com/goccy/go-json"
)

// jsonWriter renders the report into one indented document at the end of
// the run.
type jsonWriter struct {
	path   string
	logger logger.Logger
}

func newJSONWriter(path string, log logger.Logger) (*jsonWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), defaultDirPerm); err != nil {
		return nil, errors.New().Wrap(ErrStorageInit, err).WithData(path)
	}
	return &jsonWriter{path: path, logger: log}, nil
}

func (*jsonWriter) Record(*Tick) error {
	return nil
}

func (w *jsonWriter) Finish(report *Report) error {
	errFactory := errors.New()

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return errFactory.Wrap(ErrStorageWrite, err).WithData(w.path)
	}

	tmp := w.path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), defaultFilePerm); err != nil {
		return errFactory.Wrap(ErrStorageWrite, err).WithData(w.path)
	}
	if err := os.Rename(tmp, w.path); err != nil {
		_ = os.Remove(tmp)
		return errFactory.Wrap(ErrStorageWrite, err).WithData(w.path)
	}

	w.logger.Info().Str("path", w.path).Int("bytes", len(data)).Msg("Report written")

	return nil
}

func (*jsonWriter) Close() error {
	return nil
}

// noopWriter is used when no output file is configured.
type noopWriter struct{}

func (noopWriter) Record(*Tick) error   { return nil }
func (noopWriter) Finish(*Report) error { return nil }
func (noopWriter) Close() error         { return nil }
