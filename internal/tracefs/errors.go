package tracefs

import (
	stderrors "errors"
	"io/fs"
	"os"

	"codeberg.org/mutker/procmon/internal/errors"
	"golang.org/x/sys/unix"
)

const (
	ErrNoTracefs     = errors.ErrorCode("tracefs_not_mounted")
	ErrNoPresentHook = errors.ErrorCode("tracefs_no_present_hook")
	ErrSymbolLookup  = errors.ErrorCode("tracefs_symbol_lookup_failed")
)

// classify maps an OS error onto the sampling taxonomy.
func classify(op string, err error) errors.Error {
	errFactory := errors.New()

	switch {
	case os.IsPermission(err), stderrors.Is(err, unix.EPERM):
		return errFactory.Wrap(errors.ErrAccessDenied, err).WithData(op)
	case stderrors.Is(err, fs.ErrNotExist), stderrors.Is(err, unix.ENODEV):
		return errFactory.Wrap(errors.ErrUnsupportedFeature, err).WithData(op)
	default:
		return errFactory.Wrap(errors.ErrResourceInit, err).WithData(op)
	}
}
