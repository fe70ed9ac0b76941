package host

import (
	stderrors "errors"
	"io/fs"
	"syscall"

	"codeberg.org/mutker/procmon/internal/errors"
)

const (
	ErrProcessRead   = errors.ErrorCode("host_process_read_failed")
	ErrCPURead       = errors.ErrorCode("host_cpu_read_failed")
	ErrFrequencyRead = errors.ErrorCode("host_frequency_read_failed")
	ErrSensorRead    = errors.ErrorCode("host_sensor_read_failed")
	ErrProcfsRead    = errors.ErrorCode("host_procfs_read_failed")
	ErrNoSensors     = errors.ErrorCode("host_no_sensors")
	ErrNoMatch       = errors.ErrorCode("host_no_matching_process")
)

// classify wraps err under code and the taxonomy code matching the OS
// error it carries.
func classify(code errors.ErrorCode, err error) errors.Error {
	errFactory := errors.New()
	inner := errFactory.Wrap(code, err)

	switch {
	case stderrors.Is(err, fs.ErrPermission), stderrors.Is(err, syscall.EPERM):
		return errFactory.Wrap(errors.ErrAccessDenied, inner)
	case stderrors.Is(err, fs.ErrNotExist), stderrors.Is(err, syscall.ESRCH):
		return errFactory.Wrap(errors.ErrNotObserved, inner)
	default:
		return errFactory.Wrap(errors.ErrResourceInit, inner)
	}
}

func notObserved(what string) errors.Error {
	return errors.New().WithData(errors.ErrNotObserved, what)
}
