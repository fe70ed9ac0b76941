package pid

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"codeberg.org/mutker/procmon/internal/errors"
)

const (
	pidFile = "procmon.pid"
)

// Write writes the current process ID to a PID file in dir. It fails with
// ErrAlreadyRunning when the file names a live process.
func Write(dir string) error {
	errFactory := errors.New()
	path := filepath.Join(dir, pidFile)

	if bytes, err := os.ReadFile(path); err == nil {
		// PID file exists, check if the process is running
		existing, err := strconv.Atoi(strings.TrimSpace(string(bytes)))
		if err == nil && existing != os.Getpid() && alive(existing) {
			return errFactory.WithData(errors.ErrAlreadyRunning, existing)
		}
	} else if !os.IsNotExist(err) {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o600); err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}

// Remove removes the PID file.
func Remove(dir string) error {
	errFactory := errors.New()
	path := filepath.Join(dir, pidFile)

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}

func alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = process.Signal(syscall.Signal(0))
	return err == nil || err == syscall.EPERM
}
