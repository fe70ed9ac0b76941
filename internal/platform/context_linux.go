package platform

import (
	"codeberg.org/mutker/procmon/internal/errors"
	"github.com/prometheus/procfs"
	"github.com/prometheus/procfs/sysfs"
)

type osState struct {
	proc procfs.FS
	sys  sysfs.FS
}

func newOSState(Options) (osState, error) {
	errFactory := errors.New()

	proc, err := procfs.NewDefaultFS()
	if err != nil {
		return osState{}, errFactory.Wrap(errors.ErrInitFailed, err).WithData(procfs.DefaultMountPoint)
	}
	sys, err := sysfs.NewDefaultFS()
	if err != nil {
		return osState{}, errFactory.Wrap(errors.ErrInitFailed, err).WithData(sysfs.DefaultMountPoint)
	}

	return osState{proc: proc, sys: sys}, nil
}
