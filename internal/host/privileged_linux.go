package host

import (
	"codeberg.org/mutker/procmon/internal/sampler"
	"github.com/prometheus/procfs"
)

// Privileged answers kernel object and thread counts from procfs with a
// fresh read on every call. Reading another user's fd table needs
// CAP_SYS_PTRACE or root. It implements sampler.PrivilegedQuery.
type Privileged struct {
	fs procfs.FS
}

func NewPrivileged(fs procfs.FS) *Privileged {
	return &Privileged{fs: fs}
}

func (p *Privileged) Name() string {
	return "procfs"
}

// KernelObjects is the number of open file descriptors of e.
func (p *Privileged) KernelObjects(e sampler.EntityID) (uint64, error) {
	proc, err := p.fs.Proc(int(e))
	if err != nil {
		return 0, classify(ErrProcfsRead, err)
	}
	n, err := proc.FileDescriptorsLen()
	if err != nil {
		return 0, classify(ErrProcfsRead, err)
	}
	return uint64(n), nil
}

// Threads counts the task directory of e, falling back to the stat
// num_threads field.
func (p *Privileged) Threads(e sampler.EntityID) (uint64, error) {
	threads, err := p.fs.AllThreads(int(e))
	if err == nil && len(threads) > 0 {
		return uint64(len(threads)), nil
	}

	proc, perr := p.fs.Proc(int(e))
	if perr != nil {
		return 0, classify(ErrProcfsRead, perr)
	}
	stat, serr := proc.Stat()
	if serr != nil {
		if err != nil {
			return 0, classify(ErrProcfsRead, err)
		}
		return 0, classify(ErrProcfsRead, serr)
	}

	return uint64(stat.NumThreads), nil
}

func (p *Privileged) Close() error {
	return nil
}
