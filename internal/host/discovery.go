package host

import (
	"context"
	"path/filepath"
	"slices"
	"strings"

	"codeberg.org/mutker/procmon/internal/errors"
	"codeberg.org/mutker/procmon/internal/sampler"
	"github.com/shirou/gopsutil/v3/process"
)

// Info is the display metadata of a watched process.
type Info struct {
	PID     sampler.EntityID `json:"pid"`
	Name    string           `json:"name"`
	Cmdline string           `json:"cmdline,omitempty"`
}

// FindByName returns the pids whose process name or executable base name
// equals one of names, ignoring case. Processes that vanish mid-scan are
// skipped.
func FindByName(ctx context.Context, names []string) ([]sampler.EntityID, error) {
	if len(names) == 0 {
		return nil, nil
	}

	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, classify(ErrProcessRead, err)
	}

	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[strings.ToLower(n)] = true
	}

	var found []sampler.EntityID
	for _, p := range procs {
		if matchesName(ctx, p, want) {
			found = append(found, sampler.EntityID(p.Pid))
		}
	}

	if len(found) == 0 {
		return nil, errors.New().WithData(ErrNoMatch, strings.Join(names, ","))
	}
	slices.Sort(found)

	return found, nil
}

func matchesName(ctx context.Context, p *process.Process, want map[string]bool) bool {
	if name, err := p.NameWithContext(ctx); err == nil && want[strings.ToLower(name)] {
		return true
	}
	if exe, err := p.ExeWithContext(ctx); err == nil && exe != "" {
		return want[strings.ToLower(filepath.Base(exe))]
	}
	return false
}

// WithChildren returns roots plus all of their descendants, sorted and
// without duplicates.
func WithChildren(ctx context.Context, roots []sampler.EntityID) []sampler.EntityID {
	seen := make(map[sampler.EntityID]bool, len(roots))
	queue := append([]sampler.EntityID(nil), roots...)

	for len(queue) > 0 {
		e := queue[0]
		queue = queue[1:]
		if seen[e] {
			continue
		}
		seen[e] = true

		p, err := process.NewProcessWithContext(ctx, int32(e))
		if err != nil {
			continue
		}
		// ErrorNoChildren is the common case
		children, err := p.ChildrenWithContext(ctx)
		if err != nil {
			continue
		}
		for _, c := range children {
			queue = append(queue, sampler.EntityID(c.Pid))
		}
	}

	out := make([]sampler.EntityID, 0, len(seen))
	for e := range seen {
		out = append(out, e)
	}
	slices.Sort(out)

	return out
}

// Describe resolves display metadata once. Missing fields stay empty.
func Describe(ctx context.Context, e sampler.EntityID) Info {
	info := Info{PID: e}

	p, err := process.NewProcessWithContext(ctx, int32(e))
	if err != nil {
		return info
	}
	if name, err := p.NameWithContext(ctx); err == nil {
		info.Name = name
	}
	if cmdline, err := p.CmdlineWithContext(ctx); err == nil {
		info.Cmdline = cmdline
	}

	return info
}
