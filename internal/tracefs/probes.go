package tracefs

import (
	"debug/elf"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"codeberg.org/mutker/procmon/internal/errors"
)

type probeKind int

const (
	kprobe probeKind = iota
	kretprobe
	uprobe
)

// probe is one dynamic trace event.
type probe struct {
	kind  probeKind
	group string
	event string
	// target is a kernel symbol for k(ret)probes and path:0xoffset for
	// uprobes.
	target string
	fetch  string
}

// Definition renders the line written to kprobe_events or uprobe_events.
func (p probe) Definition() string {
	prefix := "p"
	if p.kind == kretprobe {
		prefix = "r"
	}
	def := fmt.Sprintf("%s:%s/%s %s", prefix, p.group, p.event, p.target)
	if p.fetch != "" {
		def += " " + p.fetch
	}
	return def
}

// Removal renders the line that deletes the probe.
func (p probe) Removal() string {
	return fmt.Sprintf("-:%s/%s", p.group, p.event)
}

func (p probe) eventsFile() string {
	if p.kind == uprobe {
		return "uprobe_events"
	}
	return "kprobe_events"
}

// Event name prefixes used when translating lines.
const (
	eventPresent = "present"
	eventNetSend = "net_send"
	eventNetRecv = "net_recv"
)

func netProbes(group string) []probe {
	return []probe{
		{kind: kprobe, group: group, event: eventNetSend, target: "tcp_sendmsg", fetch: "size=$arg3:u64"},
		{kind: kprobe, group: group, event: eventNetSend + "_udp", target: "udp_sendmsg", fetch: "size=$arg3:u64"},
		{kind: kretprobe, group: group, event: eventNetRecv, target: "tcp_recvmsg", fetch: "ret=$retval:s64"},
		{kind: kretprobe, group: group, event: eventNetRecv + "_udp", target: "udp_recvmsg", fetch: "ret=$retval:s64"},
	}
}

var libraryDirs = []string{
	"/usr/lib/x86_64-linux-gnu",
	"/lib/x86_64-linux-gnu",
	"/usr/lib/aarch64-linux-gnu",
	"/lib/aarch64-linux-gnu",
	"/usr/lib64",
	"/lib64",
	"/usr/lib",
	"/lib",
}

// resolveLibrary finds a shared object by name, or accepts an absolute path.
func resolveLibrary(name string) (string, bool) {
	if filepath.IsAbs(name) {
		_, err := os.Stat(name)
		return name, err == nil
	}
	for _, dir := range libraryDirs {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path, true
		}
	}
	return "", false
}

// symbolOffset returns the file offset of symbol in the ELF object at path,
// which is the address a uprobe expects.
func symbolOffset(path, symbol string) (uint64, error) {
	errFactory := errors.New()

	f, err := elf.Open(path)
	if err != nil {
		return 0, errFactory.Wrap(ErrSymbolLookup, err).WithData(path)
	}
	defer f.Close()

	var value uint64
	found := false
	for _, load := range []func() ([]elf.Symbol, error){f.DynamicSymbols, f.Symbols} {
		syms, err := load()
		if err != nil {
			continue
		}
		for _, s := range syms {
			if s.Name == symbol && s.Value != 0 && elf.ST_TYPE(s.Info) == elf.STT_FUNC {
				value, found = s.Value, true
				break
			}
		}
		if found {
			break
		}
	}
	if !found {
		return 0, errFactory.WithData(ErrSymbolLookup, path+":"+symbol)
	}

	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD || prog.Flags&elf.PF_X == 0 {
			continue
		}
		if value >= prog.Vaddr && value < prog.Vaddr+prog.Memsz {
			return value - prog.Vaddr + prog.Off, nil
		}
	}

	return 0, errFactory.WithData(ErrSymbolLookup, path+":"+symbol)
}

// presentProbes resolves "library:symbol" specs into uprobes, skipping the
// ones that cannot be resolved on this host.
func presentProbes(group string, specs []string, warn func(spec string, err error)) []probe {
	var out []probe
	for _, spec := range specs {
		lib, symbol, ok := strings.Cut(spec, ":")
		if !ok || lib == "" || symbol == "" {
			warn(spec, errors.New().WithData(errors.ErrInvalidArgument, spec))
			continue
		}
		path, ok := resolveLibrary(lib)
		if !ok {
			warn(spec, errors.New().WithData(ErrSymbolLookup, lib))
			continue
		}
		off, err := symbolOffset(path, symbol)
		if err != nil {
			warn(spec, err)
			continue
		}
		out = append(out, probe{
			kind:   uprobe,
			group:  group,
			event:  fmt.Sprintf("%s_%d", eventPresent, len(out)),
			target: fmt.Sprintf("%s:0x%x", path, off),
		})
	}
	return out
}
