package tracefs

import (
	"regexp"
	"strconv"
	"strings"
)

// Line is one record of the ftrace default output format:
//
//	<comm>-<pid> [(<tgid>)] [<cpu>] [<flags>] <seconds>.<micros>: <event>: <body>
//
// The tgid column is present when the record-tgid option is set. It reads
// "-------" when the kernel did not know the tgid.
type Line struct {
	Comm      string
	PID       int32
	TGID      int32
	CPU       int
	Timestamp float64
	Event     string
	Args      map[string]string
}

var lineRe = regexp.MustCompile(
	`^\s*(.+)-(\d+)\s+(?:\(\s*(\d+|-+)\)\s+)?\[(\d+)\]\s+(?:\S+\s+)?(\d+\.\d+):\s+([\w.]+):\s?(.*)$`,
)

// ParseLine parses one trace_pipe line. Lines that do not match the
// grammar, including the "CPU:N [LOST n EVENTS]" markers, return false.
func ParseLine(line string) (Line, bool) {
	m := lineRe.FindStringSubmatch(line)
	if m == nil {
		return Line{}, false
	}

	pid, err := strconv.ParseInt(m[2], 10, 32)
	if err != nil {
		return Line{}, false
	}

	tgid := int64(-1)
	if m[3] != "" && !strings.HasPrefix(m[3], "-") {
		if tgid, err = strconv.ParseInt(m[3], 10, 32); err != nil {
			return Line{}, false
		}
	}

	cpu, err := strconv.Atoi(m[4])
	if err != nil {
		return Line{}, false
	}

	ts, err := strconv.ParseFloat(m[5], 64)
	if err != nil {
		return Line{}, false
	}

	return Line{
		Comm:      strings.TrimSpace(m[1]),
		PID:       int32(pid),
		TGID:      int32(tgid),
		CPU:       cpu,
		Timestamp: ts,
		Event:     m[6],
		Args:      parseArgs(m[7]),
	}, true
}

// parseArgs collects key=value tokens from an event body. Tokens without
// '=' such as the "(tcp_sendmsg+0x0/0x50)" location are ignored.
func parseArgs(body string) map[string]string {
	args := make(map[string]string)
	for _, tok := range strings.Fields(body) {
		k, v, ok := strings.Cut(tok, "=")
		if !ok || k == "" {
			continue
		}
		args[k] = v
	}
	return args
}

// Owner returns the process a line belongs to: the tgid when recorded,
// otherwise the pid.
func (l Line) Owner() int32 {
	if l.TGID > 0 {
		return l.TGID
	}
	return l.PID
}

// Uint parses an unsigned argument in decimal or 0x-prefixed hex.
func (l Line) Uint(key string) (uint64, bool) {
	v, ok := l.Args[key]
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseUint(v, 0, 64)
	return n, err == nil
}

// Int parses a signed argument in decimal or 0x-prefixed hex.
func (l Line) Int(key string) (int64, bool) {
	v, ok := l.Args[key]
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 0, 64)
	return n, err == nil
}
