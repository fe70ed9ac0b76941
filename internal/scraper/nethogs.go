package scraper

import (
	"math"
	"strconv"
	"strings"

	"codeberg.org/mutker/procmon/internal/logger"
	"codeberg.org/mutker/procmon/internal/sampler"
)

// Nethogs parses the trace mode output of nethogs run with -t -v 2, where
// every refresh prints one line per connection owner:
//
//	<program>/<pid>/<uid>\t<sent bytes>\t<received bytes>
//
// Byte counts are cumulative since nethogs started, so the grammar keeps
// the previous total per owner and emits the difference. Refreshes are
// separated by a "Refreshing:" line.
type Nethogs struct {
	watched map[int32]bool
	totals  map[string]nethogsTotal
}

type nethogsTotal struct {
	sent, recv uint64
}

var nethogsNoise = []string{
	"Refreshing:",
	"Adding local address:",
	"Ethernet link detected",
	"Waiting for first packet",
	"Unknown connection",
	"Creating socket",
}

func NewNethogs(entities []sampler.EntityID) *Nethogs {
	n := &Nethogs{
		watched: make(map[int32]bool, len(entities)),
		totals:  make(map[string]nethogsTotal),
	}
	for _, e := range entities {
		n.watched[int32(e)] = true
	}
	return n
}

// NethogsArgs returns the command line for a refresh every delay seconds.
func NethogsArgs(delay int) []string {
	if delay < 1 {
		delay = 1
	}
	return []string{"-t", "-v", "2", "-d", strconv.Itoa(delay)}
}

// NewNethogsRunner wires the grammar to a runner for the nethogs binary at
// path.
func NewNethogsRunner(path string, delay int, entities []sampler.EntityID, log logger.Logger) *Runner {
	return NewRunner("nethogs", path, NethogsArgs(delay), NewNethogs(entities), log)
}

func (n *Nethogs) Skippable(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return true
	}
	for _, prefix := range nethogsNoise {
		if strings.HasPrefix(trimmed, prefix) {
			return true
		}
	}
	return false
}

func (n *Nethogs) Parse(line string) ([]sampler.Event, bool) {
	fields := strings.Split(strings.TrimRight(line, "\r\n"), "\t")
	if len(fields) != 3 {
		return nil, false
	}

	owner := fields[0]
	pid, ok := parseOwner(owner)
	if !ok {
		return nil, false
	}

	sent, ok := parseBytes(fields[1])
	if !ok {
		return nil, false
	}
	recv, ok := parseBytes(fields[2])
	if !ok {
		return nil, false
	}

	if pid == 0 {
		return nil, true
	}
	entity := sampler.SystemEntity
	if len(n.watched) > 0 {
		if !n.watched[pid] {
			return nil, true
		}
		entity = sampler.EntityID(pid)
	}

	prev, seen := n.totals[owner]
	n.totals[owner] = nethogsTotal{sent: sent, recv: recv}

	var dSent, dRecv uint64
	switch {
	case !seen:
		dSent, dRecv = sent, recv
	case sent < prev.sent || recv < prev.recv:
		// counters restarted; take the new totals as the baseline
		return nil, true
	default:
		dSent, dRecv = sent-prev.sent, recv-prev.recv
	}

	var events []sampler.Event
	if dSent > 0 {
		events = append(events, sampler.Event{Entity: entity, Metric: sampler.MetricBytesOut, Delta: dSent})
	}
	if dRecv > 0 {
		events = append(events, sampler.Event{Entity: entity, Metric: sampler.MetricBytesIn, Delta: dRecv})
	}

	return events, true
}

// parseOwner extracts the pid from "<program>/<pid>/<uid>". The program
// path may itself contain slashes, so the split uses the last two.
func parseOwner(owner string) (int32, bool) {
	j := strings.LastIndexByte(owner, '/')
	if j <= 0 {
		return 0, false
	}
	i := strings.LastIndexByte(owner[:j], '/')
	if i < 0 {
		return 0, false
	}
	if _, err := strconv.ParseUint(owner[j+1:], 10, 32); err != nil {
		return 0, false
	}
	pid, err := strconv.ParseInt(owner[i+1:j], 10, 32)
	if err != nil || pid < 0 {
		return 0, false
	}
	return int32(pid), true
}

func parseBytes(field string) (uint64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
	if err != nil || v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return uint64(v), true
}
