package tracefs_test

import (
	"testing"

	"codeberg.org/mutker/procmon/internal/tracefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		name  string
		line  string
		want  tracefs.Line
		owner int32
	}{
		{
			name: "uprobe with tgid",
			line: "     vkcube-4521    (   4519) [003] d..1.  8123.456789: present_0: (0x7f3a1c0421b0)",
			want: tracefs.Line{
				Comm: "vkcube", PID: 4521, TGID: 4519, CPU: 3, Timestamp: 8123.456789,
				Event: "present_0", Args: map[string]string{},
			},
			owner: 4519,
		},
		{
			name: "kprobe without tgid column",
			line: "            curl-900     [001] .....   12.000001: net_send: (tcp_sendmsg+0x0/0x50) size=1448",
			want: tracefs.Line{
				Comm: "curl", PID: 900, TGID: -1, CPU: 1, Timestamp: 12.000001,
				Event: "net_send", Args: map[string]string{"size": "1448"},
			},
			owner: 900,
		},
		{
			name: "kretprobe with unknown tgid",
			line: "  Web Content-3310    (-------) [000] ...1.   99.5: net_recv_udp: (inet_recvmsg+0x5d/0x110 <- udp_recvmsg) ret=0x200",
			want: tracefs.Line{
				Comm: "Web Content", PID: 3310, TGID: -1, CPU: 0, Timestamp: 99.5,
				Event: "net_recv_udp", Args: map[string]string{"ret": "0x200"},
			},
			owner: 3310,
		},
		{
			name: "comm containing a dash and no flags",
			line: "kworker/u16:2-my-app-77 [002] 5.25: present_1: (0x1000)",
			want: tracefs.Line{
				Comm: "kworker/u16:2-my-app", PID: 77, TGID: -1, CPU: 2, Timestamp: 5.25,
				Event: "present_1", Args: map[string]string{},
			},
			owner: 77,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tracefs.ParseLine(tt.line)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.owner, got.Owner())
		})
	}
}

func TestParseLineRejectsGarbage(t *testing.T) {
	for _, line := range []string{
		"",
		"CPU:3 [LOST 1024 EVENTS]",
		"# tracer: nop",
		"     vkcube-4521    (   4519) [003] d..1.  8123.456789",
		"     vkcube-4521    (   4519) [0",
		"garbled \x00\x01 bytes",
	} {
		_, ok := tracefs.ParseLine(line)
		assert.False(t, ok, "line %q", line)
	}
}

func TestLineArgs(t *testing.T) {
	l, ok := tracefs.ParseLine("a-1 [000] 1.0: net_recv: (x <- tcp_recvmsg) ret=-11 size=0x10")
	require.True(t, ok)

	ret, ok := l.Int("ret")
	require.True(t, ok)
	assert.Equal(t, int64(-11), ret)

	size, ok := l.Uint("size")
	require.True(t, ok)
	assert.Equal(t, uint64(16), size)

	_, ok = l.Uint("missing")
	assert.False(t, ok)

	_, ok = l.Uint("ret")
	assert.False(t, ok)
}
