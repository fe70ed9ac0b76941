package scraper_test

import (
	"testing"

	"codeberg.org/mutker/procmon/internal/sampler"
	"codeberg.org/mutker/procmon/internal/scraper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNethogsParseDeltas(t *testing.T) {
	g := scraper.NewNethogs([]sampler.EntityID{3310})

	events, ok := g.Parse("/usr/lib/firefox/firefox/3310/1000\t1000\t5000")
	require.True(t, ok)
	assert.Equal(t, []sampler.Event{
		{Entity: 3310, Metric: sampler.MetricBytesOut, Delta: 1000},
		{Entity: 3310, Metric: sampler.MetricBytesIn, Delta: 5000},
	}, events)

	events, ok = g.Parse("/usr/lib/firefox/firefox/3310/1000\t1500\t5000")
	require.True(t, ok)
	assert.Equal(t, []sampler.Event{
		{Entity: 3310, Metric: sampler.MetricBytesOut, Delta: 500},
	}, events)

	// A shrinking total is a restart and only resets the baseline.
	events, ok = g.Parse("/usr/lib/firefox/firefox/3310/1000\t10\t20")
	require.True(t, ok)
	assert.Empty(t, events)

	events, ok = g.Parse("/usr/lib/firefox/firefox/3310/1000\t15\t20")
	require.True(t, ok)
	assert.Equal(t, []sampler.Event{
		{Entity: 3310, Metric: sampler.MetricBytesOut, Delta: 5},
	}, events)
}

func TestNethogsSkipsUnwatchedAndUnknown(t *testing.T) {
	g := scraper.NewNethogs([]sampler.EntityID{3310})

	events, ok := g.Parse("/usr/bin/curl/900/1000\t100\t100")
	assert.True(t, ok)
	assert.Empty(t, events)

	events, ok = g.Parse("unknown TCP/0/0\t100\t100")
	assert.True(t, ok)
	assert.Empty(t, events)
}

func TestNethogsSystemWide(t *testing.T) {
	g := scraper.NewNethogs(nil)

	events, ok := g.Parse("sshd: user@pts/0/1200/1000\t64\t0")
	require.True(t, ok)
	assert.Equal(t, []sampler.Event{
		{Entity: sampler.SystemEntity, Metric: sampler.MetricBytesOut, Delta: 64},
	}, events)
}

func TestNethogsMalformed(t *testing.T) {
	g := scraper.NewNethogs(nil)

	for _, line := range []string{
		"",
		"Refreshing:",
		"/usr/bin/curl/900/1000\t100",      // truncated
		"/usr/bin/curl/900/1000\t100\t",    // truncated value
		"/usr/bin/curl/90x/1000\t100\t100", // garbled pid
		"/usr/bin/curl/900/uid\t100\t100",  // garbled uid
		"curl\t100\t100",                   // no owner triple
		"/usr/bin/curl/900/1000\t-5\t100",  // negative
		"/usr/bin/curl/900/1000\tNaN\t100", // not a number
		"/usr/bin/curl/900/1000\t1\t2\t3",  // extra column
		"\x00\x13garbage\x7f",              // binary noise
	} {
		_, ok := g.Parse(line)
		assert.False(t, ok, "line %q", line)
	}
}

func TestNethogsSkippable(t *testing.T) {
	g := scraper.NewNethogs(nil)

	assert.True(t, g.Skippable(""))
	assert.True(t, g.Skippable("   "))
	assert.True(t, g.Skippable("Refreshing:"))
	assert.True(t, g.Skippable("Adding local address: 10.0.0.5"))
	assert.True(t, g.Skippable("Waiting for first packet to arrive (see sourceforge.net bug 1019381)"))
	assert.False(t, g.Skippable("/usr/bin/curl/90x/1000\t100\t100"))
}

func TestNethogsArgs(t *testing.T) {
	assert.Equal(t, []string{"-t", "-v", "2", "-d", "1"}, scraper.NethogsArgs(0))
	assert.Equal(t, []string{"-t", "-v", "2", "-d", "3"}, scraper.NethogsArgs(3))
}
