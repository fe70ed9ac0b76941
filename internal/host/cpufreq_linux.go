package host

import (
	"context"
	"slices"
	"strconv"
	"strings"
	"sync"

	"codeberg.org/mutker/procmon/internal/errors"
	"github.com/prometheus/procfs/sysfs"
)

const kHzPerMHz = 1000

type cpufreqSource func() ([]sysfs.SystemCPUCpufreqStats, error)

// Frequency reads the current clock of every logical CPU from cpufreq. It
// implements sampler.FrequencyQuery.
type Frequency struct {
	source cpufreqSource

	mu     sync.RWMutex
	values []float64
	err    error
}

// NewFrequency fails with ErrUnsupportedFeature when the kernel exposes no
// cpufreq policy.
func NewFrequency(fs sysfs.FS) (*Frequency, error) {
	return newFrequency(fs.SystemCpufreq)
}

func newFrequency(source cpufreqSource) (*Frequency, error) {
	f := &Frequency{source: source}
	if err := f.Refresh(context.Background()); err != nil {
		if errors.HasCode(err, errors.ErrNotObserved) {
			errFactory := errors.New()
			return nil, errFactory.Wrap(errors.ErrUnsupportedFeature, err)
		}
		return nil, err
	}
	return f, nil
}

func (f *Frequency) Name() string {
	return "cpufreq"
}

func (f *Frequency) Refresh(_ context.Context) error {
	values, err := f.read()

	f.mu.Lock()
	f.values, f.err = values, err
	f.mu.Unlock()

	return err
}

func (f *Frequency) read() ([]float64, error) {
	stats, err := f.source()
	if err != nil {
		return nil, classify(ErrFrequencyRead, err)
	}
	if len(stats) == 0 {
		return nil, notObserved("cpufreq")
	}

	slices.SortFunc(stats, func(a, b sysfs.SystemCPUCpufreqStats) int {
		return cpuIndex(a.Name) - cpuIndex(b.Name)
	})

	values := make([]float64, 0, len(stats))
	for _, st := range stats {
		switch {
		case st.ScalingCurrentFrequency != nil:
			values = append(values, float64(*st.ScalingCurrentFrequency)/kHzPerMHz)
		case st.CpuinfoCurrentFrequency != nil:
			values = append(values, float64(*st.CpuinfoCurrentFrequency)/kHzPerMHz)
		default:
			values = append(values, 0)
		}
	}

	return values, nil
}

func cpuIndex(name string) int {
	n, err := strconv.Atoi(strings.TrimPrefix(name, "cpu"))
	if err != nil {
		return -1
	}
	return n
}

// Frequencies is MHz per logical CPU.
func (f *Frequency) Frequencies() ([]float64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]float64(nil), f.values...), nil
}

func (f *Frequency) Close() error {
	return nil
}
