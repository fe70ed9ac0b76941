package sampler

import (
	"strings"

	"codeberg.org/mutker/procmon/internal/errors"
)

// Feature is a bitset of telemetry categories.
type Feature uint32

const (
	FeatureProcess Feature = 1 << iota
	FeatureGPU
	FeatureCPUFrequency
	FeatureFPS
	FeatureSensors
	FeatureNetTraffic
	FeatureKernelObjects

	FeatureNone Feature = 0
)

var featureNames = []struct {
	f    Feature
	name string
}{
	{FeatureProcess, "PROCESS"},
	{FeatureGPU, "GPU"},
	{FeatureCPUFrequency, "CPU_FREQUENCY"},
	{FeatureFPS, "FPS"},
	{FeatureSensors, "SENSORS"},
	{FeatureNetTraffic, "NET_TRAFFIC"},
	{FeatureKernelObjects, "KERNEL_OBJECTS"},
}

// Has reports whether every bit of f is set.
func (fs Feature) Has(f Feature) bool {
	return f != FeatureNone && fs&f == f
}

// Features lists the individual bits of fs in a fixed order.
func (fs Feature) Features() []Feature {
	var out []Feature
	for _, fn := range featureNames {
		if fs.Has(fn.f) {
			out = append(out, fn.f)
		}
	}
	return out
}

func (fs Feature) String() string {
	if fs == FeatureNone {
		return "NONE"
	}
	var parts []string
	for _, fn := range featureNames {
		if fs.Has(fn.f) {
			parts = append(parts, fn.name)
		}
	}
	return strings.Join(parts, "|")
}

// Category is a user-facing metric name. Several categories can map onto
// one Feature.
type Category string

const (
	CategoryCPU           Category = "cpu"
	CategoryMemory        Category = "mem"
	CategoryVirtualMemory Category = "virtual_mem"
	CategoryThreads       Category = "threads"
	CategoryGPU           Category = "gpu"
	CategoryGPUMemory     Category = "gpu_mem"
	CategoryFPS           Category = "fps"
	CategoryNetIn         Category = "net_in"
	CategoryNetOut        Category = "net_out"
	CategoryKernelObjects Category = "kobjcount"

	CategorySystemCPU          Category = "sys_cpu"
	CategorySystemCPUFrequency Category = "sys_cpu_freq"
	CategorySystemGPU          Category = "sys_gpu"
	CategorySystemCPUTemp      Category = "sys_cpu_temp"
	CategorySystemGPUTemp      Category = "sys_gpu_temp"
	CategorySystemGPUPower     Category = "sys_gpu_power"
	CategorySystemPower        Category = "sys_power"
)

var categoryFeatures = map[Category]Feature{
	CategoryCPU:                FeatureProcess,
	CategoryMemory:             FeatureProcess,
	CategoryVirtualMemory:      FeatureProcess,
	CategoryThreads:            FeatureProcess,
	CategoryGPU:                FeatureGPU,
	CategoryGPUMemory:          FeatureGPU,
	CategoryFPS:                FeatureFPS,
	CategoryNetIn:              FeatureNetTraffic,
	CategoryNetOut:             FeatureNetTraffic,
	CategoryKernelObjects:      FeatureKernelObjects,
	CategorySystemCPU:          FeatureProcess,
	CategorySystemCPUFrequency: FeatureCPUFrequency,
	CategorySystemGPU:          FeatureGPU,
	CategorySystemCPUTemp:      FeatureSensors,
	CategorySystemGPUTemp:      FeatureSensors,
	CategorySystemGPUPower:     FeatureSensors,
	CategorySystemPower:        FeatureSensors,
}

// Feature returns the feature a category needs.
func (c Category) Feature() (Feature, bool) {
	f, ok := categoryFeatures[c]
	return f, ok
}

// PerProcess reports whether the category is sampled per entity rather
// than system-wide.
func (c Category) PerProcess() bool {
	return !strings.HasPrefix(string(c), "sys_")
}

// ParseCategories validates names and returns them together with the union
// of the features they need.
func ParseCategories(names []string) ([]Category, Feature, error) {
	errFactory := errors.New()

	var (
		cats     []Category
		features Feature
		seen     = make(map[Category]bool)
	)
	for _, name := range names {
		c := Category(strings.ToLower(strings.TrimSpace(name)))
		f, ok := c.Feature()
		if !ok {
			return nil, FeatureNone, errFactory.WithData(errors.ErrInvalidArgument, name)
		}
		features |= f
		if !seen[c] {
			seen[c] = true
			cats = append(cats, c)
		}
	}

	return cats, features, nil
}
