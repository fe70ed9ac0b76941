package sampler_test

import (
	"testing"

	"codeberg.org/mutker/procmon/internal/errors"
	"codeberg.org/mutker/procmon/internal/sampler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeatureString(t *testing.T) {
	assert.Equal(t, "NONE", sampler.FeatureNone.String())
	assert.Equal(t, "PROCESS|GPU", (sampler.FeatureGPU | sampler.FeatureProcess).String())
	assert.Equal(t, "FPS|NET_TRAFFIC", (sampler.FeatureNetTraffic | sampler.FeatureFPS).String())
}

func TestFeatureHas(t *testing.T) {
	fs := sampler.FeatureProcess | sampler.FeatureFPS

	assert.True(t, fs.Has(sampler.FeatureProcess))
	assert.True(t, fs.Has(sampler.FeatureProcess|sampler.FeatureFPS))
	assert.False(t, fs.Has(sampler.FeatureProcess|sampler.FeatureGPU))
	assert.False(t, fs.Has(sampler.FeatureNone))
	assert.Equal(t, []sampler.Feature{sampler.FeatureProcess, sampler.FeatureFPS}, fs.Features())
}

func TestParseCategories(t *testing.T) {
	cats, features, err := sampler.ParseCategories([]string{"cpu", "MEM", "fps", "net_in", "cpu", "sys_cpu_freq"})
	require.NoError(t, err)

	assert.Equal(t, []sampler.Category{
		sampler.CategoryCPU,
		sampler.CategoryMemory,
		sampler.CategoryFPS,
		sampler.CategoryNetIn,
		sampler.CategorySystemCPUFrequency,
	}, cats)
	assert.Equal(t,
		sampler.FeatureProcess|sampler.FeatureFPS|sampler.FeatureNetTraffic|sampler.FeatureCPUFrequency,
		features)

	_, _, err = sampler.ParseCategories([]string{"cpu", "frames"})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidArgument))
}

func TestCategoryPerProcess(t *testing.T) {
	assert.True(t, sampler.CategoryFPS.PerProcess())
	assert.False(t, sampler.CategorySystemPower.PerProcess())
}
