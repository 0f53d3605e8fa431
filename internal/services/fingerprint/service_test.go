package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/ternarybob/drover/internal/common"
)

var platformMarker = map[string]string{
	"Win32":        "Windows",
	"MacIntel":     "Macintosh",
	"Linux x86_64": "Linux",
}

func TestGenerate_InternallyConsistent(t *testing.T) {
	service := NewSeededService(common.NewTestLogger(), 1, 2)

	for i := 0; i < 200; i++ {
		for _, region := range Regions() {
			profile := service.Generate(region)

			assert.Equal(t, region, profile.Region)
			assert.Contains(t, profile.UserAgent, platformMarker[profile.Platform])
			assert.Contains(t, regionPools[region].timezones, profile.Timezone)
			assert.NotEmpty(t, profile.Languages)
			assert.LessOrEqual(t, profile.Viewport.Width, profile.ScreenWidth)
			assert.Less(t, profile.Viewport.Height, profile.ScreenHeight)
			assert.Greater(t, profile.HardwareConcurrency, 0)
			assert.Greater(t, profile.CanvasNoise, 0.0)
			assert.Equal(t, 24, profile.ColorDepth)
		}
	}
}

func TestGenerate_RegionFallback(t *testing.T) {
	service := NewService(common.NewTestLogger())

	assert.Equal(t, "us", service.Generate("").Region)
	assert.Equal(t, "us", service.Generate("atlantis").Region)

	de := service.Generate(" DE ")
	assert.Equal(t, "de", de.Region)
	assert.Equal(t, "de-DE", de.Languages[0])
	assert.Equal(t, "Europe/Berlin", de.Timezone)
}

func TestGenerate_SeedIsReproducible(t *testing.T) {
	a := NewSeededService(common.NewTestLogger(), 7, 9)
	b := NewSeededService(common.NewTestLogger(), 7, 9)

	for i := 0; i < 10; i++ {
		assert.Equal(t, a.Generate("jp"), b.Generate("jp"))
	}
}

func TestGenerate_LanguagesNotShared(t *testing.T) {
	service := NewSeededService(common.NewTestLogger(), 3, 4)

	profile := service.Generate("gb")
	profile.Languages[0] = "xx"
	assert.Equal(t, "en-GB", regionPools["gb"].languages[0][0])
}
