package fingerprint

import (
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/drover/internal/models"
)

// Service draws plausible browser identities from per-region pools
type Service struct {
	logger arbor.ILogger
	mu     sync.Mutex
	rnd    *rand.Rand
}

// NewService creates a fingerprint generator seeded from the runtime source
func NewService(logger arbor.ILogger) *Service {
	return NewSeededService(logger, rand.Uint64(), rand.Uint64())
}

// NewSeededService creates a generator with a fixed seed, for reproducible draws
func NewSeededService(logger arbor.ILogger, seed1, seed2 uint64) *Service {
	return &Service{logger: logger, rnd: rand.New(rand.NewPCG(seed1, seed2))}
}

// Regions lists the regions with dedicated pools
func Regions() []string {
	regions := make([]string, 0, len(regionPools))
	for region := range regionPools {
		regions = append(regions, region)
	}
	return regions
}

// Generate returns a profile for region. Unknown or empty regions use the default pool.
func (s *Service) Generate(region string) *models.FingerprintProfile {
	region = strings.ToLower(strings.TrimSpace(region))
	pool, ok := regionPools[region]
	if !ok {
		region = defaultRegion
		pool = regionPools[region]
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	platform := platformProfiles[s.weighted(platformWeights)]
	screen := platform.screens[s.rnd.IntN(len(platform.screens))]
	gpu := platform.renderers[s.rnd.IntN(len(platform.renderers))]

	// The browser window is the screen minus OS chrome
	viewport := models.Viewport{
		Width:  screen.Width - s.rnd.IntN(3)*16,
		Height: screen.Height - 80 - s.rnd.IntN(60),
	}

	profile := &models.FingerprintProfile{
		Region:              region,
		UserAgent:           platform.userAgents[s.rnd.IntN(len(platform.userAgents))],
		Platform:            platform.platform,
		Languages:           append([]string(nil), pool.languages[s.rnd.IntN(len(pool.languages))]...),
		Timezone:            pool.timezones[s.rnd.IntN(len(pool.timezones))],
		ScreenWidth:         screen.Width,
		ScreenHeight:        screen.Height,
		ColorDepth:          24,
		HardwareConcurrency: platform.cores[s.rnd.IntN(len(platform.cores))],
		DeviceMemory:        platform.memory[s.rnd.IntN(len(platform.memory))],
		WebGLVendor:         gpu[0],
		WebGLRenderer:       gpu[1],
		Viewport:            viewport,
		CanvasNoise:         0.0001 + s.rnd.Float64()*0.0009,
		AudioNoise:          0.00001 + s.rnd.Float64()*0.00009,
	}

	s.logger.Debug().
		Str("region", region).
		Str("platform", profile.Platform).
		Str("timezone", profile.Timezone).
		Msg("Fingerprint generated")

	return profile
}

func (s *Service) weighted(weights []int) int {
	total := 0
	for _, w := range weights {
		total += w
	}
	n := s.rnd.IntN(total)
	for i, w := range weights {
		if n < w {
			return i
		}
		n -= w
	}
	return len(weights) - 1
}
