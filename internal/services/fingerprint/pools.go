package fingerprint

import (
	"github.com/ternarybob/drover/internal/models"
)

// regionPool holds the locale-dependent values for one region
type regionPool struct {
	languages [][]string
	timezones []string
}

var regionPools = map[string]regionPool{
	"us": {
		languages: [][]string{{"en-US", "en"}},
		timezones: []string{"America/New_York", "America/Chicago", "America/Denver", "America/Los_Angeles"},
	},
	"gb": {
		languages: [][]string{{"en-GB", "en"}},
		timezones: []string{"Europe/London"},
	},
	"de": {
		languages: [][]string{{"de-DE", "de", "en-US", "en"}, {"de-DE", "de"}},
		timezones: []string{"Europe/Berlin"},
	},
	"fr": {
		languages: [][]string{{"fr-FR", "fr", "en-US", "en"}, {"fr-FR", "fr"}},
		timezones: []string{"Europe/Paris"},
	},
	"jp": {
		languages: [][]string{{"ja-JP", "ja"}, {"ja", "en-US", "en"}},
		timezones: []string{"Asia/Tokyo"},
	},
	"au": {
		languages: [][]string{{"en-AU", "en"}},
		timezones: []string{"Australia/Sydney", "Australia/Melbourne", "Australia/Brisbane", "Australia/Perth"},
	},
	"br": {
		languages: [][]string{{"pt-BR", "pt", "en-US", "en"}},
		timezones: []string{"America/Sao_Paulo"},
	},
}

// defaultRegion is used when the requested region has no pool
const defaultRegion = "us"

// platformProfile keeps user agent, platform and GPU values consistent with each other
type platformProfile struct {
	platform   string
	userAgents []string
	renderers  [][2]string // vendor, renderer
	screens    []models.Viewport
	cores      []int
	memory     []int
}

var platformProfiles = []platformProfile{
	{
		platform: "Win32",
		userAgents: []string{
			"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/140.0.0.0 Safari/537.36",
			"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/139.0.0.0 Safari/537.36",
			"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/140.0.0.0 Safari/537.36 Edg/140.0.0.0",
		},
		renderers: [][2]string{
			{"Google Inc. (NVIDIA)", "ANGLE (NVIDIA, NVIDIA GeForce RTX 3060 Direct3D11 vs_5_0 ps_5_0, D3D11)"},
			{"Google Inc. (Intel)", "ANGLE (Intel, Intel(R) UHD Graphics 630 Direct3D11 vs_5_0 ps_5_0, D3D11)"},
			{"Google Inc. (AMD)", "ANGLE (AMD, AMD Radeon RX 6600 Direct3D11 vs_5_0 ps_5_0, D3D11)"},
		},
		screens: []models.Viewport{{Width: 1920, Height: 1080}, {Width: 1366, Height: 768}, {Width: 1536, Height: 864}, {Width: 2560, Height: 1440}},
		cores:   []int{4, 8, 12, 16},
		memory:  []int{8, 16},
	},
	{
		platform: "MacIntel",
		userAgents: []string{
			"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/140.0.0.0 Safari/537.36",
			"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/18.5 Safari/605.1.15",
		},
		renderers: [][2]string{
			{"Google Inc. (Apple)", "ANGLE (Apple, ANGLE Metal Renderer: Apple M2, Unspecified Version)"},
			{"Google Inc. (Apple)", "ANGLE (Apple, ANGLE Metal Renderer: Apple M1, Unspecified Version)"},
		},
		screens: []models.Viewport{{Width: 1440, Height: 900}, {Width: 1512, Height: 982}, {Width: 1728, Height: 1117}},
		cores:   []int{8, 10},
		memory:  []int{8},
	},
	{
		platform: "Linux x86_64",
		userAgents: []string{
			"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/140.0.0.0 Safari/537.36",
		},
		renderers: [][2]string{
			{"Google Inc. (Intel)", "ANGLE (Intel, Mesa Intel(R) UHD Graphics 620 (KBL GT2), OpenGL 4.6)"},
		},
		screens: []models.Viewport{{Width: 1920, Height: 1080}, {Width: 1366, Height: 768}},
		cores:   []int{4, 8},
		memory:  []int{8},
	},
}

// platformWeights skews the draw towards the common desktop platforms
var platformWeights = []int{70, 22, 8}
