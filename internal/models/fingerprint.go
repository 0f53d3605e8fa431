package models

// FingerprintProfile is a plausible, internally consistent browser identity.
// It is not intended to defeat dedicated fingerprinting research.
type FingerprintProfile struct {
	Region              string   `json:"region"`
	UserAgent           string   `json:"userAgent"`
	Platform            string   `json:"platform"`
	Languages           []string `json:"languages"`
	Timezone            string   `json:"timezone"`
	ScreenWidth         int      `json:"screenWidth"`
	ScreenHeight        int      `json:"screenHeight"`
	ColorDepth          int      `json:"colorDepth"`
	HardwareConcurrency int      `json:"hardwareConcurrency"`
	DeviceMemory        int      `json:"deviceMemory"`
	WebGLVendor         string   `json:"webglVendor"`
	WebGLRenderer       string   `json:"webglRenderer"`
	Viewport            Viewport `json:"viewport"`
	CanvasNoise         float64  `json:"canvasNoise"` // per-session pixel noise amplitude
	AudioNoise          float64  `json:"audioNoise"`
}
