package transport

import "time"

// Config configures a Transport instance. One Transport is normally shared
// across every Target of a given ProviderDescriptor.
type Config struct {
	BaseURL         string
	DefaultEndpoint string
	DefaultHeaders  map[string]string
	Timeout         time.Duration
	MaxRetries      int
	// RateLimitPerSec caps outbound requests per second to this provider;
	// zero disables shaping.
	RateLimitPerSec float64
	// DebugSnapshotDir, if non-empty, makes Transport persist a copy of
	// every outbound payload under this directory (spec §4.7, §4.9
	// persisted state layout's optional codex-samples/ directory).
	DebugSnapshotDir string
}

func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:    baseURL,
		Timeout:    60 * time.Second,
		MaxRetries: 2,
	}
}
