package config

// Constants defining default values for application configuration
const (
	DefaultDBPath   = "./relay.db"
	DefaultInstance = "https://nitter.net"

	// Upstream fetcher modes.
	ModeRSS = "rss"
	ModeAPI = "api"

	DefaultMode = ModeRSS

	DefaultDelay  = "10m" // base delay between poll cycles
	DefaultJitter = "30s" // maximum random extra delay per cycle

	// Browser-like User-Agent; some mirrors reject default Go clients.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36"

	DefaultLogLevel = "info"
)
