package config

import "time"

// CacheConfig controls the Redis seat-map cache. When Enabled is false or no
// Redis client is available the seat map is always computed from storage.
// Entries are dropped on every availability change, so TTL only bounds how
// long a missed invalidation can linger.
type CacheConfig struct {
	Enabled bool
	TTL     time.Duration
	Prefix  string
}

func LoadCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled: envBool("SEATMAP_CACHE_ENABLED", true),
		TTL:     envDur("SEATMAP_CACHE_TTL", 15*time.Second),
		Prefix:  envStr("SEATMAP_CACHE_PREFIX", "seatmap"),
	}
}
