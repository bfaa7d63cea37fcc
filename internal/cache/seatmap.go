// Package cache keeps rendered seat maps in Redis. Entries are keyed by
// showtime and dropped whenever the broadcast hub reports a change for
// that showtime; the TTL only bounds how long a missed invalidation lingers.
//
// Every invalidation bumps a per-showtime generation. A map rendered
// before an invalidation carries the older generation and is not written.
package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/cinema-booking-engine/internal/broadcast"
	"github.com/iliyamo/cinema-booking-engine/internal/config"
)

type SeatMapCache struct {
	rdb    redis.Cmdable
	ttl    time.Duration
	prefix string
	log    *zap.Logger
}

// NewSeatMapCache returns nil when caching is disabled or Redis is not
// available; callers treat a nil cache as "always miss".
func NewSeatMapCache(cfg config.CacheConfig, rdb redis.Cmdable, log *zap.Logger) *SeatMapCache {
	if !cfg.Enabled || rdb == nil {
		return nil
	}
	if log == nil {
		log = zap.NewNop()
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	return &SeatMapCache{rdb: rdb, ttl: ttl, prefix: cfg.Prefix, log: log}
}

func (c *SeatMapCache) key(showtimeID uint64) string {
	return c.prefix + ":showtime:" + strconv.FormatUint(showtimeID, 10)
}

// Get returns the cached seat map. Redis errors count as a miss.
func (c *SeatMapCache) Get(ctx context.Context, showtimeID uint64) ([]byte, bool) {
	data, err := c.rdb.Get(ctx, c.key(showtimeID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.Warn("seat map cache read failed", zap.Uint64("showtime_id", showtimeID), zap.Error(err))
		}
		return nil, false
	}
	return data, true
}

// storeIfCurrent writes the entry only while the generation still matches.
const storeIfCurrent = `
if tonumber(redis.call('GET', KEYS[1]) or '0') ~= tonumber(ARGV[1]) then
	return 0
end
redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
return 1`

func (c *SeatMapCache) genKey(showtimeID uint64) string {
	return c.key(showtimeID) + ":gen"
}

// Generation returns how many times the showtime's entry was invalidated.
func (c *SeatMapCache) Generation(ctx context.Context, showtimeID uint64) (int64, error) {
	gen, err := c.rdb.Get(ctx, c.genKey(showtimeID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return gen, err
}

// Set stores a map rendered at generation gen. ttl shortens the configured
// TTL when the map goes stale sooner; a non-positive ttl stores nothing.
func (c *SeatMapCache) Set(ctx context.Context, showtimeID uint64, gen int64, data []byte, ttl time.Duration) {
	if ttl > c.ttl {
		ttl = c.ttl
	}
	if ttl < time.Millisecond {
		return
	}
	keys := []string{c.genKey(showtimeID), c.key(showtimeID)}
	stored, err := c.rdb.Eval(ctx, storeIfCurrent, keys, gen, data, ttl.Milliseconds()).Int()
	if err != nil {
		c.log.Warn("seat map cache write failed", zap.Uint64("showtime_id", showtimeID), zap.Error(err))
		return
	}
	if stored == 0 {
		c.log.Debug("seat map invalidated while rendering", zap.Uint64("showtime_id", showtimeID))
	}
}

func (c *SeatMapCache) Invalidate(ctx context.Context, showtimeID uint64) error {
	if err := c.rdb.Incr(ctx, c.genKey(showtimeID)).Err(); err != nil {
		return err
	}
	return c.rdb.Del(ctx, c.key(showtimeID)).Err()
}

// OnSeatEvent drops the showtime's entry. It is subscribed to the hub.
func (c *SeatMapCache) OnSeatEvent(ctx context.Context, ev broadcast.Event) error {
	return c.Invalidate(ctx, ev.ShowtimeID)
}
