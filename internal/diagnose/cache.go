package diagnose

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-intake/internal/model"
)

const cacheKeyPrefix = "lead-intake:diagnosis:"

// DialRedis parses redisURL and verifies connectivity.
func DialRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, eris.Wrap(err, "diagnose: parse redis url")
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, eris.Wrap(err, "diagnose: redis ping")
	}
	return client, nil
}

// CachedProber memoizes diagnoses in Redis. The key is derived from the
// credentials so a rotated key or location never reads a stale entry.
type CachedProber struct {
	next Diagnoser
	rdb  redis.Cmdable
	key  string
	ttl  time.Duration
}

// NewCachedProber wraps next with a Redis cache holding results for ttl.
func NewCachedProber(next Diagnoser, rdb redis.Cmdable, apiKey, locationID string, ttl time.Duration) *CachedProber {
	return &CachedProber{
		next: next,
		rdb:  rdb,
		key:  CacheKey(apiKey, locationID),
		ttl:  ttl,
	}
}

// CacheKey returns the Redis key for a credential pair.
func CacheKey(apiKey, locationID string) string {
	sum := sha256.Sum256([]byte(apiKey + "\x00" + locationID))
	return cacheKeyPrefix + hex.EncodeToString(sum[:16])
}

// Diagnose returns a cached diagnosis when one is present. Cache failures are
// logged and fall through to a live probe.
func (c *CachedProber) Diagnose(ctx context.Context) (*model.Diagnosis, error) {
	log := zap.L().With(zap.String("component", "diagnose.cache"))

	raw, err := c.rdb.Get(ctx, c.key).Bytes()
	switch {
	case err == nil:
		var d model.Diagnosis
		uerr := json.Unmarshal(raw, &d)
		if uerr == nil {
			log.Debug("diagnose: cache hit", zap.String("code", string(d.Code)))
			return &d, nil
		}
		log.Warn("diagnose: discarding unreadable cache entry", zap.Error(uerr))
	case errors.Is(err, redis.Nil):
	default:
		log.Warn("diagnose: cache read failed", zap.Error(err))
	}

	return c.Refresh(ctx)
}

// Refresh runs a live probe and replaces the cached entry with its result.
func (c *CachedProber) Refresh(ctx context.Context) (*model.Diagnosis, error) {
	d, err := c.next.Diagnose(ctx)
	if err != nil {
		return nil, err
	}

	log := zap.L().With(zap.String("component", "diagnose.cache"))
	data, err := json.Marshal(d)
	if err != nil {
		log.Warn("diagnose: marshal for cache failed", zap.Error(err))
		return d, nil
	}
	if err := c.rdb.Set(ctx, c.key, data, c.ttl).Err(); err != nil {
		log.Warn("diagnose: cache write failed", zap.Error(err))
	}
	return d, nil
}
