package provider

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"sluice/internal/constants"
	"sluice/internal/logger"
	"sluice/pkg/metrics"
)

// notFoundMarker is cached for addresses the backend has no entry for, so
// that repeated misses do not reach it.
const notFoundMarker = "-"

// CacheProvider fronts another GeoLookup with Redis. Cache errors are
// logged and fall through to the backend.
type CacheProvider struct {
	next   GeoLookup
	client *redis.Client
	ttl    time.Duration
	logger logger.Logger
}

func NewCacheProvider(next GeoLookup, client *redis.Client, ttl time.Duration, log logger.Logger) *CacheProvider {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &CacheProvider{
		next:   next,
		client: client,
		ttl:    ttl,
		logger: log,
	}
}

func (p *CacheProvider) Lookup(ctx context.Context, ip string) (*GeoInfo, error) {
	key := constants.CacheKeyPrefixGeo + ip

	val, err := p.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		if val == notFoundMarker {
			metrics.IncLookupRequest("cache", "hit")
			return nil, ErrNotFound
		}
		var info GeoInfo
		if err := json.Unmarshal([]byte(val), &info); err == nil {
			metrics.IncLookupRequest("cache", "hit")
			return &info, nil
		}
		p.logger.WarnwCtx(ctx, "Failed to unmarshal cache value", "cache_key", key)
	case errors.Is(err, redis.Nil):
	default:
		p.logger.WarnwCtx(ctx, "Redis get failed", "cache_key", key, "error", err)
	}
	metrics.IncLookupRequest("cache", "miss")

	info, err := p.next.Lookup(ctx, ip)
	if errors.Is(err, ErrNotFound) {
		p.store(ctx, key, []byte(notFoundMarker))
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(info)
	if err == nil {
		p.store(ctx, key, body)
	}
	return info, nil
}

func (p *CacheProvider) store(ctx context.Context, key string, value []byte) {
	if err := p.client.Set(ctx, key, value, p.ttl).Err(); err != nil {
		p.logger.WarnwCtx(ctx, "Failed to cache geolocation",
			"error", err,
			"cache_key", key,
		)
	}
}
