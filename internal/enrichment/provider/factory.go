package provider

import (
	"database/sql"
	"fmt"

	"github.com/redis/go-redis/v9"

	"sluice/internal/config"
	"sluice/internal/constants"
	"sluice/internal/logger"
)

// New builds the configured GeoLookup: backend, then circuit breaker, then
// the optional Redis cache, then the per-call timeout. It returns nil when
// geolocation is disabled.
func New(cfg config.GeoConfig, cb config.CircuitBreakerConfig, db *sql.DB, cache *redis.Client, log logger.Logger) (GeoLookup, error) {
	var backend GeoLookup
	switch cfg.Provider {
	case "", constants.GeoProviderNone:
		return nil, nil
	case constants.GeoProviderAPI:
		if cfg.URL == "" {
			return nil, fmt.Errorf("geo provider %q requires enrichment.geo.url", cfg.Provider)
		}
		backend = NewAPIProvider(cfg.URL, cfg.Timeout)
	case constants.GeoProviderPostgres:
		if db == nil {
			return nil, fmt.Errorf("geo provider %q requires database.postgres", cfg.Provider)
		}
		backend = NewPostgresProvider(db)
	default:
		return nil, fmt.Errorf("unknown geo provider %q (supported: none, api, postgres)", cfg.Provider)
	}

	lookup := WrapWithCircuitBreaker(backend, "geo_"+cfg.Provider, cb)
	if cache != nil {
		lookup = NewCacheProvider(lookup, cache, cfg.CacheTTL, log)
		log.Infow("Geo lookup cache enabled", "provider", cfg.Provider, "ttl", cfg.CacheTTL)
	}
	return WithTimeout(lookup, cfg.Timeout), nil
}
