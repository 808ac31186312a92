package provider

import (
	"context"
	"time"

	"sluice/internal/config"
	"sluice/pkg/circuitbreaker"
)

func WrapWithCircuitBreaker(p GeoLookup, name string, cfg config.CircuitBreakerConfig) GeoLookup {
	if !cfg.Enabled {
		return p
	}

	cbConfig := circuitbreaker.DefaultConfig(name)
	if cfg.MaxRequests > 0 {
		cbConfig.MaxRequests = cfg.MaxRequests
	}
	if cfg.Interval > 0 {
		cbConfig.Interval = cfg.Interval
	}
	if cfg.Timeout > 0 {
		cbConfig.Timeout = cfg.Timeout
	}
	if cfg.FailureRatio > 0 {
		cbConfig.FailureRatio = cfg.FailureRatio
	}
	if cfg.MinRequests > 0 {
		cbConfig.MinRequests = cfg.MinRequests
	}

	return NewCircuitBreakerProvider(p, name, cbConfig)
}

type timeoutProvider struct {
	next    GeoLookup
	timeout time.Duration
}

// WithTimeout bounds every lookup by d. A non-positive d disables the bound.
func WithTimeout(p GeoLookup, d time.Duration) GeoLookup {
	if d <= 0 {
		return p
	}
	return &timeoutProvider{next: p, timeout: d}
}

func (p *timeoutProvider) Lookup(ctx context.Context, ip string) (*GeoInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.next.Lookup(ctx, ip)
}
