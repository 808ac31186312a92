package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/sony/gobreaker"

	"sluice/pkg/circuitbreaker"
)

// CircuitBreakerProvider stops calling a failing backend until the breaker
// half-opens. ErrNotFound is a successful answer and does not count as a
// failure.
type CircuitBreakerProvider struct {
	provider GeoLookup
	cb       *circuitbreaker.Wrapper
	name     string
}

func NewCircuitBreakerProvider(provider GeoLookup, name string, cfg circuitbreaker.Config) *CircuitBreakerProvider {
	return &CircuitBreakerProvider{
		provider: provider,
		cb:       circuitbreaker.NewWrapper(cfg),
		name:     name,
	}
}

type lookupResult struct {
	info     *GeoInfo
	notFound bool
}

func (p *CircuitBreakerProvider) Lookup(ctx context.Context, ip string) (*GeoInfo, error) {
	res, err := circuitbreaker.Do(ctx, p.cb, func(ctx context.Context) (lookupResult, error) {
		info, err := p.provider.Lookup(ctx, ip)
		if errors.Is(err, ErrNotFound) {
			return lookupResult{notFound: true}, nil
		}
		return lookupResult{info: info}, err
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("circuit breaker is open for %s: %w", p.name, err)
		}
		return nil, err
	}
	if res.notFound {
		return nil, ErrNotFound
	}
	return res.info, nil
}

func (p *CircuitBreakerProvider) State() string {
	return p.cb.State().String()
}

func (p *CircuitBreakerProvider) IsOpen() bool {
	return p.cb.IsOpen()
}
