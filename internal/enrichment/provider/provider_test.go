package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sluice/internal/config"
	"sluice/internal/logger"
	"sluice/pkg/models"
)

func TestAPIProvider_Lookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/geo/8.8.8.8":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"country_code":"US","country":"United States","city":"Mountain View","latitude":37.4,"longitude":-122.1}`))
		case "/geo/10.0.0.1":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	p := NewAPIProvider(srv.URL+"/geo/{ip}", time.Second)

	info, err := p.Lookup(context.Background(), "8.8.8.8")
	require.NoError(t, err)
	assert.Equal(t, "US", info.CountryCode)
	assert.Equal(t, "Mountain View", info.City)

	_, err = p.Lookup(context.Background(), "10.0.0.1")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = p.Lookup(context.Background(), "1.1.1.1")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestAPIProvider_AppendsAddress(t *testing.T) {
	p := NewAPIProvider("http://geo.local/lookup/", 0)
	assert.Equal(t, "http://geo.local/lookup/2001:db8::1", p.requestURL("2001:db8::1"))
}

func TestGeoInfo_Attributes(t *testing.T) {
	info := &GeoInfo{CountryCode: "DE", Country: "Germany", Latitude: 52.5, Longitude: 13.4}
	attrs := info.Attributes("geo_")

	assert.Equal(t, models.StringValue("DE"), attrs["geo_country_code"])
	assert.Equal(t, models.FloatValue(13.4), attrs["geo_longitude"])
	_, hasCity := attrs["geo_city"]
	assert.False(t, hasCity, "empty fields are not emitted")

	var nilInfo *GeoInfo
	assert.Empty(t, nilInfo.Attributes("geo_"))
}

func TestWithTimeout(t *testing.T) {
	slow := LookupFunc(func(ctx context.Context, ip string) (*GeoInfo, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	start := time.Now()
	_, err := WithTimeout(slow, 20*time.Millisecond).Lookup(context.Background(), "8.8.8.8")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestCircuitBreakerProvider(t *testing.T) {
	var calls atomic.Int32
	failing := LookupFunc(func(ctx context.Context, ip string) (*GeoInfo, error) {
		calls.Add(1)
		return nil, errors.New("backend down")
	})

	p := WrapWithCircuitBreaker(failing, "geo_test", config.CircuitBreakerConfig{
		Enabled:      true,
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      time.Minute,
		FailureRatio: 0.5,
		MinRequests:  2,
	})

	for i := 0; i < 2; i++ {
		_, err := p.Lookup(context.Background(), "8.8.8.8")
		require.Error(t, err)
	}

	_, err := p.Lookup(context.Background(), "8.8.8.8")
	assert.ErrorContains(t, err, "circuit breaker is open")
	assert.Equal(t, int32(2), calls.Load())
}

func TestCircuitBreakerProvider_NotFoundIsSuccess(t *testing.T) {
	var calls atomic.Int32
	missing := LookupFunc(func(ctx context.Context, ip string) (*GeoInfo, error) {
		calls.Add(1)
		return nil, ErrNotFound
	})

	p := WrapWithCircuitBreaker(missing, "geo_not_found", config.CircuitBreakerConfig{
		Enabled:     true,
		MinRequests: 1,
	})

	for i := 0; i < 5; i++ {
		_, err := p.Lookup(context.Background(), "8.8.8.8")
		assert.ErrorIs(t, err, ErrNotFound)
	}
	assert.Equal(t, int32(5), calls.Load())
}

func TestNew(t *testing.T) {
	log := logger.NopLogger()

	lookup, err := New(config.GeoConfig{Provider: "none"}, config.CircuitBreakerConfig{}, nil, nil, log)
	require.NoError(t, err)
	assert.Nil(t, lookup)

	_, err = New(config.GeoConfig{Provider: "api"}, config.CircuitBreakerConfig{}, nil, nil, log)
	assert.ErrorContains(t, err, "url")

	_, err = New(config.GeoConfig{Provider: "postgres"}, config.CircuitBreakerConfig{}, nil, nil, log)
	assert.ErrorContains(t, err, "database.postgres")

	_, err = New(config.GeoConfig{Provider: "maxmind"}, config.CircuitBreakerConfig{}, nil, nil, log)
	assert.ErrorContains(t, err, "unknown geo provider")

	lookup, err = New(config.GeoConfig{Provider: "api", URL: "http://geo.local", Timeout: time.Second}, config.CircuitBreakerConfig{}, nil, nil, log)
	require.NoError(t, err)
	assert.NotNil(t, lookup)
}
