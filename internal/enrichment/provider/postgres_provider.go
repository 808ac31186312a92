package provider

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"time"

	"sluice/internal/constants"
	"sluice/pkg/metrics"
)

const geoRangeQuery = `SELECT country_code, country, city, latitude, longitude
FROM geoip_ranges
WHERE network >>= $1::inet
ORDER BY masklen(network) DESC
LIMIT 1`

// PostgresProvider resolves addresses against the geoip_ranges table,
// preferring the most specific network.
type PostgresProvider struct {
	db *sql.DB
}

func NewPostgresProvider(db *sql.DB) *PostgresProvider {
	return &PostgresProvider{db: db}
}

func (p *PostgresProvider) Lookup(ctx context.Context, ip string) (*GeoInfo, error) {
	if net.ParseIP(ip) == nil {
		return nil, fmt.Errorf("invalid ip address %q", ip)
	}

	start := time.Now()
	var (
		info                GeoInfo
		city                sql.NullString
		latitude, longitude sql.NullFloat64
	)
	err := p.db.QueryRowContext(ctx, geoRangeQuery, ip).
		Scan(&info.CountryCode, &info.Country, &city, &latitude, &longitude)

	duration := time.Since(start)
	metrics.ObserveDatabaseQueryDuration("postgres", "geo_lookup", duration)
	metrics.ObserveLookupDuration(constants.GeoProviderPostgres, duration)

	if errors.Is(err, sql.ErrNoRows) {
		metrics.IncDatabaseQuery("postgres", "geo_lookup", "not_found")
		return nil, ErrNotFound
	}
	if err != nil {
		metrics.IncDatabaseQuery("postgres", "geo_lookup", "error")
		return nil, fmt.Errorf("postgresql query failed: %w", err)
	}
	metrics.IncDatabaseQuery("postgres", "geo_lookup", "success")

	info.City = city.String
	info.Latitude = latitude.Float64
	info.Longitude = longitude.Float64
	return &info, nil
}
