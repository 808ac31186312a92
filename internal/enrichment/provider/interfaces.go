package provider

import (
	"context"
	"errors"

	"sluice/pkg/models"
)

// ErrNotFound is returned when no geolocation exists for an address.
var ErrNotFound = errors.New("geolocation not found")

// GeoLookup resolves an IP address to a location. Implementations must
// honour ctx cancellation.
type GeoLookup interface {
	Lookup(ctx context.Context, ip string) (*GeoInfo, error)
}

type GeoInfo struct {
	CountryCode string  `json:"country_code"`
	Country     string  `json:"country"`
	City        string  `json:"city"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
}

// Attributes returns the non-empty fields of g keyed with prefix.
func (g *GeoInfo) Attributes(prefix string) map[string]models.Value {
	attrs := make(map[string]models.Value, 5)
	if g == nil {
		return attrs
	}
	if g.CountryCode != "" {
		attrs[prefix+"country_code"] = models.StringValue(g.CountryCode)
	}
	if g.Country != "" {
		attrs[prefix+"country"] = models.StringValue(g.Country)
	}
	if g.City != "" {
		attrs[prefix+"city"] = models.StringValue(g.City)
	}
	if g.Latitude != 0 || g.Longitude != 0 {
		attrs[prefix+"latitude"] = models.FloatValue(g.Latitude)
		attrs[prefix+"longitude"] = models.FloatValue(g.Longitude)
	}
	return attrs
}

// LookupFunc adapts a function to GeoLookup.
type LookupFunc func(ctx context.Context, ip string) (*GeoInfo, error)

func (f LookupFunc) Lookup(ctx context.Context, ip string) (*GeoInfo, error) {
	return f(ctx, ip)
}
