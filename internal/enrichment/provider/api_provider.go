package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"sluice/internal/constants"
	"sluice/pkg/metrics"
)

// APIProvider queries an HTTP geolocation service. The URL may contain
// {ip}, which is replaced by the escaped address; otherwise the address is
// appended as a path segment.
type APIProvider struct {
	client *http.Client
	url    string
}

func NewAPIProvider(baseURL string, timeout time.Duration) *APIProvider {
	if timeout <= 0 {
		timeout = constants.DefaultHTTPTimeout
	}
	return &APIProvider{
		client: &http.Client{Timeout: timeout},
		url:    baseURL,
	}
}

func (p *APIProvider) requestURL(ip string) string {
	escaped := url.PathEscape(ip)
	if strings.Contains(p.url, "{ip}") {
		return strings.ReplaceAll(p.url, "{ip}", escaped)
	}
	return strings.TrimRight(p.url, "/") + "/" + escaped
}

func (p *APIProvider) Lookup(ctx context.Context, ip string) (*GeoInfo, error) {
	start := time.Now()
	defer func() {
		metrics.ObserveLookupDuration(constants.GeoProviderAPI, time.Since(start))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.requestURL(ip), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("api returned status: %d", resp.StatusCode)
	}

	var info GeoInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if info.CountryCode == "" && info.Country == "" && info.City == "" {
		return nil, ErrNotFound
	}
	return &info, nil
}
