// AngelaMos | 2026
// lookup.go

package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Lookup is the boundary with the external IP geolocation provider.
type Lookup interface {
	Lookup(ctx context.Context, ip string) (Location, error)
}

// HTTPLookup queries an ip-api.com style endpoint:
// GET {baseURL}/{ip} -> {"status":"success","country":...,"countryCode":...,"city":...}
type HTTPLookup struct {
	client  *http.Client
	baseURL string
}

func NewHTTPLookup(client *http.Client, baseURL string) *HTTPLookup {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPLookup{client: client, baseURL: baseURL}
}

type lookupResponse struct {
	Status      string `json:"status"`
	Country     string `json:"country"`
	CountryCode string `json:"countryCode"`
	City        string `json:"city"`
}

func (l *HTTPLookup) Lookup(ctx context.Context, ip string) (Location, error) {
	url := l.baseURL + "/" + ip

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Location{}, fmt.Errorf("build geo request: %w", err)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return Location{}, fmt.Errorf("geo lookup %s: %w", ip, err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	if resp.StatusCode != http.StatusOK {
		return Location{}, fmt.Errorf(
			"geo lookup %s: unexpected status %d",
			ip,
			resp.StatusCode,
		)
	}

	var body lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Location{}, fmt.Errorf("decode geo response: %w", err)
	}

	return Location{
		Status:      body.Status,
		Country:     body.Country,
		CountryCode: body.CountryCode,
		City:        body.City,
	}, nil
}
