// Package locate resolves the device's current coordinates. It stands in
// for the browser geolocation API: a save cannot proceed without a position.
package locate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrUnavailable is returned when no position can be determined.
var ErrUnavailable = errors.New("location unavailable")

// Position is a WGS84 coordinate pair.
type Position struct {
	Lat float64
	Lng float64
}

// Provider resolves the current position. Implementations must respect
// context cancellation; callers bound lookups with a timeout.
type Provider interface {
	Locate(ctx context.Context) (Position, error)
}

// Fixed always reports the same configured position.
type Fixed struct {
	Pos Position
}

// Locate returns the configured position.
func (f Fixed) Locate(context.Context) (Position, error) {
	return f.Pos, nil
}

const ipAPIBaseURL = "http://ip-api.com/json/"

// IPAPI resolves a coarse position from the machine's public IP address
// using the ip-api.com JSON endpoint.
type IPAPI struct {
	httpClient *http.Client
	baseURL    string
}

// NewIPAPI creates an IP-geolocation provider.
func NewIPAPI() *IPAPI {
	return &IPAPI{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    ipAPIBaseURL,
	}
}

type ipAPIResponse struct {
	Status  string  `json:"status"`
	Message string  `json:"message"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

// Locate queries the IP geolocation service.
func (p *IPAPI) Locate(ctx context.Context) (Position, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL, nil)
	if err != nil {
		return Position{}, fmt.Errorf("creating request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Position{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Position{}, fmt.Errorf("%w: unexpected status %d", ErrUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Position{}, fmt.Errorf("reading response: %w", err)
	}

	var parsed ipAPIResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Position{}, fmt.Errorf("parsing response: %w", err)
	}
	if parsed.Status != "success" {
		return Position{}, fmt.Errorf("%w: %s", ErrUnavailable, parsed.Message)
	}

	return Position{Lat: parsed.Lat, Lng: parsed.Lon}, nil
}
