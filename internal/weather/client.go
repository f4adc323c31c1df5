// Package weather fetches current-weather snapshots from OpenWeatherMap to
// attach to saved listens. Lookups are best effort: callers persist null
// weather fields when a lookup fails.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const baseURL = "https://api.openweathermap.org/data/2.5/weather"

// Snapshot is the condensed weather observation stored with a listen.
type Snapshot struct {
	Main        *string  // e.g. "Clear"
	Description *string  // e.g. "clear sky", localized
	TempC       *float64 // metric
}

// Client is an OpenWeatherMap current-weather client.
type Client struct {
	apiKey     string
	lang       string
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a Client. lang selects the description language; empty
// means the API default.
func NewClient(apiKey, lang string) *Client {
	return &Client{
		apiKey: apiKey,
		lang:   lang,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		baseURL: baseURL,
	}
}

type currentWeatherResponse struct {
	Weather []struct {
		Main        string `json:"main"`
		Description string `json:"description"`
	} `json:"weather"`
	Main struct {
		Temp *float64 `json:"temp"`
	} `json:"main"`
}

// Current fetches the weather at the given coordinates.
func (c *Client) Current(ctx context.Context, lat, lng float64) (*Snapshot, error) {
	params := url.Values{
		"lat":   {strconv.FormatFloat(lat, 'f', -1, 64)},
		"lon":   {strconv.FormatFloat(lng, 'f', -1, 64)},
		"appid": {c.apiKey},
		"units": {"metric"},
	}
	if c.lang != "" {
		params.Set("lang", c.lang)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching weather: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("weather API status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading weather response: %w", err)
	}

	var parsed currentWeatherResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parsing weather response: %w", err)
	}

	snap := &Snapshot{TempC: parsed.Main.Temp}
	if len(parsed.Weather) > 0 {
		if parsed.Weather[0].Main != "" {
			snap.Main = &parsed.Weather[0].Main
		}
		if parsed.Weather[0].Description != "" {
			snap.Description = &parsed.Weather[0].Description
		}
	}
	return snap, nil
}
