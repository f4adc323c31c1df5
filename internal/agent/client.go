// Package agent implements the listen logging daemon: it polls the server's
// player proxy for the currently playing track and feeds candidate events
// through the save gatekeeper.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/musicwalk/music-walk-map/internal/gatekeeper"
	"github.com/musicwalk/music-walk-map/internal/listenkey"
	"github.com/musicwalk/music-walk-map/internal/spotify"
)

// ErrNotAuthenticated is returned when the server has no Spotify credential
// and the user must visit the login URL.
var ErrNotAuthenticated = errors.New("server is not authenticated with Spotify")

// Client talks to the Music Walk Map server API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a Client for the server at baseURL, e.g.
// "http://127.0.0.1:8080".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// apiError is the server's JSON error body.
type apiError struct {
	Error string `json:"error"`
}

// SaveListen posts a save request to the reconciliation endpoint. It
// implements gatekeeper.Saver.
func (c *Client) SaveListen(ctx context.Context, req gatekeeper.SaveRequest) (gatekeeper.SaveResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return gatekeeper.SaveResult{}, fmt.Errorf("encoding save request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/listens", bytes.NewReader(body))
	if err != nil {
		return gatekeeper.SaveResult{}, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return gatekeeper.SaveResult{}, fmt.Errorf("posting listen: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return gatekeeper.SaveResult{}, c.statusError(resp)
	}

	var parsed struct {
		OK         bool   `json:"ok"`
		ID         string `json:"id"`
		Duplicated bool   `json:"duplicated"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return gatekeeper.SaveResult{}, fmt.Errorf("parsing save response: %w", err)
	}
	if !parsed.OK {
		return gatekeeper.SaveResult{}, errors.New("server rejected the save")
	}
	return gatekeeper.SaveResult{ID: parsed.ID, Duplicated: parsed.Duplicated}, nil
}

// Listens fetches the persisted listens used to rebuild the local index.
func (c *Client) Listens(ctx context.Context) ([]listenkey.Record, error) {
	resp, err := c.get(ctx, "/listens")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(resp)
	}

	var parsed struct {
		Items []listenkey.Record `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("parsing listens response: %w", err)
	}
	return parsed.Items, nil
}

// CurrentlyPlaying fetches the track playing right now, or nil when nothing
// is playing. Returns ErrNotAuthenticated when the server has no Spotify
// credential.
func (c *Client) CurrentlyPlaying(ctx context.Context) (*spotify.CurrentlyPlayingItem, error) {
	resp, err := c.get(ctx, "/currently-playing")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrNotAuthenticated
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if strings.TrimSpace(string(body)) == "null" {
		return nil, nil
	}

	var item spotify.CurrentlyPlayingItem
	if err := json.Unmarshal(body, &item); err != nil {
		return nil, fmt.Errorf("parsing currently playing: %w", err)
	}
	return &item, nil
}

// UpdatesURL returns the websocket URL of the listens-updated channel.
func (c *Client) UpdatesURL() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parsing base URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = "/ws/listens-updated"
	return u.String(), nil
}

func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting %s: %w", path, err)
	}
	return resp, nil
}

func (c *Client) statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var parsed apiError
	if json.Unmarshal(body, &parsed) == nil && parsed.Error != "" {
		return errors.New("server error " + strconv.Itoa(resp.StatusCode) + ": " + parsed.Error)
	}
	return errors.New("server error " + strconv.Itoa(resp.StatusCode))
}
