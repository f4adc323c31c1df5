package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"
)

// Sentinel errors.
var (
	// ErrNotAuthenticated is returned when no Spotify token is stored yet.
	ErrNotAuthenticated = errors.New("not authenticated with Spotify")
)

// Authenticator handles the single-user Spotify OAuth2 flow. The token is
// held in memory and persisted to the cache file, so the server survives
// restarts and headless agents never need credentials of their own.
type Authenticator struct {
	auth  *spotifyauth.Authenticator
	cache *TokenCache

	mu    sync.Mutex
	token *oauth2.Token
}

// New creates an Authenticator.
func New(clientID, clientSecret, redirectURI string, cache *TokenCache) *Authenticator {
	auth := spotifyauth.New(
		spotifyauth.WithClientID(clientID),
		spotifyauth.WithClientSecret(clientSecret),
		spotifyauth.WithRedirectURL(redirectURI),
		spotifyauth.WithScopes(
			spotifyauth.ScopeUserReadCurrentlyPlaying,
			spotifyauth.ScopeUserReadPlaybackState,
			spotifyauth.ScopeUserReadRecentlyPlayed,
		),
	)

	return &Authenticator{
		auth:  auth,
		cache: cache,
	}
}

// AuthURL returns the Spotify authorization URL for the given CSRF state.
func (a *Authenticator) AuthURL(state string) string {
	return a.auth.AuthURL(state)
}

// Exchange completes the OAuth callback: it exchanges the authorization code
// carried by r for a token, stores it in memory, and persists it.
func (a *Authenticator) Exchange(ctx context.Context, state string, r *http.Request) error {
	token, err := a.auth.Token(ctx, state, r)
	if err != nil {
		return fmt.Errorf("exchanging code for token: %w", err)
	}

	a.mu.Lock()
	a.token = token
	a.mu.Unlock()

	if err := a.cache.Save(token); err != nil {
		return fmt.Errorf("caching token: %w", err)
	}
	return nil
}

// Client returns an authenticated Spotify API client. The underlying oauth2
// transport refreshes the access token transparently when it expires.
// Returns ErrNotAuthenticated when no token has ever been stored.
func (a *Authenticator) Client(ctx context.Context) (*spotify.Client, error) {
	token, err := a.currentToken()
	if err != nil {
		return nil, err
	}
	return spotify.New(a.auth.Client(ctx, token), spotify.WithRetry(true)), nil
}

// PersistRefreshed saves the client's current token if the oauth2 transport
// rotated it since we last persisted. Best effort; call after successful API
// use.
func (a *Authenticator) PersistRefreshed(client *spotify.Client) error {
	token, err := client.Token()
	if err != nil {
		return nil // no token to persist, e.g. transport error
	}

	a.mu.Lock()
	rotated := a.token == nil || a.token.AccessToken != token.AccessToken
	a.token = token
	a.mu.Unlock()

	if !rotated {
		return nil
	}
	return a.cache.Save(token)
}

// Authenticated reports whether a token is available.
func (a *Authenticator) Authenticated() bool {
	_, err := a.currentToken()
	return err == nil
}

// Logout removes the stored token.
func (a *Authenticator) Logout() error {
	a.mu.Lock()
	a.token = nil
	a.mu.Unlock()
	return a.cache.Delete()
}

// currentToken returns the in-memory token, loading it from the cache file
// on first use.
func (a *Authenticator) currentToken() (*oauth2.Token, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.token != nil {
		return a.token, nil
	}

	token, err := a.cache.Load()
	if err != nil {
		return nil, fmt.Errorf("loading cached token: %w", err)
	}
	if token == nil || token.RefreshToken == "" && !token.Valid() {
		return nil, ErrNotAuthenticated
	}

	a.token = token
	return token, nil
}
