// Command musicwalkd runs the Music Walk Map API server.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/musicwalk/music-walk-map/internal/auth"
	"github.com/musicwalk/music-walk-map/internal/config"
	"github.com/musicwalk/music-walk-map/internal/db"
	"github.com/musicwalk/music-walk-map/internal/weather"
	"github.com/musicwalk/music-walk-map/internal/web"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if err := cfg.ValidateServer(); err != nil {
		return err
	}

	ctx := context.Background()

	database, err := db.New(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer database.Close()

	if err := database.EnsureSchema(ctx); err != nil {
		return err
	}

	var authn *auth.Authenticator
	var player web.PlayerService
	if cfg.Spotify.ClientID != "" {
		cache, err := auth.DefaultTokenCache()
		if err != nil {
			return fmt.Errorf("setting up token cache: %w", err)
		}
		authn = auth.New(cfg.Spotify.ClientID, cfg.Spotify.ClientSecret, cfg.Spotify.RedirectURI, cache)
		player = web.NewPlayerService(authn)
	}

	var weatherSvc web.WeatherService
	if cfg.Weather.APIKey != "" {
		weatherSvc = weather.NewClient(cfg.Weather.APIKey, cfg.Weather.Lang)
	}

	hub := web.NewHub()
	handlers := web.NewHandlers(
		database.Listens(),
		database.Tracks(),
		weatherSvc,
		player,
		authn,
		hub,
		cfg.StatsLocation(),
		cfg.Stats.MaxHotspots,
	)

	server := web.NewServer(cfg.Server.Addr, handlers, hub)
	return server.Run()
}
