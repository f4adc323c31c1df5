// Command musicwalk-agent polls the Music Walk Map server for the currently
// playing track and logs listens with the device's position.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/musicwalk/music-walk-map/internal/agent"
	"github.com/musicwalk/music-walk-map/internal/config"
	"github.com/musicwalk/music-walk-map/internal/locate"
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
	if err := cfg.ValidateAgent(); err != nil {
		return err
	}

	var locator locate.Provider
	switch cfg.Agent.Location {
	case "fixed":
		locator = locate.Fixed{Pos: locate.Position{Lat: cfg.Agent.Lat, Lng: cfg.Agent.Lng}}
	default:
		locator = locate.NewIPAPI()
	}

	client := agent.NewClient(cfg.Agent.ServerURL)
	a, err := agent.New(client, locator, agent.Config{
		PollInterval: cfg.Agent.PollInterval,
	})
	if err != nil {
		return fmt.Errorf("creating agent: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
