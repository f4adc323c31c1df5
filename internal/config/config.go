// Package config loads layered configuration for the server and agent
// binaries: built-in defaults, then an optional YAML file, then MUSICWALK_
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where config files are searched, first hit wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/music-walk-map/config.yaml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "MUSICWALK_CONFIG"

const envPrefix = "MUSICWALK_"

// Config is the full configuration tree shared by both binaries. Each binary
// validates only the sections it uses.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Spotify  SpotifyConfig  `koanf:"spotify"`
	Weather  WeatherConfig  `koanf:"weather"`
	Stats    StatsConfig    `koanf:"stats"`
	Agent    AgentConfig    `koanf:"agent"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Addr string `koanf:"addr"`
}

// DatabaseConfig configures the Postgres connection.
type DatabaseConfig struct {
	URL string `koanf:"url"`
}

// SpotifyConfig holds the Spotify application credentials.
type SpotifyConfig struct {
	ClientID     string `koanf:"client_id"`
	ClientSecret string `koanf:"client_secret"`
	RedirectURI  string `koanf:"redirect_uri"`
}

// WeatherConfig configures the OpenWeatherMap lookup. An empty APIKey
// disables weather enrichment.
type WeatherConfig struct {
	APIKey string `koanf:"api_key"`
	Lang   string `koanf:"lang"`
}

// StatsConfig configures the stats aggregation.
type StatsConfig struct {
	// Timezone is an IANA zone name used for time-of-day slots. Empty means
	// the server's local zone.
	Timezone    string `koanf:"timezone"`
	MaxHotspots int    `koanf:"max_hotspots"`
}

// AgentConfig configures the listen logging agent.
type AgentConfig struct {
	ServerURL    string        `koanf:"server_url"`
	PollInterval time.Duration `koanf:"poll_interval"`

	// Location selects the position provider: "ip" or "fixed".
	Location string  `koanf:"location"`
	Lat      float64 `koanf:"lat"`
	Lng      float64 `koanf:"lng"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: "127.0.0.1:8080",
		},
		Spotify: SpotifyConfig{
			RedirectURI: "http://127.0.0.1:8080/callback",
		},
		Weather: WeatherConfig{
			Lang: "",
		},
		Stats: StatsConfig{
			Timezone:    "",
			MaxHotspots: 5,
		},
		Agent: AgentConfig{
			ServerURL:    "http://127.0.0.1:8080",
			PollInterval: 15 * time.Second,
			Location:     "ip",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file, and
// MUSICWALK_ environment variables, in increasing priority.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling configuration: %w", err)
	}
	return cfg, nil
}

// ValidateServer checks the sections the server binary needs.
func (c *Config) ValidateServer() error {
	if c.Database.URL == "" {
		return errors.New("database.url is required (MUSICWALK_DATABASE_URL)")
	}
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if (c.Spotify.ClientID == "") != (c.Spotify.ClientSecret == "") {
		return errors.New("spotify.client_id and spotify.client_secret must be set together")
	}
	if c.Stats.Timezone != "" {
		if _, err := time.LoadLocation(c.Stats.Timezone); err != nil {
			return fmt.Errorf("invalid stats.timezone: %w", err)
		}
	}
	return nil
}

// ValidateAgent checks the sections the agent binary needs.
func (c *Config) ValidateAgent() error {
	if c.Agent.ServerURL == "" {
		return errors.New("agent.server_url is required (MUSICWALK_AGENT_SERVER_URL)")
	}
	switch c.Agent.Location {
	case "ip":
	case "fixed":
		if c.Agent.Lat == 0 && c.Agent.Lng == 0 {
			return errors.New("agent.lat and agent.lng are required with location=fixed")
		}
	default:
		return fmt.Errorf("unknown agent.location %q (want ip or fixed)", c.Agent.Location)
	}
	if c.Agent.PollInterval < time.Second {
		return errors.New("agent.poll_interval must be at least 1s")
	}
	return nil
}

// StatsLocation resolves the configured stats timezone.
func (c *Config) StatsLocation() *time.Location {
	if c.Stats.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Stats.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envMappings maps MUSICWALK_ environment variables (prefix stripped,
// lowercased) to config paths. Only listed variables are honored; everything
// else under the prefix is ignored rather than guessed at.
var envMappings = map[string]string{
	"server_addr":           "server.addr",
	"database_url":          "database.url",
	"spotify_client_id":     "spotify.client_id",
	"spotify_client_secret": "spotify.client_secret",
	"spotify_redirect_uri":  "spotify.redirect_uri",
	"weather_api_key":       "weather.api_key",
	"weather_lang":          "weather.lang",
	"stats_timezone":        "stats.timezone",
	"stats_max_hotspots":    "stats.max_hotspots",
	"agent_server_url":      "agent.server_url",
	"agent_poll_interval":   "agent.poll_interval",
	"agent_location":        "agent.location",
	"agent_lat":             "agent.lat",
	"agent_lng":             "agent.lng",
}

func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
	if path, ok := envMappings[key]; ok {
		return path
	}
	return ""
}
