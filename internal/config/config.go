package config

import (
	"encoding/hex"
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/alexjbarnes/ambient-dash/internal/state"
)

// State backends.
const (
	BackendBolt   = "bolt"
	BackendMemory = "memory"
)

// Google login flows.
const (
	FlowImplicit = "implicit"
	FlowPKCE     = "pkce"
)

// stateKeyLen is the decoded length of STATE_ENCRYPTION_KEY.
const stateKeyLen = 32

// Config holds all environment-based configuration for ambient-dash.
type Config struct {
	// Environment controls log format
	Environment string `env:"ENVIRONMENT" envDefault:"development"`

	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8080"`

	// PublicURL is the origin the dashboard is served from. Websocket
	// upgrades are accepted from its host.
	PublicURL string `env:"PUBLIC_URL" envDefault:"http://localhost:8080"`

	EnableMCP bool `env:"ENABLE_MCP" envDefault:"false"`

	// Token persistence. StatePath defaults to ~/.ambient-dash/state.db.
	StateBackend       string `env:"STATE_BACKEND" envDefault:"bolt"`
	StatePath          string `env:"STATE_PATH"`
	StateEncryptionKey string `env:"STATE_ENCRYPTION_KEY"`

	Timezone  string        `env:"TIMEZONE" envDefault:"America/Toronto"`
	ClockTick time.Duration `env:"CLOCK_TICK" envDefault:"15s"`

	Spotify Spotify `envPrefix:"SPOTIFY_"`
	Google  Google  `envPrefix:"GOOGLE_"`
	Tasks   Tasks   `envPrefix:"TASKS_"`
	Weather Weather `envPrefix:"WEATHER_"`
	Transit Transit `envPrefix:"TRANSIT_"`

	stateKey []byte
}

// Spotify holds the now-playing widget's OAuth client. A missing client
// id or redirect URI is not a load error; the widget reports it instead.
type Spotify struct {
	ClientID     string        `env:"CLIENT_ID"`
	RedirectURI  string        `env:"REDIRECT_URI"`
	ClientSecret string        `env:"CLIENT_SECRET"`
	RefreshToken string        `env:"REFRESH_TOKEN"`
	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"5s"`
}

// Google holds the tasks widget's OAuth client.
type Google struct {
	ClientID     string `env:"CLIENT_ID"`
	RedirectURI  string `env:"REDIRECT_URI"`
	ClientSecret string `env:"CLIENT_SECRET"`
	AuthFlow     string `env:"AUTH_FLOW" envDefault:"implicit"`
}

// Tasks configures the tasks widget.
type Tasks struct {
	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"60s"`
	MaxResults   int           `env:"MAX_RESULTS" envDefault:"5"`
}

// Weather configures the weather widget. The location defaults to
// downtown Toronto.
type Weather struct {
	Latitude     float64       `env:"LATITUDE" envDefault:"43.6532"`
	Longitude    float64       `env:"LONGITUDE" envDefault:"-79.3832"`
	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"15m"`
}

// Transit configures the transit widget. An empty TargetsFile selects
// the built-in targets.
type Transit struct {
	TargetsFile  string        `env:"TARGETS_FILE"`
	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"30s"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing client secrets to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables and then applies
// command-line overrides from args (without the program name). A .env
// file in the working directory is loaded first if present; it never
// overrides variables already set.
func Load(args []string) (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	fs := pflag.NewFlagSet("ambient-dash", pflag.ContinueOnError)
	fs.StringVar(&cfg.ListenAddr, "listen-addr", cfg.ListenAddr, "HTTP listen address (LISTEN_ADDR)")
	fs.StringVar(&cfg.StatePath, "state-path", cfg.StatePath, "token database path (STATE_PATH)")
	fs.StringVar(&cfg.StateBackend, "state-backend", cfg.StateBackend, "token store: bolt or memory (STATE_BACKEND)")
	fs.StringVar(&cfg.Transit.TargetsFile, "transit-targets", cfg.Transit.TargetsFile, "transit targets YAML file (TRANSIT_TARGETS_FILE)")
	fs.BoolVar(&cfg.EnableMCP, "enable-mcp", cfg.EnableMCP, "serve MCP tools on /mcp (ENABLE_MCP)")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	if cfg.StateBackend == BackendBolt {
		if cfg.StatePath == "" {
			path, err := state.DefaultPath()
			if err != nil {
				return nil, err
			}

			cfg.StatePath = path
		}

		absPath, err := filepath.Abs(cfg.StatePath)
		if err != nil {
			return nil, fmt.Errorf("resolving state path to absolute path: %w", err)
		}

		cfg.StatePath = absPath
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if _, err := url.ParseRequestURI(c.PublicURL); err != nil {
		return fmt.Errorf("PUBLIC_URL is not a valid URL: %w", err)
	}

	switch c.StateBackend {
	case BackendBolt, BackendMemory:
	default:
		return fmt.Errorf("STATE_BACKEND must be %q or %q, got %q", BackendBolt, BackendMemory, c.StateBackend)
	}

	if c.StateEncryptionKey != "" {
		key, err := hex.DecodeString(c.StateEncryptionKey)
		if err != nil {
			return fmt.Errorf("STATE_ENCRYPTION_KEY must be hex encoded: %w", err)
		}

		if len(key) != stateKeyLen {
			return fmt.Errorf("STATE_ENCRYPTION_KEY must decode to %d bytes, got %d", stateKeyLen, len(key))
		}

		c.stateKey = key
	}

	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("TIMEZONE %q is not a known zone: %w", c.Timezone, err)
	}

	switch c.Google.AuthFlow {
	case FlowImplicit, FlowPKCE:
	default:
		return fmt.Errorf("GOOGLE_AUTH_FLOW must be %q or %q, got %q", FlowImplicit, FlowPKCE, c.Google.AuthFlow)
	}

	if c.Tasks.MaxResults < 1 || c.Tasks.MaxResults > 100 {
		return fmt.Errorf("TASKS_MAX_RESULTS must be between 1 and 100, got %d", c.Tasks.MaxResults)
	}

	if c.Weather.Latitude < -90 || c.Weather.Latitude > 90 {
		return fmt.Errorf("WEATHER_LATITUDE must be between -90 and 90, got %g", c.Weather.Latitude)
	}

	if c.Weather.Longitude < -180 || c.Weather.Longitude > 180 {
		return fmt.Errorf("WEATHER_LONGITUDE must be between -180 and 180, got %g", c.Weather.Longitude)
	}

	for name, d := range map[string]time.Duration{
		"CLOCK_TICK":            c.ClockTick,
		"SPOTIFY_POLL_INTERVAL": c.Spotify.PollInterval,
		"TASKS_POLL_INTERVAL":   c.Tasks.PollInterval,
		"WEATHER_POLL_INTERVAL": c.Weather.PollInterval,
		"TRANSIT_POLL_INTERVAL": c.Transit.PollInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}

	return nil
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// StateKey returns the decoded STATE_ENCRYPTION_KEY, or nil when token
// values are stored unsealed.
func (c *Config) StateKey() []byte {
	return c.stateKey
}

// PublicHost returns the host of PublicURL.
func (c *Config) PublicHost() string {
	u, err := url.Parse(c.PublicURL)
	if err != nil {
		return ""
	}

	return u.Host
}
