package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the backend and client settings. Both sides read the same
// file; each only looks at its own section.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Client  ClientConfig  `yaml:"client"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig configures the backend that stands in for the managed store.
type ServerConfig struct {
	Listen string `yaml:"listen"`
	DBPath string `yaml:"db_path"`
	// APIKeyHash is a bcrypt hash of the key clients must send. Empty
	// disables the check.
	APIKeyHash string          `yaml:"api_key_hash"`
	RateLimit  RateLimitConfig `yaml:"rate_limit"`
	Seed       bool            `yaml:"seed"`
}

type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// ClientConfig configures a feed session.
type ClientConfig struct {
	GatewayURL string `yaml:"gateway_url"`
	APIKey     string `yaml:"api_key"`
	StatePath  string `yaml:"state_path"`
	Role       string `yaml:"role"`
	CachePosts bool   `yaml:"cache_posts"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:    ":4422",
			DBPath:    "./crisisfeed.db",
			RateLimit: RateLimitConfig{RPS: 5, Burst: 10},
			Seed:      true,
		},
		Client: ClientConfig{
			GatewayURL: "http://localhost:4422",
			StatePath:  "./crisisfeed-state.db",
			CachePosts: true,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads an optional .env file, then the YAML file at path (a missing
// file leaves the defaults), then applies environment overrides.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("FEED_LISTEN"); v != "" {
		c.Server.Listen = v
	}
	if v := os.Getenv("FEED_DB_PATH"); v != "" {
		c.Server.DBPath = v
	}
	if v := os.Getenv("FEED_API_KEY_HASH"); v != "" {
		c.Server.APIKeyHash = v
	}
	if v := os.Getenv("FEED_GATEWAY_URL"); v != "" {
		c.Client.GatewayURL = v
	}
	if v := os.Getenv("FEED_GATEWAY_KEY"); v != "" {
		c.Client.APIKey = v
	}
	if v := os.Getenv("FEED_STATE_PATH"); v != "" {
		c.Client.StatePath = v
	}
	if v := os.Getenv("FEED_ROLE"); v != "" {
		c.Client.Role = v
	}
	if v := os.Getenv("FEED_CACHE_POSTS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Client.CachePosts = b
		}
	}
	if v := os.Getenv("FEED_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate reports every invalid value at once.
func (c *Config) Validate() error {
	var problems []string
	if c.Server.RateLimit.RPS < 0 {
		problems = append(problems, "server.rate_limit.rps must not be negative")
	}
	if c.Server.RateLimit.Burst < 0 {
		problems = append(problems, "server.rate_limit.burst must not be negative")
	}
	if c.Server.APIKeyHash != "" && !strings.HasPrefix(c.Server.APIKeyHash, "$2") {
		problems = append(problems, "server.api_key_hash is not a bcrypt hash")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}
