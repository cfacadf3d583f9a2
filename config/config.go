package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

const (
	KeyFile           = "vapid.json"
	SecretFile        = "secret.txt"
	SubscriptionsFile = "subscriptions.json"
)

// Config is the relay's runtime configuration. Defaults are applied first,
// then an optional YAML file, then command-line flags.
type Config struct {
	DataDir   string `yaml:"data_dir"`
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	Subject   string `yaml:"subject"`
	StaticDir string `yaml:"static_dir"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	SessionTTL time.Duration `yaml:"session_ttl"`

	Cors struct {
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"cors"`

	Push struct {
		TTL         int           `yaml:"ttl"`
		Urgency     string        `yaml:"urgency"`
		Timeout     time.Duration `yaml:"timeout"`
		Concurrency int           `yaml:"concurrency"`
	} `yaml:"push"`
}

func Default() *Config {
	cfg := &Config{
		DataDir:    "./data",
		Host:       "127.0.0.1",
		Port:       8080,
		Subject:    "mailto:admin@localhost",
		LogLevel:   "info",
		LogFormat:  "json",
		SessionTTL: 12 * time.Hour,
	}
	cfg.Cors.AllowedOrigins = []string{"*"}
	cfg.Push.TTL = 86400
	cfg.Push.Timeout = 30 * time.Second
	return cfg
}

// LoadFromFile reads a YAML file on top of the defaults. Keys missing from
// the file keep their default values.
func LoadFromFile(path string, logger zerolog.Logger) (*Config, error) {
	logger.Debug().Str("path", path).Msg("Loading config from file")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file at %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	logger.Debug().
		Str("data_dir", cfg.DataDir).
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Strs("cors_origins", cfg.Cors.AllowedOrigins).
		Msg("YAML config loaded")
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if !strings.HasPrefix(c.Subject, "mailto:") && !strings.HasPrefix(c.Subject, "https:") {
		return fmt.Errorf("subject %q must be a mailto: or https: URL", c.Subject)
	}
	switch c.Push.Urgency {
	case "", "very-low", "low", "normal", "high":
	default:
		return fmt.Errorf("unknown push urgency %q", c.Push.Urgency)
	}
	if c.Push.TTL < 0 {
		return fmt.Errorf("push ttl must not be negative")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("session_ttl must be positive")
	}
	return nil
}

func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// DataPath returns the location of a file inside the data directory.
func (c *Config) DataPath(name string) string {
	return filepath.Join(c.DataDir, name)
}

// Level parses LogLevel, falling back to info.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || c.LogLevel == "" {
		return zerolog.InfoLevel
	}
	return lvl
}
