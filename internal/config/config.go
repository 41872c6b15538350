package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tzfnuist/ClimWIP/internal/ensemble"
)

type Config struct {
	Name      string          `yaml:"name"`
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Hermes    HermesConfig    `yaml:"hermes"`
	Source    SourceConfig    `yaml:"source"`
	Weighting WeightingConfig `yaml:"weighting"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Port        int    `yaml:"port"`
	MetricsPort int    `yaml:"metrics_port"`
	AdminToken  string `yaml:"admin_token"`
	// RateLimit is requests per second per client on run submission.
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type HermesConfig struct {
	URL string `yaml:"url"`
}

// SourceConfig locates the distance and target input. Path wins over URL.
type SourceConfig struct {
	Path      string `yaml:"path"`
	URL       string `yaml:"url"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func (c *Config) SourceTimeout() time.Duration {
	return time.Duration(c.Source.TimeoutMs) * time.Millisecond
}

// Scalar keeps the literal text of a YAML scalar so that fields accepting
// either a number or a keyword can be parsed later.
type Scalar string

func (s *Scalar) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a number or keyword", node.Line)
	}
	*s = Scalar(node.Value)
	return nil
}

func Default() *Config {
	return &Config{
		Name: "climwip",
		Server: ServerConfig{
			Port:        8600,
			MetricsPort: 8601,
			RateLimit:   2,
			RateBurst:   5,
		},
		Hermes: HermesConfig{
			URL: "nats://localhost:4222",
		},
		Source: SourceConfig{
			TimeoutMs: 30000,
		},
		Weighting: WeightingConfig{
			Quality: []DiagnosticConfig{
				{Name: "tas_CLIM", Normalizer: "median", Weight: 1},
			},
			Independence: []DiagnosticConfig{
				{Name: "tas_CLIM", Normalizer: "median", Weight: 1},
			},
			Percentiles: []float64{0.1, 0.9},
			InsideRatio: "force",
			NSigmas:     50,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := CheckSchema(data); err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

// Validate checks the whole configuration. Every failure wraps
// ensemble.ErrConfiguration.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.MetricsPort <= 0 {
		return ensemble.Configf("server ports must be positive")
	}
	if c.Server.RateLimit < 0 || c.Server.RateBurst < 0 {
		return ensemble.Configf("rate limit must not be negative")
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return ensemble.Configf("unknown log level %q", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		return ensemble.Configf("unknown log format %q", c.Logging.Format)
	}
	if err := c.Weighting.Validate(); err != nil {
		return fmt.Errorf("weighting: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("CLIMWIP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}
	if v := os.Getenv("CLIMWIP_METRICS_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.MetricsPort = n
		}
	}
	if v := os.Getenv("CLIMWIP_ADMIN_TOKEN"); v != "" {
		cfg.Server.AdminToken = v
	}
	if v := os.Getenv("CLIMWIP_DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("CLIMWIP_HERMES_URL"); v != "" {
		cfg.Hermes.URL = v
	}
	if v := os.Getenv("CLIMWIP_SOURCE_PATH"); v != "" {
		cfg.Source.Path = v
	}
	if v := os.Getenv("CLIMWIP_SOURCE_URL"); v != "" {
		cfg.Source.URL = v
	}
	if v := os.Getenv("CLIMWIP_N_SIGMAS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Weighting.NSigmas = n
		}
	}
	if v := os.Getenv("CLIMWIP_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Weighting.Workers = n
		}
	}
	if v := os.Getenv("CLIMWIP_INSIDE_RATIO"); v != "" {
		cfg.Weighting.InsideRatio = Scalar(v)
	}
	if v := os.Getenv("CLIMWIP_ENSEMBLE_INDEPENDENCE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Weighting.EnsembleIndependence = b
		}
	}
	if v := os.Getenv("CLIMWIP_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("CLIMWIP_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
