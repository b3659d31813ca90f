// Package config loads service and CLI configuration from an optional YAML
// file, then from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bizmatters/agent-builder/domain-orchestrator/internal/generation"
	"github.com/bizmatters/agent-builder/domain-orchestrator/internal/retry"
)

// Supported state backends.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendPostgres = "postgres"
)

// ConfigPathEnv names the optional YAML config file.
const ConfigPathEnv = "ORCHESTRATOR_CONFIG"

// Config is the complete runtime configuration.
type Config struct {
	Port           string        `yaml:"port"`
	GenerationURL  string        `yaml:"generation_api_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	JWTSecret      string        `yaml:"jwt_secret"`
	State          StateConfig   `yaml:"state"`
	Diagram        DiagramConfig `yaml:"diagram"`
}

// StateConfig selects the persisted state backend.
type StateConfig struct {
	Backend     string `yaml:"backend"`
	Dir         string `yaml:"dir"`
	DatabaseURL string `yaml:"database_url"`
}

// DiagramConfig holds the diagram retry policy and payload limits.
type DiagramConfig struct {
	MaxRetries   int             `yaml:"max_retries"`
	Backoff      time.Duration   `yaml:"backoff"`
	Timeouts     []time.Duration `yaml:"timeouts"`
	PayloadLimit int             `yaml:"payload_limit"`
	SectionLimit int             `yaml:"section_limit"`
}

// Policy converts the diagram settings into a retry policy.
func (d DiagramConfig) Policy() retry.Policy {
	return retry.Policy{
		MaxAttempts: d.MaxRetries,
		Backoff:     d.Backoff,
		Timeouts:    append([]time.Duration(nil), d.Timeouts...),
	}
}

// Default returns the built-in configuration.
func Default() Config {
	p := retry.DefaultPolicy()
	return Config{
		Port:           "8080",
		GenerationURL:  generation.DefaultBaseURL,
		RequestTimeout: 120 * time.Second,
		State: StateConfig{
			Backend: BackendMemory,
			Dir:     ".workflow-state",
		},
		Diagram: DiagramConfig{
			MaxRetries:   p.MaxAttempts,
			Backoff:      p.Backoff,
			Timeouts:     p.Timeouts,
			PayloadLimit: 50000,
			SectionLimit: 20000,
		},
	}
}

// Load builds the configuration from defaults, the file named by
// ORCHESTRATOR_CONFIG (if set) and the environment.
func Load() (Config, error) {
	cfg := Default()
	if path := os.Getenv(ConfigPathEnv); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return cfg, err
		}
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// LoadFile overlays the YAML file at path onto cfg.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays environment variables read through getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	setString := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	setString("PORT", &c.Port)
	setString("GENERATION_API_URL", &c.GenerationURL)
	setString("JWT_SECRET", &c.JWTSecret)
	setString("STATE_BACKEND", &c.State.Backend)
	setString("STATE_DIR", &c.State.Dir)
	setString("DATABASE_URL", &c.State.DatabaseURL)

	var errs []error
	if v := getenv("DIAGRAM_MAX_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid DIAGRAM_MAX_RETRIES: %w", err))
		}
		c.Diagram.MaxRetries = n
	}
	if v := getenv("DIAGRAM_PAYLOAD_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid DIAGRAM_PAYLOAD_LIMIT: %w", err))
		}
		c.Diagram.PayloadLimit = n
	}
	if v := getenv("DIAGRAM_SECTION_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid DIAGRAM_SECTION_LIMIT: %w", err))
		}
		c.Diagram.SectionLimit = n
	}
	if v := getenv("DIAGRAM_BACKOFF"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid DIAGRAM_BACKOFF: %w", err))
		}
		c.Diagram.Backoff = d
	}
	if v := getenv("REQUEST_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid REQUEST_TIMEOUT: %w", err))
		}
		c.RequestTimeout = d
	}
	if v := getenv("DIAGRAM_TIMEOUTS"); v != "" {
		timeouts, err := parseDurations(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid DIAGRAM_TIMEOUTS: %w", err))
		}
		c.Diagram.Timeouts = timeouts
	}
	return errors.Join(errs...)
}

// Validate rejects configurations the service cannot run with.
func (c Config) Validate() error {
	var errs []error
	switch c.State.Backend {
	case BackendMemory:
	case BackendFile:
		if c.State.Dir == "" {
			errs = append(errs, errors.New("state dir is required for the file backend"))
		}
	case BackendPostgres:
		if c.State.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown state backend %q", c.State.Backend))
	}
	if c.GenerationURL == "" {
		errs = append(errs, errors.New("generation api url is required"))
	}
	if c.Diagram.MaxRetries < 0 {
		errs = append(errs, errors.New("diagram max retries must not be negative"))
	}
	if c.Diagram.Backoff < 0 {
		errs = append(errs, errors.New("diagram backoff must not be negative"))
	}
	if c.Diagram.PayloadLimit <= 0 {
		errs = append(errs, errors.New("diagram payload limit must be positive"))
	}
	if c.Diagram.SectionLimit <= 0 {
		errs = append(errs, errors.New("diagram section limit must be positive"))
	} else if c.Diagram.SectionLimit*2 > c.Diagram.PayloadLimit {
		errs = append(errs, errors.New("diagram section limit must not exceed half of the payload limit"))
	}
	for _, t := range c.Diagram.Timeouts {
		if t <= 0 {
			errs = append(errs, errors.New("diagram timeouts must be positive"))
			break
		}
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, errors.New("request timeout must be positive"))
	}
	return errors.Join(errs...)
}

func parseDurations(v string) ([]time.Duration, error) {
	var out []time.Duration
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, err := time.ParseDuration(part)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}
