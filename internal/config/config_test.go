package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestDefault(t *testing.T) {
	cfg := Default()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, "http://localhost:8001", cfg.GenerationURL)
	assert.Equal(t, BackendMemory, cfg.State.Backend)
	assert.Equal(t, 2, cfg.Diagram.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.Diagram.Backoff)
	assert.Equal(t, []time.Duration{60 * time.Second, 45 * time.Second, 30 * time.Second}, cfg.Diagram.Timeouts)
	assert.Equal(t, 50000, cfg.Diagram.PayloadLimit)
	assert.Equal(t, 20000, cfg.Diagram.SectionLimit)
	assert.Equal(t, 120*time.Second, cfg.RequestTimeout)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(envMap(map[string]string{
		"PORT":                  "9090",
		"GENERATION_API_URL":    "http://gen:8001",
		"STATE_BACKEND":         "postgres",
		"DATABASE_URL":          "postgres://localhost/db",
		"JWT_SECRET":            "s3cret",
		"DIAGRAM_MAX_RETRIES":   "4",
		"DIAGRAM_BACKOFF":       "500ms",
		"DIAGRAM_TIMEOUTS":      "10s, 5s",
		"DIAGRAM_PAYLOAD_LIMIT": "1000",
		"DIAGRAM_SECTION_LIMIT": "400",
		"REQUEST_TIMEOUT":       "30s",
	}))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "http://gen:8001", cfg.GenerationURL)
	assert.Equal(t, BackendPostgres, cfg.State.Backend)
	assert.Equal(t, "s3cret", cfg.JWTSecret)

	p := cfg.Diagram.Policy()
	assert.Equal(t, 4, p.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, p.Backoff)
	assert.Equal(t, []time.Duration{10 * time.Second, 5 * time.Second}, p.Timeouts)
	assert.Equal(t, 1000, cfg.Diagram.PayloadLimit)
	assert.Equal(t, 400, cfg.Diagram.SectionLimit)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
}

func TestApplyEnv_InvalidValues(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(envMap(map[string]string{
		"DIAGRAM_MAX_RETRIES": "two",
		"DIAGRAM_TIMEOUTS":    "10s,soon",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DIAGRAM_MAX_RETRIES")
	assert.Contains(t, err.Error(), "DIAGRAM_TIMEOUTS")
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orchestrator.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "7070"
generation_api_url: http://yaml:8001
state:
  backend: file
  dir: /tmp/wf
diagram:
  max_retries: 1
  backoff: 3s
  timeouts: [20s, 10s]
`), 0o600))

	cfg := Default()
	require.NoError(t, cfg.LoadFile(path))

	assert.Equal(t, "7070", cfg.Port)
	assert.Equal(t, "http://yaml:8001", cfg.GenerationURL)
	assert.Equal(t, BackendFile, cfg.State.Backend)
	assert.Equal(t, "/tmp/wf", cfg.State.Dir)
	assert.Equal(t, 1, cfg.Diagram.MaxRetries)
	assert.Equal(t, 3*time.Second, cfg.Diagram.Backoff)
	assert.Equal(t, []time.Duration{20 * time.Second, 10 * time.Second}, cfg.Diagram.Timeouts)
	assert.Equal(t, 50000, cfg.Diagram.PayloadLimit)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orchestrator.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: \"7070\"\n"), 0o600))
	t.Setenv(ConfigPathEnv, path)
	t.Setenv("PORT", "6060")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "6060", cfg.Port)
}

func TestLoadFile_Errors(t *testing.T) {
	cfg := Default()
	assert.Error(t, cfg.LoadFile(filepath.Join(t.TempDir(), "missing.yaml")))

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("state: [unclosed"), 0o600))
	assert.Error(t, cfg.LoadFile(path))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"unknown_backend", func(c *Config) { c.State.Backend = "redis" }, "unknown state backend"},
		{"postgres_without_url", func(c *Config) { c.State.Backend = BackendPostgres }, "DATABASE_URL"},
		{"file_without_dir", func(c *Config) { c.State.Backend = BackendFile; c.State.Dir = "" }, "state dir"},
		{"zero_payload_limit", func(c *Config) { c.Diagram.PayloadLimit = 0 }, "payload limit"},
		{"negative_section_limit", func(c *Config) { c.Diagram.SectionLimit = -1 }, "section limit"},
		{"section_limit_over_half_payload", func(c *Config) { c.Diagram.SectionLimit = 30000 }, "half of the payload limit"},
		{"negative_retries", func(c *Config) { c.Diagram.MaxRetries = -1 }, "max retries"},
		{"zero_timeout", func(c *Config) { c.Diagram.Timeouts = []time.Duration{0} }, "timeouts"},
		{"empty_generation_url", func(c *Config) { c.GenerationURL = "" }, "generation api url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
