package config

import (
	"strings"
	"testing"
	"time"
)

func TestEnvIntValid(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	v, err := envInt("TEST_INT", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 42 {
		t.Fatalf("expected 42, got %d", v)
	}
}

func TestEnvIntFallback(t *testing.T) {
	// TEST_INT_MISSING is not set.
	v, err := envInt("TEST_INT_MISSING", 99)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 99 {
		t.Fatalf("expected fallback 99, got %d", v)
	}
}

func TestEnvIntInvalid(t *testing.T) {
	t.Setenv("TEST_INT_BAD", "abc")
	_, err := envInt("TEST_INT_BAD", 0)
	if err == nil {
		t.Fatal("expected error for non-integer value, got nil")
	}
	if got := err.Error(); got != `TEST_INT_BAD="abc" is not a valid integer` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvBoolValid(t *testing.T) {
	t.Setenv("TEST_BOOL", "true")
	v, err := envBool("TEST_BOOL", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v {
		t.Fatal("expected true")
	}
}

func TestEnvBoolInvalid(t *testing.T) {
	t.Setenv("TEST_BOOL_BAD", "maybe")
	_, err := envBool("TEST_BOOL_BAD", false)
	if err == nil {
		t.Fatal("expected error for non-boolean value, got nil")
	}
	if got := err.Error(); got != `TEST_BOOL_BAD="maybe" is not a valid boolean` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvDurationValid(t *testing.T) {
	t.Setenv("TEST_DUR", "5s")
	v, err := envDuration("TEST_DUR", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Seconds() != 5 {
		t.Fatalf("expected 5s, got %s", v)
	}
}

func TestEnvDurationInvalid(t *testing.T) {
	t.Setenv("TEST_DUR_BAD", "five-seconds")
	_, err := envDuration("TEST_DUR_BAD", 0)
	if err == nil {
		t.Fatal("expected error for invalid duration, got nil")
	}
	if got := err.Error(); got != `TEST_DUR_BAD="five-seconds" is not a valid duration` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvFloatInvalid(t *testing.T) {
	t.Setenv("TEST_FLOAT_BAD", "high")
	_, err := envFloat("TEST_FLOAT_BAD", 0)
	if err == nil {
		t.Fatal("expected error for non-numeric value, got nil")
	}
	if got := err.Error(); got != `TEST_FLOAT_BAD="high" is not a valid number` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvList(t *testing.T) {
	t.Setenv("TEST_LIST", " https://a.example , ,https://b.example")
	got := envList("TEST_LIST", []string{"*"})
	if len(got) != 2 || got[0] != "https://a.example" || got[1] != "https://b.example" {
		t.Fatalf("unexpected list: %v", got)
	}
	if got := envList("TEST_LIST_MISSING", []string{"*"}); len(got) != 1 || got[0] != "*" {
		t.Fatalf("expected default list, got %v", got)
	}
}

func TestLogDirCanBeDisabled(t *testing.T) {
	t.Setenv("AKSI_LOG_DIR", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LogDir != "" {
		t.Fatalf("expected empty log dir, got %q", cfg.LogDir)
	}
}

func TestLoadFailsOnInvalidPort(t *testing.T) {
	t.Setenv("AKSI_PORT", "abc")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail with invalid AKSI_PORT")
	}
	// Error should mention the variable name and value.
	if got := err.Error(); !strings.Contains(got, "AKSI_PORT") || !strings.Contains(got, "abc") {
		t.Fatalf("error should mention AKSI_PORT and value 'abc', got: %s", got)
	}
}

func TestLoadFailsOnMultipleInvalid(t *testing.T) {
	t.Setenv("AKSI_PORT", "abc")
	t.Setenv("AKSI_RATE_LIMIT_BURST", "xyz")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail with multiple invalid vars")
	}
	got := err.Error()
	if !strings.Contains(got, "AKSI_PORT") {
		t.Fatalf("error should mention AKSI_PORT, got: %s", got)
	}
	if !strings.Contains(got, "AKSI_RATE_LIMIT_BURST") {
		t.Fatalf("error should mention AKSI_RATE_LIMIT_BURST, got: %s", got)
	}
}

func TestLoadSucceedsWithDefaults(t *testing.T) {
	// With no env vars set, Load should succeed using all defaults.
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed with defaults, got: %v", err)
	}
	if cfg.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Port)
	}
	if cfg.ConfidenceThreshold != 0.6 || cfg.MaxConcurrentTasks != 4 || cfg.TaskRetention != 1000 {
		t.Fatalf("unexpected pipeline defaults: %+v", cfg)
	}
	if cfg.DatabaseURL != "file:data/aksi.db" {
		t.Fatalf("unexpected default DATABASE_URL %q", cfg.DatabaseURL)
	}
	if cfg.AuthEnabled() {
		t.Fatal("auth should be disabled without AKSI_ADMIN_API_KEY")
	}
	if cfg.RateLimitStaleAfter != 10*time.Minute || cfg.RateLimitSweepInterval != time.Minute {
		t.Fatalf("unexpected rate limit eviction defaults: %v / %v", cfg.RateLimitStaleAfter, cfg.RateLimitSweepInterval)
	}
}

func TestLoadRateLimitEviction(t *testing.T) {
	t.Setenv("AKSI_RATE_LIMIT_STALE_AFTER", "2m")
	t.Setenv("AKSI_RATE_LIMIT_SWEEP_INTERVAL", "15s")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RateLimitStaleAfter != 2*time.Minute || cfg.RateLimitSweepInterval != 15*time.Second {
		t.Fatalf("got %v / %v", cfg.RateLimitStaleAfter, cfg.RateLimitSweepInterval)
	}

	t.Setenv("AKSI_RATE_LIMIT_SWEEP_INTERVAL", "soon")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "AKSI_RATE_LIMIT_SWEEP_INTERVAL") {
		t.Fatalf("expected an AKSI_RATE_LIMIT_SWEEP_INTERVAL error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg, err := Load()
		if err != nil {
			t.Fatalf("load defaults: %v", err)
		}
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"threshold above one", func(c *Config) { c.ConfidenceThreshold = 1.5 }, "AKSI_CONFIDENCE_THRESHOLD"},
		{"zero concurrency", func(c *Config) { c.MaxConcurrentTasks = 0 }, "AKSI_MAX_CONCURRENT_TASKS"},
		{"bad log level", func(c *Config) { c.LogLevel = "trace" }, "AKSI_LOG_LEVEL"},
		{"half a key pair", func(c *Config) { c.JWTPrivateKeyPath = "priv.pem" }, "must be set together"},
		{"zero burst", func(c *Config) { c.RateLimitBurst = 0 }, "AKSI_RATE_LIMIT_BURST"},
		{"zero stale window", func(c *Config) { c.RateLimitStaleAfter = 0 }, "AKSI_RATE_LIMIT_STALE_AFTER"},
		{"empty database", func(c *Config) { c.DatabaseURL = "" }, "DATABASE_URL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q should mention %q", err, tt.want)
			}
		})
	}

	cfg := valid()
	cfg.RateLimitEnabled = false
	cfg.RateLimitBurst = 0
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled rate limiting should skip its checks: %v", err)
	}
}
