// Package config loads and validates application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	CORSOrigins         []string
	MaxRequestBodyBytes int64 // Maximum request body size in bytes.

	// Storage. postgres:// URLs select Postgres, anything else is a SQLite DSN.
	DatabaseURL string

	// Event log.
	LogLevel         string
	LogDir           string // Empty disables the daily JSONL file.
	LogMemorySize    int
	LogFlushInterval time.Duration

	// Decision pipeline.
	DecisionHistory     int
	TaskRetention       int
	MaxConcurrentTasks  int
	ConfidenceThreshold float64
	DispatchInterval    time.Duration
	ProofSeedPath       string
	BotRepository       string

	// Auth. An empty AdminAPIKey disables authentication.
	AdminAPIKey       string
	JWTPrivateKeyPath string // Path to Ed25519 private key PEM file.
	JWTPublicKeyPath  string // Path to Ed25519 public key PEM file.
	JWTExpiration     time.Duration

	// Rate limiting.
	RateLimitEnabled bool
	RateLimitRPS     float64
	RateLimitBurst   int

	// Idle client buckets are dropped after RateLimitStaleAfter, checked
	// every RateLimitSweepInterval.
	RateLimitStaleAfter    time.Duration
	RateLimitSweepInterval time.Duration

	// OTEL settings.
	OTELEndpoint string
	ServiceName  string
	OTELInsecure bool
}

// AuthEnabled reports whether bearer tokens are required on protected routes.
func (c Config) AuthEnabled() bool { return c.AdminAPIKey != "" }

// Load reads configuration from environment variables with sensible defaults.
// Every malformed variable is reported, not just the first.
func Load() (Config, error) {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	var err error
	cfg := Config{
		Version:           envStr("AKSI_VERSION", "0.1.0"),
		CORSOrigins:       envList("AKSI_CORS_ORIGINS", []string{"*"}),
		DatabaseURL:       envStr("DATABASE_URL", "file:data/aksi.db"),
		LogLevel:          envStr("AKSI_LOG_LEVEL", "info"),
		LogDir:            envStrAllowEmpty("AKSI_LOG_DIR", "logs"),
		ProofSeedPath:     envStr("AKSI_PROOF_SEED_PATH", "PROOF_SHA256.txt"),
		BotRepository:     envStr("AKSI_BOT_REPOSITORY", "MILANA808/Milana-backend"),
		AdminAPIKey:       envStr("AKSI_ADMIN_API_KEY", ""),
		JWTPrivateKeyPath: envStr("AKSI_JWT_PRIVATE_KEY", ""),
		JWTPublicKeyPath:  envStr("AKSI_JWT_PUBLIC_KEY", ""),
		OTELEndpoint:      envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:       envStr("OTEL_SERVICE_NAME", "aksi"),
	}

	cfg.Port, err = envInt("AKSI_PORT", 8080)
	collect(err)
	cfg.ReadTimeout, err = envDuration("AKSI_READ_TIMEOUT", 30*time.Second)
	collect(err)
	cfg.WriteTimeout, err = envDuration("AKSI_WRITE_TIMEOUT", 30*time.Second)
	collect(err)
	maxBody, err := envInt("AKSI_MAX_REQUEST_BODY_BYTES", 1*1024*1024) // 1 MB default
	collect(err)
	cfg.MaxRequestBodyBytes = int64(maxBody)
	cfg.LogMemorySize, err = envInt("AKSI_LOG_MEMORY_SIZE", 1000)
	collect(err)
	cfg.LogFlushInterval, err = envDuration("AKSI_LOG_FLUSH_INTERVAL", time.Second)
	collect(err)
	cfg.DecisionHistory, err = envInt("AKSI_DECISION_HISTORY", 1000)
	collect(err)
	cfg.TaskRetention, err = envInt("AKSI_TASK_RETENTION", 1000)
	collect(err)
	cfg.MaxConcurrentTasks, err = envInt("AKSI_MAX_CONCURRENT_TASKS", 4)
	collect(err)
	cfg.ConfidenceThreshold, err = envFloat("AKSI_CONFIDENCE_THRESHOLD", 0.6)
	collect(err)
	cfg.DispatchInterval, err = envDuration("AKSI_DISPATCH_INTERVAL", 5*time.Second)
	collect(err)
	cfg.JWTExpiration, err = envDuration("AKSI_JWT_EXPIRATION", 24*time.Hour)
	collect(err)
	cfg.RateLimitEnabled, err = envBool("AKSI_RATE_LIMIT_ENABLED", true)
	collect(err)
	cfg.RateLimitRPS, err = envFloat("AKSI_RATE_LIMIT_RPS", 10)
	collect(err)
	cfg.RateLimitBurst, err = envInt("AKSI_RATE_LIMIT_BURST", 30)
	collect(err)
	cfg.RateLimitStaleAfter, err = envDuration("AKSI_RATE_LIMIT_STALE_AFTER", 10*time.Minute)
	collect(err)
	cfg.RateLimitSweepInterval, err = envDuration("AKSI_RATE_LIMIT_SWEEP_INTERVAL", time.Minute)
	collect(err)
	cfg.OTELInsecure, err = envBool("AKSI_OTEL_INSECURE", false)
	collect(err)

	if len(errs) > 0 {
		return Config{}, fmt.Errorf("config: %w", errors.Join(errs...))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present and in range.
func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("config: DATABASE_URL is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: AKSI_PORT must be between 1 and 65535")
	}
	if c.LogLevel != "debug" && c.LogLevel != "info" {
		return fmt.Errorf("config: AKSI_LOG_LEVEL must be debug or info, got %q", c.LogLevel)
	}
	if c.MaxRequestBodyBytes <= 0 {
		return fmt.Errorf("config: AKSI_MAX_REQUEST_BODY_BYTES must be positive")
	}
	if c.LogMemorySize <= 0 {
		return fmt.Errorf("config: AKSI_LOG_MEMORY_SIZE must be positive")
	}
	if c.LogFlushInterval <= 0 {
		return fmt.Errorf("config: AKSI_LOG_FLUSH_INTERVAL must be positive")
	}
	if c.DecisionHistory <= 0 {
		return fmt.Errorf("config: AKSI_DECISION_HISTORY must be positive")
	}
	if c.TaskRetention <= 0 {
		return fmt.Errorf("config: AKSI_TASK_RETENTION must be positive")
	}
	if c.MaxConcurrentTasks <= 0 {
		return fmt.Errorf("config: AKSI_MAX_CONCURRENT_TASKS must be positive")
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("config: AKSI_CONFIDENCE_THRESHOLD must be within [0, 1]")
	}
	if c.DispatchInterval <= 0 {
		return fmt.Errorf("config: AKSI_DISPATCH_INTERVAL must be positive")
	}
	if c.JWTExpiration <= 0 {
		return fmt.Errorf("config: AKSI_JWT_EXPIRATION must be positive")
	}
	if (c.JWTPrivateKeyPath == "") != (c.JWTPublicKeyPath == "") {
		return fmt.Errorf("config: AKSI_JWT_PRIVATE_KEY and AKSI_JWT_PUBLIC_KEY must be set together")
	}
	if c.RateLimitEnabled && (c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0) {
		return fmt.Errorf("config: AKSI_RATE_LIMIT_RPS and AKSI_RATE_LIMIT_BURST must be positive")
	}
	if c.RateLimitEnabled && (c.RateLimitStaleAfter <= 0 || c.RateLimitSweepInterval <= 0) {
		return fmt.Errorf("config: AKSI_RATE_LIMIT_STALE_AFTER and AKSI_RATE_LIMIT_SWEEP_INTERVAL must be positive")
	}
	if c.ProofSeedPath == "" {
		return fmt.Errorf("config: AKSI_PROOF_SEED_PATH is required")
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// envStrAllowEmpty distinguishes an explicitly empty variable from an unset one.
func envStrAllowEmpty(key, defaultVal string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return defaultVal
}

func envList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}

func envInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envFloat(key string, defaultVal float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid number", key, v)
	}
	return f, nil
}

func envBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s=%q is not a valid boolean", key, v)
	}
	return b, nil
}

func envDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid duration", key, v)
	}
	return d, nil
}
