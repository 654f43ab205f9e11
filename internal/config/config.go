// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// External collaborators (all optional; absent services fall back to
	// local stand-ins: allow-all policy, simulated signer, no PDF export)
	PolicyServiceURL string
	SignerServiceURL string
	ReportServiceURL string
	ServiceTimeout   time.Duration

	// Audit
	ExportDir          string
	AuditRetentionDays int

	// Risk engine thresholds (governance-tunable)
	RiskBandMedium    float64 // score at or above moves LOW -> MEDIUM
	RiskBandHigh      float64
	RiskBandCritical  float64
	RiskAmountBands   []float64 // escalating amount severity cut points
	VelocityWindow    time.Duration
	VelocityThreshold int
	RiskValidity      time.Duration

	// Monitor
	MonitorPollInterval time.Duration

	// Tracing
	OTLPEndpoint string // empty disables tracing
}

// Defaults
const (
	DefaultPort          = "8080"
	DefaultEnv           = "development"
	DefaultLogLevel      = "info"
	DefaultExportDir     = "./exports"
	DefaultRetentionDays = 365
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                getEnv("PORT", DefaultPort),
		Env:                 getEnv("ENV", DefaultEnv),
		LogLevel:            getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:         os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		PolicyServiceURL:    os.Getenv("POLICY_SERVICE_URL"),
		SignerServiceURL:    os.Getenv("SIGNER_SERVICE_URL"),
		ReportServiceURL:    os.Getenv("REPORT_SERVICE_URL"),
		ServiceTimeout:      getEnvDuration("SERVICE_TIMEOUT", 10*time.Second),
		ExportDir:           getEnv("EXPORT_DIR", DefaultExportDir),
		AuditRetentionDays:  int(getEnvInt64("AUDIT_RETENTION_DAYS", DefaultRetentionDays)),
		RiskBandMedium:      getEnvFloat("RISK_BAND_MEDIUM", 0.3),
		RiskBandHigh:        getEnvFloat("RISK_BAND_HIGH", 0.6),
		RiskBandCritical:    getEnvFloat("RISK_BAND_CRITICAL", 0.85),
		RiskAmountBands:     getEnvFloats("RISK_AMOUNT_BANDS", []float64{1000, 10000, 50000}),
		VelocityWindow:      getEnvDuration("RISK_VELOCITY_WINDOW", time.Hour),
		VelocityThreshold:   int(getEnvInt64("RISK_VELOCITY_THRESHOLD", 10)),
		RiskValidity:        getEnvDuration("RISK_VALIDITY", 5*time.Minute),
		MonitorPollInterval: getEnvDuration("MONITOR_POLL_INTERVAL", 30*time.Second),
		OTLPEndpoint:        os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.RiskBandMedium <= 0 || c.RiskBandMedium >= 1 {
		return fmt.Errorf("RISK_BAND_MEDIUM must be in (0, 1)")
	}
	if c.RiskBandHigh <= c.RiskBandMedium || c.RiskBandHigh >= 1 {
		return fmt.Errorf("RISK_BAND_HIGH must be in (RISK_BAND_MEDIUM, 1)")
	}
	if c.RiskBandCritical <= c.RiskBandHigh || c.RiskBandCritical >= 1 {
		return fmt.Errorf("RISK_BAND_CRITICAL must be in (RISK_BAND_HIGH, 1)")
	}
	if len(c.RiskAmountBands) == 0 {
		return fmt.Errorf("RISK_AMOUNT_BANDS must list at least one cut point")
	}
	prev := 0.0
	for _, band := range c.RiskAmountBands {
		if band <= prev {
			return fmt.Errorf("RISK_AMOUNT_BANDS must be positive and strictly ascending")
		}
		prev = band
	}
	if c.AuditRetentionDays <= 0 {
		return fmt.Errorf("AUDIT_RETENTION_DAYS must be positive")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvFloats parses a comma-separated list of floats. A malformed list
// falls back to the default as a whole; partial lists are never used.
func getEnvFloats(key string, defaultValue []float64) []float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return defaultValue
		}
		out = append(out, f)
	}
	return out
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
