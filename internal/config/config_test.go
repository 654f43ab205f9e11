package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	// Neutralize ambient environment so defaults are actually exercised.
	for _, key := range []string{"PORT", "ENV", "LOG_LEVEL", "DATABASE_URL", "EXPORT_DIR", "AUDIT_RETENTION_DAYS"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultEnv, cfg.Env)
	assert.Equal(t, DefaultLogLevel, cfg.LogLevel)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Equal(t, DefaultExportDir, cfg.ExportDir)
	assert.Equal(t, DefaultRetentionDays, cfg.AuditRetentionDays)
	assert.InDelta(t, 0.3, cfg.RiskBandMedium, 0.001)
	assert.InDelta(t, 0.6, cfg.RiskBandHigh, 0.001)
	assert.InDelta(t, 0.85, cfg.RiskBandCritical, 0.001)
	assert.Equal(t, []float64{1000, 10000, 50000}, cfg.RiskAmountBands)
	assert.Equal(t, time.Hour, cfg.VelocityWindow)
	assert.Equal(t, 10, cfg.VelocityThreshold)
	assert.Equal(t, 5*time.Minute, cfg.RiskValidity)
	assert.Equal(t, 30*time.Second, cfg.MonitorPollInterval)
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "production")
	t.Setenv("DATABASE_URL", "postgres://localhost/qwallet")
	t.Setenv("RISK_VELOCITY_THRESHOLD", "25")
	t.Setenv("RISK_VELOCITY_WINDOW", "30m")
	t.Setenv("MONITOR_POLL_INTERVAL", "5s")
	t.Setenv("AUDIT_RETENTION_DAYS", "90")
	t.Setenv("RISK_AMOUNT_BANDS", "500, 2500, 20000")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, []float64{500, 2500, 20000}, cfg.RiskAmountBands)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "postgres://localhost/qwallet", cfg.DatabaseURL)
	assert.Equal(t, 25, cfg.VelocityThreshold)
	assert.Equal(t, 30*time.Minute, cfg.VelocityWindow)
	assert.Equal(t, 5*time.Second, cfg.MonitorPollInterval)
	assert.Equal(t, 90, cfg.AuditRetentionDays)
}

func TestLoad_MalformedValuesFallBack(t *testing.T) {
	t.Setenv("RISK_VELOCITY_THRESHOLD", "lots")
	t.Setenv("RISK_VELOCITY_WINDOW", "soon")
	t.Setenv("RISK_BAND_MEDIUM", "not-a-float")
	t.Setenv("RISK_AMOUNT_BANDS", "1000,lots,50000")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.VelocityThreshold)
	assert.Equal(t, time.Hour, cfg.VelocityWindow)
	assert.InDelta(t, 0.3, cfg.RiskBandMedium, 0.001)
	// One bad entry discards the whole list, never a partial one.
	assert.Equal(t, []float64{1000, 10000, 50000}, cfg.RiskAmountBands)
}

func TestValidate_RiskBandOrdering(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"medium out of range", func(c *Config) { c.RiskBandMedium = 1.2 }, "RISK_BAND_MEDIUM"},
		{"high below medium", func(c *Config) { c.RiskBandHigh = 0.2 }, "RISK_BAND_HIGH"},
		{"critical below high", func(c *Config) { c.RiskBandCritical = 0.5 }, "RISK_BAND_CRITICAL"},
		{"retention non-positive", func(c *Config) { c.AuditRetentionDays = 0 }, "AUDIT_RETENTION_DAYS"},
		{"amount bands empty", func(c *Config) { c.RiskAmountBands = nil }, "RISK_AMOUNT_BANDS"},
		{"amount bands unordered", func(c *Config) { c.RiskAmountBands = []float64{1000, 500} }, "RISK_AMOUNT_BANDS"},
		{"amount bands non-positive", func(c *Config) { c.RiskAmountBands = []float64{0, 500} }, "RISK_AMOUNT_BANDS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)
			tt.mutate(cfg)
			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoad_InvalidBandsRejected(t *testing.T) {
	t.Setenv("RISK_BAND_MEDIUM", "0.9")
	t.Setenv("RISK_BAND_HIGH", "0.95")

	// Critical defaults to 0.85, which now sits below high.
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RISK_BAND_CRITICAL")
}
