package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv(ConfigPathEnv, "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.HTTP.Addr())
	assert.Equal(t, "postgres", cfg.DB.Driver)
	assert.Equal(t, 2, cfg.Detection.DetectorInterval)
	assert.Equal(t, 3, cfg.Detection.PlateInterval)
	assert.Equal(t, 2*time.Second, cfg.Detection.OCRCooldown)
	assert.Equal(t, 3000, cfg.Detection.PlateMaxAgeFrames)
	assert.Equal(t, 5*time.Second, cfg.Violation.GracePeriod)
	assert.Equal(t, 15*time.Second, cfg.Violation.ViolationThreshold)
	assert.Equal(t, 10*time.Second, cfg.Violation.NotificationCooldown)
	assert.InDelta(t, 2500.0, cfg.Ledger.FineAmount, 1e-9)
	assert.Equal(t, []string{"*"}, cfg.CORS.AllowedOrigins)
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
db:
  driver: sqlite
  dsn: file:parking.db
violation:
  warning_threshold: 3s
  violation_threshold: 9s
zones:
  source: file
  file: /etc/parking/zones.json
`), 0o644))

	t.Setenv("PVS_VIOLATION_VIOLATION_THRESHOLD", "20s")
	t.Setenv("PVS_HTTP_PORT", "9090")

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.DB.Driver)
	assert.Equal(t, 3*time.Second, cfg.Violation.WarningThreshold)
	assert.Equal(t, 20*time.Second, cfg.Violation.ViolationThreshold)
	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, "/etc/parking/zones.json", cfg.Zones.File)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Setenv(ConfigPathEnv, "")
	valid := func() *Config {
		cfg, err := Load()
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"unknown driver", func(c *Config) { c.DB.Driver = "oracle" }},
		{"violation before warning", func(c *Config) { c.Violation.ViolationThreshold = c.Violation.WarningThreshold }},
		{"zero interval", func(c *Config) { c.Detection.DetectorInterval = 0 }},
		{"confidence above one", func(c *Config) { c.Detection.TrackedPlateConfidence = 1.5 }},
		{"secret in production", func(c *Config) { c.Environment = "production"; c.Auth.JWTSecret = "" }},
		{"unknown zone source", func(c *Config) { c.Zones.Source = "s3" }},
		{"negative retention", func(c *Config) { c.Ledger.RetentionDays = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, valid().Validate())
}
