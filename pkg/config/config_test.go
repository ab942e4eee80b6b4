package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calderadb/quotad/pkg/config"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "quotad.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
listen: ":9999"
db:
  dsn: postgres://quotad@db/quotad
admin:
  url: http://master:16000
  timeout: 3s
reports:
  queue: https://sqs.example.com/123/region-reports
  max_age: 1h
observer:
  period: 2m
  initial_delay: 15s
  report_ratio: 0.9
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.Listen)
	// Unset keys keep their defaults.
	assert.Equal(t, "pgx", cfg.DB.Driver)
	assert.Equal(t, "postgres://quotad@db/quotad", cfg.DB.DSN)
	assert.Equal(t, config.Duration(3*time.Second), cfg.Admin.Timeout)
	assert.Equal(t, config.Duration(time.Hour), cfg.Reports.MaxAge)
	assert.Equal(t, config.Duration(2*time.Minute), cfg.Observer.Period)
	assert.Equal(t, config.Duration(15*time.Second), cfg.Observer.InitialDelay)
	assert.Equal(t, 0.9, cfg.Observer.ReportRatio)

	assert.NoError(t, cfg.Validate())
}

func TestLoadBadDuration(t *testing.T) {
	path := writeConfig(t, `
observer:
  period: five minutes
`)
	_, err := config.Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "no-such.yaml"))
	assert.Error(t, err)
}

func TestDefaultsAreSane(t *testing.T) {
	cfg := config.Default()
	assert.Equal(t, config.Duration(5*time.Minute), cfg.Observer.Period)
	assert.Equal(t, config.Duration(time.Minute), cfg.Observer.InitialDelay)
	assert.Equal(t, 0.95, cfg.Observer.ReportRatio)
}

func TestValidate(t *testing.T) {
	valid := config.Default()
	valid.DB.DSN = "postgres://quotad@db/quotad"
	valid.Admin.URL = "http://master:16000"
	require.NoError(t, valid.Validate())

	cases := []struct {
		Name  string
		Break func(cfg *config.Config)
	}{
		{"NoListen", func(cfg *config.Config) { cfg.Listen = "" }},
		{"NoDSN", func(cfg *config.Config) { cfg.DB.DSN = "" }},
		{"NoAdminURL", func(cfg *config.Config) { cfg.Admin.URL = "" }},
		{"ZeroPeriod", func(cfg *config.Config) { cfg.Observer.Period = 0 }},
		{"NegativeDelay", func(cfg *config.Config) { cfg.Observer.InitialDelay = -1 }},
		{"RatioOverOne", func(cfg *config.Config) { cfg.Observer.ReportRatio = 1.5 }},
		{"NegativeMaxAge", func(cfg *config.Config) { cfg.Reports.MaxAge = config.Duration(-time.Minute) }},
	}
	for _, tc := range cases {
		t.Run(tc.Name, func(t *testing.T) {
			cfg := valid
			tc.Break(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
