// Package config loads the quotad configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/calderadb/quotad/pkg/cluster/adminapi"
	"github.com/calderadb/quotad/pkg/observer"
)

// Duration is a time.Duration that unmarshals from YAML scalars like "5m"
// or "90s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

type DB struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type Admin struct {
	URL     string   `yaml:"url"`
	Timeout Duration `yaml:"timeout"`
}

type Reports struct {
	// Queue is the name of an SQS queue carrying region size report
	// batches.  Empty disables queue ingest; reports still arrive over
	// HTTP.
	Queue string `yaml:"queue"`
	// MaxAge is how long a region size report stays live without being
	// refreshed.  Zero disables pruning.
	MaxAge Duration `yaml:"max_age"`
}

type Observer struct {
	Period       Duration `yaml:"period"`
	InitialDelay Duration `yaml:"initial_delay"`
	ReportRatio  float64  `yaml:"report_ratio"`
}

type Config struct {
	Listen   string   `yaml:"listen"`
	DB       DB       `yaml:"db"`
	Admin    Admin    `yaml:"admin"`
	Reports  Reports  `yaml:"reports"`
	Observer Observer `yaml:"observer"`
}

// Default returns the configuration used when no file or option overrides
// it.
func Default() Config {
	return Config{
		Listen: ":8620",
		DB:     DB{Driver: "pgx"},
		Admin:  Admin{Timeout: Duration(adminapi.DefaultTimeout)},
		Reports: Reports{
			MaxAge: Duration(30 * time.Minute),
		},
		Observer: Observer{
			Period:       Duration(observer.DefaultPeriod),
			InitialDelay: Duration(observer.DefaultInitialDelay),
			ReportRatio:  observer.DefaultReportRatio,
		},
	}
}

// Load reads path on top of the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects configurations the daemon cannot run with.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address required")
	}
	if c.DB.DSN == "" {
		return fmt.Errorf("db.dsn required")
	}
	if c.Admin.URL == "" {
		return fmt.Errorf("admin.url required")
	}
	if c.Observer.Period <= 0 {
		return fmt.Errorf("observer.period must be positive")
	}
	if c.Observer.InitialDelay < 0 {
		return fmt.Errorf("observer.initial_delay must not be negative")
	}
	if c.Observer.ReportRatio < 0 || c.Observer.ReportRatio > 1 {
		return fmt.Errorf("observer.report_ratio %v out of range [0,1]", c.Observer.ReportRatio)
	}
	if c.Reports.MaxAge < 0 {
		return fmt.Errorf("reports.max_age must not be negative")
	}
	return nil
}
