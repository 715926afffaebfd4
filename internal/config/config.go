// Package config defines all configuration for the exchange core
// process. Config is loaded from a YAML file (default:
// configs/config.yaml) with sensitive fields overridable via IONEX_*
// environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML
// file structure.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Reports   ReportsConfig   `mapstructure:"reports"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Bootstrap BootstrapConfig `mapstructure:"bootstrap"`
}

// ServerConfig controls the HTTP JSON API listener (A4).
type ServerConfig struct {
	ListenAddr      string        `mapstructure:"listen_addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LedgerConfig tunes the settle_trade contention/retry policy of
// spec.md §4.2/§5.
//
//   - MaxSettleAttempts: bounded retry count on lock-acquisition
//     contention before surfacing Overloaded.
//   - SettleBackoffUnit: backoff is SettleBackoffUnit * attempt.
type LedgerConfig struct {
	MaxSettleAttempts int           `mapstructure:"max_settle_attempts"`
	SettleBackoffUnit time.Duration `mapstructure:"settle_backoff_unit"`
}

// ReportsConfig configures the report worker pool (A7). Bucket,
// Endpoint and the access keys are loaded but no store in this
// repository reads them: reports are always written under LocalDir
// (see internal/reports.LocalStore), whether or not Bucket is set.
type ReportsConfig struct {
	Workers  int    `mapstructure:"workers"`
	LocalDir string `mapstructure:"local_dir"`
	Bucket   string `mapstructure:"bucket"`
	Endpoint string `mapstructure:"endpoint"`
	// AccessKey/SecretKey are never read from YAML; only from env
	// (IONEX_REPORTS_ACCESS_KEY / IONEX_REPORTS_SECRET_KEY).
	AccessKey string `mapstructure:"-"`
	SecretKey string `mapstructure:"-"`
}

// LoggingConfig controls the zerolog sink.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// BootstrapConfig seeds the first administrator at process start, so
// there is always an ADMIN-role identity able to admit instruments and
// manage balances (spec.md §4.8 requires role ADMIN for every admin op,
// and the public API mints only USER-role accounts).
type BootstrapConfig struct {
	AdminName string `mapstructure:"admin_name"`
}

// Load reads config from a YAML file with env var overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("IONEX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("ledger.max_settle_attempts", 3)
	v.SetDefault("ledger.settle_backoff_unit", 100*time.Millisecond)
	v.SetDefault("reports.workers", 4)
	v.SetDefault("reports.local_dir", "./data/reports")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("bootstrap.admin_name", "admin")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if key := os.Getenv("IONEX_REPORTS_ACCESS_KEY"); key != "" {
		cfg.Reports.AccessKey = key
	}
	if secret := os.Getenv("IONEX_REPORTS_SECRET_KEY"); secret != "" {
		cfg.Reports.SecretKey = secret
	}

	return &cfg, nil
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required")
	}
	if c.Ledger.MaxSettleAttempts <= 0 {
		return fmt.Errorf("ledger.max_settle_attempts must be > 0")
	}
	if c.Ledger.SettleBackoffUnit <= 0 {
		return fmt.Errorf("ledger.settle_backoff_unit must be > 0")
	}
	if c.Reports.Workers <= 0 {
		return fmt.Errorf("reports.workers must be > 0")
	}
	if c.Reports.Bucket == "" && c.Reports.LocalDir == "" {
		return fmt.Errorf("one of reports.bucket or reports.local_dir is required")
	}
	return nil
}
