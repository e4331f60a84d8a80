// Package config turns viper keys into the typed configurations of the
// service packages and builds the runtime dependencies from them.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"conciliation-service/internal/matcher"
	"conciliation-service/internal/reconciler"
	"conciliation-service/internal/reporter"
	"conciliation-service/internal/store"
	"conciliation-service/internal/store/memory"
	"conciliation-service/internal/store/sqlstore"
	"conciliation-service/internal/transfer"
	"conciliation-service/pkg/errors"
	"conciliation-service/pkg/logger"
)

// DriverMemory keeps everything in process memory; data is lost on exit.
const DriverMemory = "memory"

// EnvPrefix is the prefix of every environment variable read by viper
const EnvPrefix = "CONCILIATOR"

// EnvKeyReplacer maps nested keys onto environment names, so
// matching.amount_epsilon is read from CONCILIATOR_MATCHING_AMOUNT_EPSILON.
func EnvKeyReplacer() *strings.Replacer {
	return strings.NewReplacer(".", "_")
}

// DatabaseConfig selects and configures the store
type DatabaseConfig struct {
	Driver      string `mapstructure:"driver"`
	DSN         string `mapstructure:"dsn"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`
}

// ServerConfig configures the HTTP server
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Config is the complete runtime configuration
type Config struct {
	Database     DatabaseConfig
	Server       ServerConfig
	Matching     *matcher.MatchingConfig
	Run          *reconciler.Config
	Log          *logger.Config
	KeywordsFile string
}

// SetDefaults registers the default value of every key
func SetDefaults(v *viper.Viper) {
	m := matcher.DefaultMatchingConfig()
	r := reconciler.DefaultConfig()
	l := logger.DefaultConfig()

	v.SetDefault("database.driver", sqlstore.DriverSQLite)
	v.SetDefault("database.dsn", "conciliator.db")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("matching.profile", matcher.ProfileDefault)
	setMatchingDefaults(v, m)
	v.SetDefault("matching.timezone", "ignore")

	v.SetDefault("transfer.keywords_file", "")

	v.SetDefault("run.concurrency", r.Concurrency)
	v.SetDefault("run.batch_limit", r.BatchLimit)
	v.SetDefault("run.progress_interval", r.ProgressInterval)

	v.SetDefault("log.level", string(l.Level))
	v.SetDefault("log.format", string(l.Format))
	v.SetDefault("log.output", string(l.Output))
	v.SetDefault("log.file", "")
}

// setMatchingDefaults registers the tuning keys of a matching preset. Values
// set explicitly in a file, the environment or a flag still win.
func setMatchingDefaults(v *viper.Viper, m *matcher.MatchingConfig) {
	v.SetDefault("matching.amount_epsilon", m.AmountEpsilon)
	v.SetDefault("matching.exact_date_window_days", m.ExactDateWindowDays)
	v.SetDefault("matching.suggested_tolerance_percent", m.SuggestedTolerancePercent)
	v.SetDefault("matching.suggested_date_window_days", m.SuggestedDateWindowDays)
	v.SetDefault("matching.fallback_tolerance_percent", m.FallbackTolerancePercent)
	v.SetDefault("matching.fallback_date_window_days", m.FallbackDateWindowDays)
	v.SetDefault("matching.enable_aggregates", m.EnableAggregates)
	v.SetDefault("matching.aggregate_date_window_days", m.AggregateDateWindowDays)
	v.SetDefault("matching.max_aggregate_size", m.MaxAggregateSize)
	v.SetDefault("matching.max_aggregate_candidates", m.MaxAggregateCandidates)
	v.SetDefault("matching.max_search_steps", m.MaxSearchSteps)
	v.SetDefault("matching.confirm_tolerance_percent", m.ConfirmTolerancePercent)
	v.SetDefault("matching.business_timezone", m.BusinessTimezone)
}

// Load reads the configuration from v and validates it. The matching.profile
// key picks the preset the individual matching keys fall back to.
func Load(v *viper.Viper) (*Config, error) {
	profile := v.GetString("matching.profile")
	preset, err := matcher.MatchingConfigForProfile(profile)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "matching.profile", profile, err)
	}
	setMatchingDefaults(v, preset)

	timezone, err := matcher.ParseTimezoneMode(v.GetString("matching.timezone"))
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "matching.timezone", v.GetString("matching.timezone"), err)
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Driver:      strings.ToLower(strings.TrimSpace(v.GetString("database.driver"))),
			DSN:         v.GetString("database.dsn"),
			AutoMigrate: v.GetBool("database.auto_migrate"),
		},
		Server: ServerConfig{
			Addr:            v.GetString("server.addr"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
		},
		Matching: &matcher.MatchingConfig{
			AmountEpsilon:             v.GetFloat64("matching.amount_epsilon"),
			ExactDateWindowDays:       v.GetInt("matching.exact_date_window_days"),
			SuggestedTolerancePercent: v.GetFloat64("matching.suggested_tolerance_percent"),
			SuggestedDateWindowDays:   v.GetInt("matching.suggested_date_window_days"),
			FallbackTolerancePercent:  v.GetFloat64("matching.fallback_tolerance_percent"),
			FallbackDateWindowDays:    v.GetInt("matching.fallback_date_window_days"),
			EnableAggregates:          v.GetBool("matching.enable_aggregates"),
			AggregateDateWindowDays:   v.GetInt("matching.aggregate_date_window_days"),
			MaxAggregateSize:          v.GetInt("matching.max_aggregate_size"),
			MaxAggregateCandidates:    v.GetInt("matching.max_aggregate_candidates"),
			MaxSearchSteps:            v.GetInt("matching.max_search_steps"),
			ConfirmTolerancePercent:   v.GetFloat64("matching.confirm_tolerance_percent"),
			TimezoneHandling:          timezone,
			BusinessTimezone:          v.GetString("matching.business_timezone"),
		},
		Run: &reconciler.Config{
			Concurrency:      v.GetInt("run.concurrency"),
			BatchLimit:       v.GetInt("run.batch_limit"),
			ProgressInterval: v.GetDuration("run.progress_interval"),
		},
		Log: &logger.Config{
			Level:  logger.Level(strings.ToLower(v.GetString("log.level"))),
			Format: logger.Format(strings.ToLower(v.GetString("log.format"))),
			Output: logger.Output(strings.ToLower(v.GetString("log.output"))),
			File:   v.GetString("log.file"),
		},
		KeywordsFile: v.GetString("transfer.keywords_file"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every section of the configuration
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverMemory:
	case sqlstore.DriverSQLite, sqlstore.DriverPostgres:
		if strings.TrimSpace(c.Database.DSN) == "" {
			return errors.ConfigurationError(errors.CodeMissingConfig, "database.dsn", c.Database.DSN, nil)
		}
	default:
		return errors.ConfigurationError(errors.CodeInvalidConfig, "database.driver", c.Database.Driver,
			fmt.Errorf("expected one of %s, %s, %s", sqlstore.DriverPostgres, sqlstore.DriverSQLite, DriverMemory))
	}

	sections := []struct {
		name     string
		validate func() error
	}{
		{"matching", c.Matching.Validate},
		{"run", c.Run.Validate},
		{"log", c.Log.Validate},
	}
	for _, s := range sections {
		if err := s.validate(); err != nil {
			return errors.ConfigurationError(errors.CodeInvalidConfig, s.name, nil, err)
		}
	}
	return nil
}

// NewLogger builds the logger described by the log section
func (c *Config) NewLogger() (logger.Logger, error) {
	log, err := logger.NewLogger(c.Log)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "log", c.Log, err)
	}
	return log, nil
}

// NewDetector loads the keyword table override when one is configured
func (c *Config) NewDetector() (*transfer.Detector, error) {
	if strings.TrimSpace(c.KeywordsFile) == "" {
		return transfer.Default(), nil
	}
	table, err := transfer.LoadTable(c.KeywordsFile)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "transfer.keywords_file", c.KeywordsFile, err)
	}
	detector, err := transfer.NewDetector(table)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "transfer.keywords_file", c.KeywordsFile, err)
	}
	return detector, nil
}

// OpenStore opens the configured store, applying migrations when
// auto_migrate is set.
func (c *Config) OpenStore(log logger.Logger) (store.Store, error) {
	if c.Database.Driver == DriverMemory {
		return memory.New(), nil
	}

	st, err := c.OpenSQLStore()
	if err != nil {
		return nil, err
	}
	if c.Database.AutoMigrate {
		if err := st.Migrate(); err != nil {
			st.Close()
			return nil, errors.StorageError(errors.CodeMigrationFailed, "migrate", err)
		}
		if version, _, err := st.SchemaVersion(); err == nil && log != nil {
			log.WithFields(logger.Fields{
				"driver":         c.Database.Driver,
				"schema_version": version,
			}).Debug("Database schema is current")
		}
	}
	return st, nil
}

// OpenSQLStore opens a relational store without touching its schema
func (c *Config) OpenSQLStore() (*sqlstore.Store, error) {
	if c.Database.Driver == DriverMemory {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "database.driver", c.Database.Driver,
			fmt.Errorf("a relational database driver is required"))
	}
	st, err := sqlstore.Open(c.Database.Driver, c.Database.DSN)
	if err != nil {
		return nil, errors.StorageError(errors.CodeConnectionFailed, "open", err)
	}
	return st, nil
}

// NewService wires a reconciliation service over st
func (c *Config) NewService(st store.Store, log logger.Logger) (*reconciler.Service, error) {
	detector, err := c.NewDetector()
	if err != nil {
		return nil, err
	}
	return reconciler.NewService(st, matcher.NewMatcher(c.Matching, detector), c.Run, log)
}

// CreateReportConfig creates a report configuration for the specified output format
func CreateReportConfig(format string) (*reporter.ReportConfig, error) {
	config := reporter.DefaultReportConfig()
	config.Format = reporter.OutputFormat(strings.ToLower(strings.TrimSpace(format)))

	switch config.Format {
	case reporter.FormatConsole:
		config.MaxConsoleItems = 50
	case reporter.FormatJSON:
		config.IncludeItems = true
	case reporter.FormatCSV:
		config.CSVHeaders = true
		config.CSVDelimiter = ','
	default:
		return nil, errors.InvalidRequestError(errors.CodeInvalidValue, "format", format).
			WithSuggestion("use console, json or csv")
	}
	return config, nil
}
