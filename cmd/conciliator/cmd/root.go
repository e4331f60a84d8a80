package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"conciliation-service/cmd/conciliator/config"
	"conciliation-service/internal/reconciler"
	"conciliation-service/internal/store"
	"conciliation-service/pkg/logger"
)

var (
	cfgFile   string
	verbose   bool
	configErr error
	version   = "dev"
	commit    = "unknown"
	date      = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "conciliator",
	Short: "Bank statement reconciliation service",
	Long: `Conciliator matches imported bank statement lines against ledger entries,
records suggestions and tracks every line through confirmation, rejection
or being ignored. It runs as an HTTP service or as one-shot commands against
the same database.

Examples:
  conciliator migrate up
  conciliator import statements.json --tenant acme
  conciliator suggest --tenant acme --from 2025-08-01 --format csv
  conciliator confirm 5f0c... --entries e-41,e-42
  conciliator serve --addr :8080`,
	Version:       getVersionString(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	cobra.OnInitialize(initConfig)
	config.SetDefaults(viper.GetViper())

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (optional)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "verbose error output")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.String("log-format", "text", "log format: text, json")
	flags.String("db-driver", "sqlite", "database driver: postgres, sqlite, memory")
	flags.String("db-dsn", "conciliator.db", "database connection string")

	viper.BindPFlag("verbose", flags.Lookup("verbose"))
	viper.BindPFlag("log.level", flags.Lookup("log-level"))
	viper.BindPFlag("log.format", flags.Lookup("log-format"))
	viper.BindPFlag("database.driver", flags.Lookup("db-driver"))
	viper.BindPFlag("database.dsn", flags.Lookup("db-dsn"))
}

// initConfig reads in config file and ENV variables.
func initConfig() {
	configErr = nil
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			configErr = fmt.Errorf("error reading config file %s: %w", cfgFile, err)
			return
		}
	}

	viper.SetEnvPrefix(config.EnvPrefix)
	viper.SetEnvKeyReplacer(config.EnvKeyReplacer())
	viper.AutomaticEnv()
}

// runtime holds the dependencies shared by the commands
type runtime struct {
	config  *config.Config
	logger  logger.Logger
	store   store.Store
	service *reconciler.Service
}

func newRuntime() (*runtime, error) {
	if configErr != nil {
		return nil, configErr
	}

	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}
	log, err := cfg.NewLogger()
	if err != nil {
		return nil, err
	}
	logger.SetGlobalLogger(log)

	st, err := cfg.OpenStore(log)
	if err != nil {
		return nil, err
	}
	service, err := cfg.NewService(st, log)
	if err != nil {
		st.Close()
		return nil, err
	}

	return &runtime{config: cfg, logger: log, store: st, service: service}, nil
}

func (r *runtime) Close() {
	if err := r.store.Close(); err != nil {
		r.logger.WithError(err).Warn("Failed to close store")
	}
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = getVersionString()
}

func getVersionString() string {
	if version == "dev" {
		return fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	}
	return version
}
