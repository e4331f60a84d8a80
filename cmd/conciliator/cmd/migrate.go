package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"conciliation-service/cmd/conciliator/config"
	"conciliation-service/internal/store/sqlstore"
	"conciliation-service/pkg/errors"
	"conciliation-service/pkg/logger"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
	Long: `Migrate applies or reverts the embedded schema migrations on the
configured PostgreSQL or SQLite database.

Examples:
  conciliator migrate up
  conciliator migrate version
  conciliator migrate down --db-dsn scratch.db`,
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSQLStore(func(st *sqlstore.Store, log logger.Logger) error {
			err := logger.TimedOperation("migrate up", log, st.Migrate)
			if err != nil {
				return errors.StorageError(errors.CodeMigrationFailed, "migrate up", err)
			}
			return printSchemaVersion(cmd, st)
		})
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Revert every migration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSQLStore(func(st *sqlstore.Store, log logger.Logger) error {
			err := logger.TimedOperation("migrate down", log, st.MigrateDown)
			if err != nil {
				return errors.StorageError(errors.CodeMigrationFailed, "migrate down", err)
			}
			return printSchemaVersion(cmd, st)
		})
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the current schema version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSQLStore(func(st *sqlstore.Store, _ logger.Logger) error {
			return printSchemaVersion(cmd, st)
		})
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateVersionCmd)
}

// withSQLStore opens the configured relational store without applying
// migrations.
func withSQLStore(fn func(st *sqlstore.Store, log logger.Logger) error) error {
	if configErr != nil {
		return configErr
	}
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	log, err := cfg.NewLogger()
	if err != nil {
		return err
	}

	st, err := cfg.OpenSQLStore()
	if err != nil {
		return err
	}
	defer st.Close()

	log = log.WithComponent("migrate").WithField("driver", st.Driver())
	log.Debug("Opened database for migration")
	return fn(st, log)
}

func printSchemaVersion(cmd *cobra.Command, st *sqlstore.Store) error {
	version, dirty, err := st.SchemaVersion()
	if err != nil {
		return errors.StorageError(errors.CodeMigrationFailed, "schema version", err)
	}
	if dirty {
		fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (dirty)\n", version)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", version)
	return nil
}
