package commands

import (
	"database/sql"

	"github.com/spf13/cobra"

	"github.com/luminabi/lumina/config"
	"github.com/luminabi/lumina/db"
	"github.com/luminabi/lumina/errors"
	"github.com/luminabi/lumina/logger"
)

// loadConfig honors the global --config flag, falling back to the default
// search path.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// openDatabase opens the scheduler database and applies pending
// migrations.
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	database, err := db.Open(cfg.Database.Path, logger.Logger)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(database, logger.Logger); err != nil {
		database.Close()
		return nil, errors.Wrap(err, "failed to migrate database")
	}
	return database, nil
}
