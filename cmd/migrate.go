package cmd

import (
	"fmt"

	"github.com/mautops/report-gin/internal/api"
	"github.com/mautops/report-gin/internal/config"
	"github.com/mautops/report-gin/internal/database"
	"github.com/spf13/cobra"
)

// migrateCmd represents the migrate command
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	Long: `Run database migrations to create or update database schema.
This command will:
- Create the report task, step history and audit log tables if they don't exist
- Update table schemas if needed
- Create indexes for status and publication queries

The command uses the database configuration from the config file or environment variables.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		logger, err := api.NewLoggerFromConfig(&cfg.Log)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		log := logger.WithField("driver", cfg.Database.Driver)
		if cfg.Database.Driver == "sqlite" {
			log = log.WithField("path", cfg.Database.SQLitePath)
		} else {
			log = log.WithField("target", fmt.Sprintf("%s@%s:%d/%s",
				cfg.Database.User, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName))
		}
		log.Info("Connecting to database")

		db, err := database.Connect(cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to connect database: %w", err)
		}
		defer database.Close(db)

		log.Info("Running database migrations")
		if err := database.Migrate(db); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}

		log.Info("Database migrations completed")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
