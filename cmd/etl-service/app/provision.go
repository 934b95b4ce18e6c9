package app

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/stacklok/reviews-etl/internal/bigquery"
)

func newProvisionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Create the BigQuery reviews table if it does not exist",
		Long: `Create the BigQuery table named by PROJECT_ID, DATASET_ID and TABLE_ID with the
reviews schema. An existing table is left untouched.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			envFile, _ := cmd.Flags().GetString("env-file")
			cfg, err := loadConfig(configPath, envFile)
			if err != nil {
				return err
			}

			if err := bigquery.Provision(cmd.Context(), cfg.BigQuery); err != nil {
				return fmt.Errorf("failed to provision BigQuery table: %w", err)
			}

			slog.Info("BigQuery table is ready")
			return nil
		},
	}

	cmd.Flags().String("config", "", "Path to configuration file (YAML format)")
	cmd.Flags().String("env-file", "", "Path to a .env file (defaults to ./.env when present)")
	return cmd
}
