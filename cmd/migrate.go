package cmd

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sisques-labs/project-starter-sub009/internal/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		dbs, err := database.Connect(cfg.Database)
		if err != nil {
			return err
		}
		defer dbs.Close()

		log.Info().Msg("Running database migrations...")
		return dbs.AutoMigrate()
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
