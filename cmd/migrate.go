package cmd

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/vibast-solutions/ms-go-esim/app/migration"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the embedded MySQL schema migrations",
	Run: func(_ *cobra.Command, _ []string) {
		cfg := mustLoadConfig()
		db := mustOpenDatabase(cfg)
		defer func() {
			if err := db.Close(); err != nil {
				logrus.WithError(err).Warn("Failed to close database")
			}
		}()

		files, err := migration.Files()
		if err != nil {
			logrus.WithError(err).Fatal("Failed to list migrations")
		}
		if err := migration.Run(db); err != nil {
			logrus.WithError(err).Fatal("Failed to apply migrations")
		}
		logrus.WithField("files", len(files)).Info("Migrations applied")
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
