package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/openlibris/catalog-storage/internal/config"
	"github.com/openlibris/catalog-storage/internal/store"
	"github.com/openlibris/catalog-storage/pkg/log"
	"github.com/openlibris/catalog-storage/pkg/migrations"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.New()
		if err != nil {
			zap.S().Fatalw("reading configuration", "error", err)
		}

		logLvl, err := zap.ParseAtomicLevel(cfg.Service.LogLevel)
		if err != nil {
			logLvl = zap.NewAtomicLevelAt(zapcore.InfoLevel)
		}

		logger := log.InitLog(logLvl)
		defer func() { _ = logger.Sync() }()

		undo := zap.ReplaceGlobals(logger)
		defer undo()

		db, err := store.InitDB(cfg)
		if err != nil {
			zap.S().Fatalw("initializing data store", "error", err)
		}
		s := store.NewStore(db)
		defer s.Close()

		// goose migrations target postgres. The sqlite development store is
		// created from the gorm models instead.
		if cfg.Database.Type == "sqlite" {
			return s.InitialMigration()
		}

		return migrations.MigrateStore(db, cfg.Service.MigrationFolder)
	},
}
