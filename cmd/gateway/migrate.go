package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"github.com/xokuso/peluquerias-app-sub000/internal/config"
	"github.com/xokuso/peluquerias-app-sub000/internal/db"
	"github.com/xokuso/peluquerias-app-sub000/internal/migrate"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		_, closeDB, err := openDB(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer closeDB()
		logger.Info("schema up to date", zap.String("db", dbOptions(cfg, nil).Kind()))
		return nil
	},
}

// openDB connects and migrates.
func openDB(ctx context.Context, cfg config.Config, logger *zap.Logger) (*gorm.DB, func(), error) {
	gdb, err := db.Open(ctx, dbOptions(cfg, logger))
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, nil, err
	}
	closeDB := func() { _ = sqlDB.Close() }

	migCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := migrate.AutoMigrate(migCtx, gdb); err != nil {
		closeDB()
		return nil, nil, err
	}
	return gdb, closeDB, nil
}

func dbOptions(cfg config.Config, logger *zap.Logger) db.Options {
	return db.Options{
		PostgresURL:  cfg.PostgresURL,
		SQLitePath:   cfg.SQLitePath,
		MaxOpenConns: cfg.DBMaxOpenConns,
		MaxIdleConns: cfg.DBMaxIdleConns,
		Logger:       logger,
	}
}
