// Package db opens the relational store: postgres in production, sqlite for
// single-node installs and tests.
package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type Options struct {
	// PostgresURL wins when set; otherwise SQLitePath is opened.
	PostgresURL string
	SQLitePath  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	// SlowQuery logs statements slower than this at warn level; 0 means 200ms.
	SlowQuery time.Duration
	Logger    *zap.Logger
}

func (o Options) Kind() string {
	if o.PostgresURL != "" {
		return "postgres"
	}
	return "sqlite"
}

func Open(ctx context.Context, opts Options) (*gorm.DB, error) {
	gcfg := &gorm.Config{Logger: newGormLogger(opts.Logger, opts.SlowQuery)}

	var (
		gdb *gorm.DB
		err error
	)
	if opts.PostgresURL != "" {
		gdb, err = gorm.Open(postgres.Open(opts.PostgresURL), gcfg)
	} else {
		if strings.TrimSpace(opts.SQLitePath) == "" {
			return nil, fmt.Errorf("db: neither postgres url nor sqlite path configured")
		}
		gdb, err = gorm.Open(sqlite.Open(sqliteDSN(opts.SQLitePath)), gcfg)
		// one writer; concurrent upserts wait on busy_timeout instead of failing
		opts.MaxOpenConns, opts.MaxIdleConns = 1, 1
	}
	if err != nil {
		return nil, fmt.Errorf("db: open %s: %w", opts.Kind(), err)
	}
	if err := configurePool(ctx, gdb, opts); err != nil {
		return nil, fmt.Errorf("db: %s: %w", opts.Kind(), err)
	}
	return gdb, nil
}

// sqliteDSN appends the pragmas to a path or an existing file: URI.
func sqliteDSN(path string) string {
	pragmas := "_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	if !strings.Contains(path, "mode=memory") {
		pragmas += "&_pragma=journal_mode(WAL)"
	}
	if strings.Contains(path, "?") {
		return path + "&" + pragmas
	}
	return path + "?" + pragmas
}

func configurePool(ctx context.Context, gdb *gorm.DB, opts Options) error {
	sqlDB, err := gdb.DB()
	if err != nil {
		return err
	}
	maxOpen := opts.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 10
	}
	maxIdle := min(max(opts.MaxIdleConns, 0), maxOpen)
	lifetime := opts.ConnMaxLifetime
	if lifetime <= 0 {
		lifetime = 30 * time.Minute
	}
	idleTime := opts.ConnMaxIdleTime
	if idleTime <= 0 {
		idleTime = 5 * time.Minute
	}

	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetConnMaxLifetime(lifetime)
	sqlDB.SetConnMaxIdleTime(idleTime)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return err
	}
	return nil
}

// Close releases the underlying pool.
func Close(gdb *gorm.DB) error {
	if gdb == nil {
		return nil
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
