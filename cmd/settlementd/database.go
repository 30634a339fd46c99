package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/MarkoPoloResearchLab/settlement/internal/config"
	"github.com/MarkoPoloResearchLab/settlement/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/settlement/internal/store/pgstore"
	"github.com/MarkoPoloResearchLab/settlement/pkg/settlement"
	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	driverPostgres    = "postgres"
	driverSQLite      = "sqlite"
	defaultSQLiteFile = "settlement.db"
)

// backend is what settlementd needs from either store implementation.
type backend interface {
	settlement.Store
	settlement.Directory
	UpsertParty(ctx context.Context, party settlement.Party) error
	UpsertJob(ctx context.Context, job settlement.Job) error
}

type openedBackend struct {
	store backend
	ready func(ctx context.Context) error
	close func() error
}

func openBackend(ctx context.Context, cfg config.Config) (openedBackend, error) {
	if cfg.StoreDriver == config.StoreDriverPgx {
		pool, err := pgstore.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return openedBackend{}, fmt.Errorf("database open: %w", err)
		}
		if err := pgstore.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return openedBackend{}, err
		}
		return openedBackend{
			store: pgstore.New(pool),
			ready: pool.Ping,
			close: func() error {
				pool.Close()
				return nil
			},
		}, nil
	}

	gormDB, cleanup, driver, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return openedBackend{}, fmt.Errorf("database open: %w", err)
	}
	if err := prepareSchema(ctx, gormDB, driver); err != nil {
		_ = cleanup()
		return openedBackend{}, err
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		_ = cleanup()
		return openedBackend{}, err
	}
	return openedBackend{
		store: gormstore.New(gormDB),
		ready: sqlDB.PingContext,
		close: cleanup,
	}, nil
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, string, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, "", err
	}

	var db *gorm.DB
	cfg := &gorm.Config{}
	switch driver {
	case driverPostgres:
		db, err = gorm.Open(postgres.Open(dsn), cfg)
	case driverSQLite:
		db, err = gorm.Open(sqlite.Open(sqlitePath), cfg)
	default:
		return nil, nil, "", fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, "", err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, "", err
	}
	cleanup := func() error { return sqlDB.Close() }
	return db.WithContext(ctx), cleanup, driver, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return driverPostgres, "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := u.Path
		if path == "" {
			path = u.Host
		}
		if path == "" || path == "/" {
			path = defaultSQLiteFile
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return driverSQLite, sqlitePath, err
	}
	// Anything else is a direct sqlite path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return driverSQLite, sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}

// prepareSchema auto-migrates sqlite only; postgres schemas are managed by the migrate command.
func prepareSchema(ctx context.Context, db *gorm.DB, driver string) error {
	if driver != driverSQLite {
		return nil
	}
	if err := gormstore.Migrate(ctx, db); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
