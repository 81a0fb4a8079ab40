package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	credmigrations "github.com/goliatone/go-credentials/migrations"
	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"

	defaultPingTimeout    = 5 * time.Second
	defaultOtelIdentifier = "go-credentials"
)

// PersistenceConfig satisfies the go-persistence-bun configuration contract.
type PersistenceConfig struct {
	Driver         string
	DSN            string
	Debug          bool
	PingTimeout    time.Duration
	OtelIdentifier string
}

func (c PersistenceConfig) GetDebug() bool {
	return c.Debug
}

func (c PersistenceConfig) GetDriver() string {
	return c.Driver
}

func (c PersistenceConfig) GetServer() string {
	return c.DSN
}

func (c PersistenceConfig) GetPingTimeout() time.Duration {
	if c.PingTimeout <= 0 {
		return defaultPingTimeout
	}
	return c.PingTimeout
}

func (c PersistenceConfig) GetOtelIdentifier() string {
	if strings.TrimSpace(c.OtelIdentifier) == "" {
		return defaultOtelIdentifier
	}
	return c.OtelIdentifier
}

// OpenPostgres connects through lib/pq and applies the postgres migrations.
func OpenPostgres(ctx context.Context, cfg PersistenceConfig) (*persistence.Client, error) {
	cfg.Driver = DriverPostgres
	return open(ctx, cfg, pgdialect.New(), credmigrations.DialectPostgres)
}

// OpenSQLite connects through mattn/go-sqlite3 and applies the sqlite
// migrations. The pool is pinned to one connection so in-memory databases
// stay shared.
func OpenSQLite(ctx context.Context, cfg PersistenceConfig) (*persistence.Client, error) {
	cfg.Driver = DriverSQLite
	return open(ctx, cfg, sqlitedialect.New(), credmigrations.DialectSQLite)
}

func open(ctx context.Context, cfg PersistenceConfig, dialect schema.Dialect, migrationDialect string) (*persistence.Client, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("sqlstore: dsn is required")
	}
	sqlDB, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", cfg.Driver, err)
	}
	if cfg.Driver == DriverSQLite {
		sqlDB.SetMaxOpenConns(1)
	}

	client, err := persistence.New(cfg, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("sqlstore: new persistence client: %w", err)
	}

	migrationsFS, err := credmigrations.ForDialect(migrationDialect)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	client.RegisterSQLMigrations(migrationsFS)
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("sqlstore: migrate: %w", err)
	}
	return client, nil
}

// NewTokenStoreFromPersistence accepts a *persistence.Client, any value
// exposing DB() *bun.DB, or a *bun.DB.
func NewTokenStoreFromPersistence(client any) (*TokenStore, error) {
	db, err := resolveBunDB(client)
	if err != nil {
		return nil, err
	}
	return NewTokenStore(db)
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
