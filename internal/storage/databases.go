// Package storage holds the snapshot cache, the balance history store and
// the protocol registry store, plus the connections they share.
package storage

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/portfolio-valuator/internal/config"
)

const (
	connectTimeout = 10 * time.Second
	pingTimeout    = 5 * time.Second
	applicationTag = "portfolio-valuator"
)

// pingWithin bounds a connectivity probe so a dead host fails startup fast
func pingWithin(ctx context.Context, ping func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return ping(ctx)
}

// ClickHouseDB is the connection behind the balance history store
type ClickHouseDB struct {
	conn driver.Conn
}

// NewClickHouseDB connects to ClickHouse. History rows arrive in one batch
// per wallet rebuild, so the pool stays small.
func NewClickHouseDB(ctx context.Context, cfg config.ClickHouseConfig) (*ClickHouseDB, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{net.JoinHostPort(cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		ClientInfo: clickhouse.ClientInfo{
			Products: []struct{ Name, Version string }{{Name: applicationTag, Version: "1"}},
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 30,
		},
		DialTimeout:     connectTimeout,
		MaxOpenConns:    4,
		MaxIdleConns:    2,
		ConnMaxLifetime: 30 * time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open ClickHouse at %s:%s: %w", cfg.Host, cfg.Port, err)
	}
	if err := pingWithin(ctx, conn.Ping); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}
	return &ClickHouseDB{conn: conn}, nil
}

func (db *ClickHouseDB) Conn() driver.Conn { return db.conn }

func (db *ClickHouseDB) Ping(ctx context.Context) error { return db.conn.Ping(ctx) }

// Exec runs one statement; migrations use it
func (db *ClickHouseDB) Exec(ctx context.Context, query string, args ...interface{}) error {
	return db.conn.Exec(ctx, query, args...)
}

func (db *ClickHouseDB) Close() error {
	if db.conn == nil {
		return nil
	}
	return db.conn.Close()
}

// PostgresDB is the pool behind the protocol registry store
type PostgresDB struct {
	pool *pgxpool.Pool
}

// NewPostgresDB connects to Postgres. The registry is read once at startup
// and written only by the admin CLI, so one idle connection is enough.
func NewPostgresDB(ctx context.Context, cfg config.PostgresConfig) (*PostgresDB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL())
	if err != nil {
		return nil, fmt.Errorf("invalid Postgres settings: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConnections) // #nosec G115 - MaxConnections is small
	}
	poolConfig.MinConns = 0
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	poolConfig.ConnConfig.RuntimeParams["application_name"] = applicationTag

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to open Postgres pool: %w", err)
	}
	if err := pingWithin(ctx, pool.Ping); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping Postgres: %w", err)
	}
	return &PostgresDB{pool: pool}, nil
}

func (db *PostgresDB) Pool() *pgxpool.Pool { return db.pool }

func (db *PostgresDB) Ping(ctx context.Context) error { return db.pool.Ping(ctx) }

func (db *PostgresDB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}
