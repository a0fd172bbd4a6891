// Package mariadb stores identities in MariaDB 11.7+ using its native VECTOR type.
package mariadb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/kozaktomas/face-registry/internal/config"
	"go.uber.org/zap"
)

// Pool manages a MariaDB connection pool.
type Pool struct {
	db  *sql.DB
	log *zap.Logger
}

// NewPool creates a new MariaDB connection pool.
func NewPool(cfg *config.DatabaseConfig, log *zap.Logger) (*Pool, error) {
	if cfg.URL == "" {
		return nil, errors.New("MariaDB DSN is required")
	}
	if log == nil {
		log = zap.NewNop()
	}

	dsn, err := mysql.ParseDSN(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid MariaDB DSN: %w", err)
	}
	// Timestamps are scanned into time.Time.
	dsn.ParseTime = true
	dsn.Loc = time.UTC

	connector, err := mysql.NewConnector(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MariaDB: %w", err)
	}
	db := sql.OpenDB(connector)

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MariaDB: %w", err)
	}

	return &Pool{db: db, log: log}, nil
}

// Close closes the connection pool.
func (p *Pool) Close() error {
	if p.db != nil {
		if err := p.db.Close(); err != nil {
			return fmt.Errorf("closing database connection: %w", err)
		}
	}
	return nil
}

// Initialize connects to MariaDB, applies migrations and returns a ready identity repository.
func Initialize(ctx context.Context, cfg *config.DatabaseConfig, dim int, log *zap.Logger) (*IdentityRepository, error) {
	if cfg == nil || cfg.URL == "" {
		return nil, errors.New("MariaDB DSN is required")
	}

	pool, err := NewPool(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create MariaDB pool: %w", err)
	}

	if err := pool.Migrate(ctx, dim); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return NewIdentityRepository(pool), nil
}
