// Package pgsql implements a lifecycle engine storage backend using PostgreSQL.
package pgsql

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/magnab/lifecycle/engine/storage"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema contains the PostgreSQL schema for the engine storage.
// It is safe to apply more than once.
//
//go:embed schema.sql
var Schema string

// PgSQLStorage implements a storage.Storage using PostgreSQL.
type PgSQLStorage struct {
	queries
	pool *pgxpool.Pool
}

type config struct {
	dsn  string
	pool *pgxpool.Pool
}

// Option allows configuring a PgSQLStorage.
type Option func(*config)

// WithDSN sets the storage PostgreSQL connection string.
func WithDSN(dsn string) Option {
	return func(c *config) {
		c.dsn = dsn
	}
}

// WithPool sets a custom connection pool to the storage.
// If set, the DSN passed via WithDSN is ignored.
func WithPool(pool *pgxpool.Pool) Option {
	return func(c *config) {
		c.pool = pool
	}
}

// New creates and returns a new PgSQLStorage.
func New(ctx context.Context, opts ...Option) (*PgSQLStorage, error) {
	cfg := new(config)
	for _, opt := range opts {
		opt(cfg)
	}
	var err error
	if cfg.pool == nil {
		if cfg.dsn == "" {
			return nil, errors.New("empty dsn")
		}
		poolConfig, err := pgxpool.ParseConfig(cfg.dsn)
		if err != nil {
			return nil, fmt.Errorf("parsing dsn: %w", err)
		}
		if cfg.pool, err = pgxpool.NewWithConfig(ctx, poolConfig); err != nil {
			return nil, fmt.Errorf("creating pool: %w", err)
		}
	}
	if err = cfg.pool.Ping(ctx); err != nil {
		return nil, err
	}
	return &PgSQLStorage{queries: queries{q: cfg.pool}, pool: cfg.pool}, nil
}

// Migrate applies the embedded schema.
func (s *PgSQLStorage) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, Schema)
	return err
}

// Close closes the connection pool.
func (s *PgSQLStorage) Close() {
	s.pool.Close()
}

// Tx runs fn within a database transaction.
// If fn returns an err the transaction will be rolled back and err returned; otherwise committed.
func (s *PgSQLStorage) Tx(ctx context.Context, fn storage.TxFunc) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("tx begin: %w", err)
	}
	if err = fn(ctx, &pgsqlTx{queries{q: tx}}); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return fmt.Errorf("tx rollback: %w; while trying to handle error: %v", rbErr, err)
		}
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit: %w", err)
	}
	return nil
}

// pgsqlTx runs storage queries within a database transaction.
type pgsqlTx struct {
	queries
}

// LockWorkflow retrieves a workflow and locks its row until the transaction ends.
func (tx *pgsqlTx) LockWorkflow(ctx context.Context, id string) (*storage.Workflow, error) {
	return tx.retrieveWorkflow(ctx, id, true)
}
