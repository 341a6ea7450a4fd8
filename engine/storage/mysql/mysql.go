// Package mysql implements a lifecycle engine storage backend using MySQL.
package mysql

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	"github.com/magnab/lifecycle/engine/storage"

	gomysql "github.com/go-sql-driver/mysql"
)

// Schema contains the MySQL schema for the engine storage.
//
//go:embed schema.sql
var Schema string

// MySQLStorage implements a storage.Storage using MySQL.
type MySQLStorage struct {
	queries
	db *sql.DB
}

type config struct {
	driver string
	dsn    string
	db     *sql.DB
}

// Option allows configuring a MySQLStorage.
type Option func(*config)

// WithDSN sets the storage MySQL data source name.
func WithDSN(dsn string) Option {
	return func(c *config) {
		c.dsn = dsn
	}
}

// WithDriver sets a custom MySQL driver for the storage.
//
// Default driver is "mysql".
// Value is ignored if WithDB is used.
func WithDriver(driver string) Option {
	return func(c *config) {
		c.driver = driver
	}
}

// WithDB sets a custom MySQL *sql.DB to the storage.
//
// If set, driver passed via WithDriver is ignored.
// The connection must be configured to parse time values.
func WithDB(db *sql.DB) Option {
	return func(c *config) {
		c.db = db
	}
}

// New creates and returns a new MySQLStorage.
// With the default driver the DSN is adjusted to parse DATETIME
// columns into time values.
func New(opts ...Option) (*MySQLStorage, error) {
	cfg := &config{driver: "mysql"}
	for _, opt := range opts {
		opt(cfg)
	}
	var err error
	if cfg.db == nil {
		dsn := cfg.dsn
		if cfg.driver == "mysql" {
			dsnCfg, err := gomysql.ParseDSN(dsn)
			if err != nil {
				return nil, fmt.Errorf("parsing dsn: %w", err)
			}
			dsnCfg.ParseTime = true
			dsnCfg.Loc = time.UTC
			dsn = dsnCfg.FormatDSN()
		}
		cfg.db, err = sql.Open(cfg.driver, dsn)
		if err != nil {
			return nil, err
		}
	}
	if err = cfg.db.Ping(); err != nil {
		return nil, err
	}
	return &MySQLStorage{queries: queries{q: cfg.db}, db: cfg.db}, nil
}

// sqlNullString sets Valid to true of the return value of s is not empty.
func sqlNullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// sqlNullTime sets Valid to true of the return value of t is not zero.
func sqlNullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Valid: !t.IsZero(), Time: t}
}

// txcb executes SQL within transactions when wrapped in tx().
type txcb func(ctx context.Context, tx *sql.Tx) error

// tx wraps g in transactions using db.
// If g returns an err the transaction will be rolled back and err returned; otherwise committed.
func tx(ctx context.Context, db *sql.DB, g txcb) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("tx begin: %w", err)
	}
	if err = g(ctx, tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("tx rollback: %w; while trying to handle error: %v", rbErr, err)
		}
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("tx commit: %w", err)
	}
	return nil
}

// Tx runs fn within a database transaction.
func (s *MySQLStorage) Tx(ctx context.Context, fn storage.TxFunc) error {
	return tx(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		return fn(ctx, &mysqlTx{queries{q: tx}})
	})
}

// mysqlTx runs storage queries within a database transaction.
type mysqlTx struct {
	queries
}

// LockWorkflow retrieves a workflow and locks its row until the transaction ends.
func (tx *mysqlTx) LockWorkflow(ctx context.Context, id string) (*storage.Workflow, error) {
	return tx.retrieveWorkflow(ctx, id, true)
}
