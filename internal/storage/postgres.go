package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresStore implements Store interface for PostgreSQL
type PostgresStore struct {
	db *sql.DB
	tx *sql.Tx
}

// PoolOptions tune the connection pool. Zero values keep the driver defaults.
type PoolOptions struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewPostgresStore creates a new PostgreSQL store
func NewPostgresStore(dsn string, pool PoolOptions) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// beginTx starts a new transaction
func (s *PostgresStore) beginTx(ctx context.Context) (*PostgresStore, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{db: s.db, tx: tx}, nil
}

func (s *PostgresStore) commit() error {
	if s.tx == nil {
		return nil
	}
	return s.tx.Commit()
}

func (s *PostgresStore) rollback() error {
	if s.tx == nil {
		return nil
	}
	return s.tx.Rollback()
}

// getDB returns tx if in transaction, otherwise db
func (s *PostgresStore) getDB() interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
} {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// Purge removes old samples and events in one transaction.
func (s *PostgresStore) Purge(ctx context.Context, before time.Time) (PurgeResult, error) {
	var result PurgeResult

	tx, err := s.beginTx(ctx)
	if err != nil {
		return result, fmt.Errorf("begin purge: %w", err)
	}
	defer tx.rollback()

	res, err := tx.getDB().ExecContext(ctx, "DELETE FROM metric_samples WHERE ts < $1", before.Unix())
	if err != nil {
		return result, fmt.Errorf("purge samples: %w", err)
	}
	result.Samples, _ = res.RowsAffected()

	res, err = tx.getDB().ExecContext(ctx, "DELETE FROM event_logs WHERE created_at < $1", before)
	if err != nil {
		return result, fmt.Errorf("purge events: %w", err)
	}
	result.Events, _ = res.RowsAffected()

	if err := tx.commit(); err != nil {
		return PurgeResult{}, fmt.Errorf("commit purge: %w", err)
	}
	return result, nil
}
