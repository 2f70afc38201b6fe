package featureflags

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of *pgxpool.Pool used by the repository.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

const (
	createFlagsSQL = `
		CREATE TABLE IF NOT EXISTS feature_flags (
			key        TEXT PRIMARY KEY,
			value      JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`

	selectFlagsSQL = `SELECT key, value, updated_at FROM feature_flags`

	upsertFlagSQL = `
		INSERT INTO feature_flags (key, value, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`

	deleteFlagSQL = `DELETE FROM feature_flags WHERE key = $1`
)

// PostgresRepository stores overrides in the feature_flags table as JSONB.
type PostgresRepository struct {
	db DB
}

var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository creates a repository on db.
func NewPostgresRepository(db DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// EnsureSchema creates the feature_flags table when it does not exist.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.Exec(ctx, createFlagsSQL)
	return err
}

// List returns the overrides ordered by key.
func (r *PostgresRepository) List(ctx context.Context) ([]*Flag, error) {
	rows, err := r.db.Query(ctx, selectFlagsSQL+` ORDER BY key`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*Flag, error) {
		return scanFlag(row)
	})
}

// Get returns the override for key.
func (r *PostgresRepository) Get(ctx context.Context, key string) (*Flag, error) {
	f, err := scanFlag(r.db.QueryRow(ctx, selectFlagsSQL+` WHERE key = $1`, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrFlagNotFound
	}
	return f, err
}

// Upsert writes every flag in a single transaction.
func (r *PostgresRepository) Upsert(ctx context.Context, flags ...*Flag) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, f := range flags {
		value, err := json.Marshal(f.Value)
		if err != nil {
			return err
		}
		at := f.UpdatedAt
		if at.IsZero() {
			at = time.Now()
		}
		if _, err := tx.Exec(ctx, upsertFlagSQL, f.Key, value, at); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// Delete removes the override for key.
func (r *PostgresRepository) Delete(ctx context.Context, key string) error {
	tag, err := r.db.Exec(ctx, deleteFlagSQL, key)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrFlagNotFound
	}
	return nil
}

func scanFlag(row pgx.Row) (*Flag, error) {
	var (
		f     Flag
		value []byte
	)
	if err := row.Scan(&f.Key, &value, &f.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(value, &f.Value); err != nil {
		return nil, err
	}
	return &f, nil
}
