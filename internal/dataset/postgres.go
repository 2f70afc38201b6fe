package dataset

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/twpayne/go-geom/encoding/ewkb"

	"github.com/beewatch/beewatch/internal/hexgrid"
)

// DB is the subset of *pgxpool.Pool used by the store.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

const datasetSchemaSQL = `
	CREATE EXTENSION IF NOT EXISTS postgis;
	CREATE TABLE IF NOT EXISTS dataset_rows (
		h3_id      TEXT NOT NULL,
		start_date DATE NOT NULL,
		end_date   DATE NOT NULL,
		variant    TEXT NOT NULL,
		ndvi       DOUBLE PRECISION,
		lst        DOUBLE PRECISION,
		moisture   DOUBLE PRECISION,
		label      SMALLINT,
		footprint  geometry(Polygon, 4326) NOT NULL,
		run_id     UUID NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (h3_id, start_date, end_date)
	);
`

const upsertRowSQL = `
	INSERT INTO dataset_rows (h3_id, start_date, end_date, variant, ndvi, lst, moisture, label, footprint, run_id, updated_at)
	VALUES ($1, $2::date, $3::date, $4, $5, $6, $7, $8, ST_GeomFromEWKB($9), $10::uuid, now())
	ON CONFLICT (h3_id, start_date, end_date) DO UPDATE SET
		variant = EXCLUDED.variant,
		ndvi = EXCLUDED.ndvi,
		lst = EXCLUDED.lst,
		moisture = EXCLUDED.moisture,
		label = EXCLUDED.label,
		footprint = EXCLUDED.footprint,
		run_id = EXCLUDED.run_id,
		updated_at = now()
`

// StoreConfig holds configuration for the Postgres store.
type StoreConfig struct {
	DB     DB
	Schema Schema

	// RunID tags every row written by this store.
	// Default: a new random UUID
	RunID uuid.UUID
}

// Store upserts rows into the dataset_rows table with their cell footprint.
type Store struct {
	db     DB
	schema Schema
	runID  uuid.UUID
}

// NewStore creates a new Postgres dataset store.
func NewStore(cfg StoreConfig) *Store {
	if cfg.RunID == uuid.Nil {
		cfg.RunID = uuid.New()
	}
	if cfg.Schema.Name == "" {
		cfg.Schema = SoilMoistureSchema()
	}
	return &Store{db: cfg.DB, schema: cfg.Schema, runID: cfg.RunID}
}

// RunID returns the identifier attached to written rows.
func (s *Store) RunID() uuid.UUID {
	return s.runID
}

// EnsureSchema creates the PostGIS extension and the dataset_rows table.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, datasetSchemaSQL); err != nil {
		return fmt.Errorf("ensure dataset schema: %w", err)
	}
	return nil
}

// Write implements Sink. Rows are upserted in one transaction.
func (s *Store) Write(ctx context.Context, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin dataset write: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback error is not critical

	for _, row := range rows {
		footprint, err := footprintEWKB(row.CellID)
		if err != nil {
			return err
		}

		var label *int16
		if row.Label != nil {
			v := int16(*row.Label)
			label = &v
		}

		_, err = tx.Exec(ctx, upsertRowSQL,
			row.CellID.String(),
			row.StartDate,
			row.EndDate,
			s.schema.Name,
			row.NDVI,
			row.LST,
			row.SoilMoisture,
			label,
			footprint,
			s.runID.String(),
		)
		if err != nil {
			return fmt.Errorf("upsert dataset row %s: %w", row.CellID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit dataset write: %w", err)
	}
	return nil
}

// Close implements Sink. The pool is owned by the caller.
func (s *Store) Close() error {
	return nil
}

func footprintEWKB(cell hexgrid.CellID) ([]byte, error) {
	poly, err := hexgrid.Boundary(cell)
	if err != nil {
		return nil, err
	}
	data, err := ewkb.Marshal(poly, ewkb.NDR)
	if err != nil {
		return nil, fmt.Errorf("encode footprint %s: %w", cell, err)
	}
	return data, nil
}
