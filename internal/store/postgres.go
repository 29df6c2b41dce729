package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jkaberg/ev-trip-tracker/internal/domain"
)

// Querier represents the minimal database operations used by the history.
// Both *pgxpool.Pool and pgxmock pools satisfy this interface.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var (
	newPoolFn  = pgxpool.New
	pingPoolFn = func(ctx context.Context, pool *pgxpool.Pool) error { return pool.Ping(ctx) }
)

// ConnectPostgres opens a pool and verifies connectivity.
func ConnectPostgres(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := newPoolFn(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open pool: %w", err)
	}
	if err := pingPoolFn(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping failed: %w", err)
	}
	return pool, nil
}

const createTripsTable = `CREATE TABLE IF NOT EXISTS trips (
	trip_id     TEXT PRIMARY KEY,
	vehicle_id  TEXT NOT NULL,
	start_time  TIMESTAMPTZ NOT NULL,
	end_time    TIMESTAMPTZ,
	distance    DOUBLE PRECISION,
	energy_used DOUBLE PRECISION,
	record      JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const createTripsIndex = `CREATE INDEX IF NOT EXISTS trips_vehicle_start_idx ON trips (vehicle_id, start_time DESC)`

// PostgresHistory appends every finished trip to the trips table.
type PostgresHistory struct {
	db Querier
}

// NewPostgresHistory returns a history backed by db.
func NewPostgresHistory(db Querier) *PostgresHistory {
	return &PostgresHistory{db: db}
}

// EnsureSchema creates the trips table when missing.
func (h *PostgresHistory) EnsureSchema(ctx context.Context) error {
	if _, err := h.db.Exec(ctx, createTripsTable); err != nil {
		return fmt.Errorf("postgres: create trips table: %w", err)
	}
	if _, err := h.db.Exec(ctx, createTripsIndex); err != nil {
		return fmt.Errorf("postgres: create trips index: %w", err)
	}
	return nil
}

// Append stores rec. Appending the same trip twice is a no-op.
func (h *PostgresHistory) Append(ctx context.Context, rec domain.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("postgres: marshal trip: %w", err)
	}
	_, err = h.db.Exec(ctx,
		`INSERT INTO trips (trip_id, vehicle_id, start_time, end_time, distance, energy_used, record)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (trip_id) DO NOTHING`,
		rec.TripID, rec.VehicleID, rec.StartTime, rec.EndTime, rec.Distance, rec.EnergyUsed, payload)
	if err != nil {
		return fmt.Errorf("postgres: insert trip: %w", err)
	}
	return nil
}

// List returns up to limit trips of a vehicle, newest first.
func (h *PostgresHistory) List(ctx context.Context, vehicleID string, limit int) ([]domain.Record, error) {
	rows, err := h.db.Query(ctx,
		`SELECT record FROM trips WHERE vehicle_id = $1 ORDER BY start_time DESC LIMIT $2`,
		vehicleID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trips: %w", err)
	}
	defer rows.Close()

	var out []domain.Record
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("postgres: scan trip: %w", err)
		}
		var rec domain.Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("postgres: decode trip: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list trips: %w", err)
	}
	return out, nil
}
