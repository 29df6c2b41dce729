package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jkaberg/ev-trip-tracker/internal/domain"
)

const lastTripKeyPrefix = "ev_trip_tracker:last_trip:"

// NewRedisClient creates a Redis client and verifies connectivity.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping failed: %w", err)
	}
	return client, nil
}

// RedisLastTrips keeps the last finished trip of each vehicle so the
// last-trip projection survives a restart.
type RedisLastTrips struct {
	client *redis.Client
}

// NewRedisLastTrips returns a store backed by client.
func NewRedisLastTrips(client *redis.Client) *RedisLastTrips {
	return &RedisLastTrips{client: client}
}

// Save stores rec as the vehicle's last trip.
func (s *RedisLastTrips) Save(ctx context.Context, rec domain.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("redis: marshal last trip: %w", err)
	}
	if err := s.client.Set(ctx, lastTripKeyPrefix+rec.VehicleID, payload, 0).Err(); err != nil {
		return fmt.Errorf("redis: save last trip: %w", err)
	}
	return nil
}

// Load returns the stored last trip. ok is false when none was stored.
func (s *RedisLastTrips) Load(ctx context.Context, vehicleID string) (rec domain.Record, ok bool, err error) {
	raw, err := s.client.Get(ctx, lastTripKeyPrefix+vehicleID).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Record{}, false, nil
	}
	if err != nil {
		return domain.Record{}, false, fmt.Errorf("redis: load last trip: %w", err)
	}
	if err := json.Unmarshal(raw, &rec); err != nil {
		return domain.Record{}, false, fmt.Errorf("redis: decode last trip: %w", err)
	}
	return rec, true, nil
}

// Delete drops the stored last trip of a vehicle.
func (s *RedisLastTrips) Delete(ctx context.Context, vehicleID string) error {
	return s.client.Del(ctx, lastTripKeyPrefix+vehicleID).Err()
}

// Ping reports whether Redis is reachable.
func (s *RedisLastTrips) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.client.Ping(pingCtx).Err()
}
