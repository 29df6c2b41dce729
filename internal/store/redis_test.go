package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/jkaberg/ev-trip-tracker/internal/domain"
)

func sampleRecord() domain.Record {
	start := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	dist, energy := 50.0, 12.0
	return domain.Record{
		VehicleID: "seal",
		Snapshot:  domain.Snapshot{TripID: "t1", StartTime: start, EndTime: &end},
		Metrics:   domain.Metrics{Distance: &dist, EnergyUsed: &energy, Duration: "1:00:00"},
	}
}

func TestRedisLastTrips(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	store := NewRedisLastTrips(client)
	ctx := context.Background()

	if _, ok, err := store.Load(ctx, "seal"); err != nil || ok {
		t.Fatalf("expected no last trip, got ok=%v err=%v", ok, err)
	}

	rec := sampleRecord()
	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}
	if !s.Exists("ev_trip_tracker:last_trip:seal") {
		t.Fatalf("expected key in redis")
	}

	got, ok, err := store.Load(ctx, "seal")
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if got.TripID != "t1" || *got.Distance != 50 || !got.EndTime.Equal(*rec.EndTime) {
		t.Fatalf("unexpected record %+v", got)
	}

	if err := store.Delete(ctx, "seal"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := store.Load(ctx, "seal"); ok {
		t.Fatalf("expected record deleted")
	}
	if err := store.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestRedisLastTripsCorruptValue(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	s.Set("ev_trip_tracker:last_trip:seal", "not json")
	if _, _, err := NewRedisLastTrips(client).Load(context.Background(), "seal"); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestRedisLastTripsServerDown(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr(), MaxRetries: -1})
	defer client.Close()
	s.Close()

	store := NewRedisLastTrips(client)
	if err := store.Save(context.Background(), sampleRecord()); err == nil {
		t.Fatalf("expected save error")
	}
	if _, _, err := store.Load(context.Background(), "seal"); err == nil {
		t.Fatalf("expected load error")
	}
}

func TestNewRedisClient(t *testing.T) {
	s := miniredis.RunT(t)
	client, err := NewRedisClient(context.Background(), s.Addr(), "", 0)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	client.Close()

	addr := s.Addr()
	s.Close()
	if _, err := NewRedisClient(context.Background(), addr, "", 0); err == nil {
		t.Fatalf("expected ping error")
	}
}
