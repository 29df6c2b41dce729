package domain

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func f(v float64) *float64 { return &v }

func baseSnapshot(d time.Duration) Snapshot {
	start := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	end := start.Add(d)
	return Snapshot{
		StartTime:     start,
		EndTime:       &end,
		StartOdometer: f(100),
		EndOdometer:   f(150),
		StartBattery:  f(80),
		EndBattery:    f(60),
	}
}

func TestCalculateReferenceTrip(t *testing.T) {
	m := Calculate(baseSnapshot(time.Hour), 60)

	if m.Distance == nil || *m.Distance != 50.0 {
		t.Fatalf("distance = %v, want 50", m.Distance)
	}
	if m.EnergyUsed == nil || *m.EnergyUsed != 12.0 {
		t.Fatalf("energy_used = %v, want 12", m.EnergyUsed)
	}
	if m.EnergyConsumption == nil || *m.EnergyConsumption != 24.0 {
		t.Fatalf("energy_consumption = %v, want 24", m.EnergyConsumption)
	}
	if m.AvgSpeed == nil || *m.AvgSpeed != 50.0 {
		t.Fatalf("avg_speed = %v, want 50", m.AvgSpeed)
	}
	if m.Duration != "1:00:00" {
		t.Fatalf("duration = %q, want 1:00:00", m.Duration)
	}
	if m.DurationSeconds == nil || *m.DurationSeconds != 3600 {
		t.Fatalf("duration_seconds = %v", m.DurationSeconds)
	}
}

func TestCalculateZeroOdometerOmitsDistance(t *testing.T) {
	s := baseSnapshot(time.Hour)
	s.StartOdometer = f(0)
	m := Calculate(s, 60)
	if m.Distance != nil {
		t.Fatalf("expected distance omitted for zero start odometer, got %v", *m.Distance)
	}
	if m.EnergyConsumption != nil || m.AvgSpeed != nil {
		t.Fatalf("expected dependent metrics omitted")
	}
	if m.EnergyUsed == nil {
		t.Fatalf("energy should still be computed")
	}

	s = baseSnapshot(time.Hour)
	s.EndOdometer = nil
	if m := Calculate(s, 60); m.Distance != nil {
		t.Fatalf("expected distance omitted for missing end odometer")
	}
}

func TestCalculateZeroBatteryOmitsEnergy(t *testing.T) {
	s := baseSnapshot(time.Hour)
	s.EndBattery = f(0)
	m := Calculate(s, 60)
	if m.EnergyUsed != nil || m.EnergyConsumption != nil {
		t.Fatalf("expected energy metrics omitted")
	}
}

func TestCalculateZeroDistanceGuardsConsumption(t *testing.T) {
	s := baseSnapshot(time.Hour)
	s.EndOdometer = f(100)
	m := Calculate(s, 60)
	if m.Distance == nil || *m.Distance != 0 {
		t.Fatalf("expected zero distance")
	}
	if m.EnergyConsumption != nil {
		t.Fatalf("consumption must not be computed for zero distance")
	}
	if m.AvgSpeed == nil || *m.AvgSpeed != 0 {
		t.Fatalf("expected avg speed 0 for zero distance, got %v", m.AvgSpeed)
	}
}

func TestCalculateZeroDurationOmitsSpeed(t *testing.T) {
	m := Calculate(baseSnapshot(0), 60)
	if m.AvgSpeed != nil {
		t.Fatalf("expected avg speed omitted for zero duration")
	}
	if m.Duration != "0:00:00" {
		t.Fatalf("duration = %q", m.Duration)
	}
}

func TestCalculateElevationAndTemperature(t *testing.T) {
	s := baseSnapshot(30 * time.Minute)
	s.StartElevation = f(120.44)
	s.EndElevation = f(80.0)
	s.StartTemperature = f(12.4)
	s.EndTemperature = f(15.0)
	m := Calculate(s, 60)
	if m.ElevationDiff == nil || *m.ElevationDiff != -40.4 {
		t.Fatalf("elevation_diff = %v", m.ElevationDiff)
	}
	if m.AvgTemperature == nil || *m.AvgTemperature != 13.7 {
		t.Fatalf("avg_temperature = %v", m.AvgTemperature)
	}
	if m.AvgSpeed == nil || *m.AvgSpeed != 100.0 {
		t.Fatalf("avg_speed = %v", m.AvgSpeed)
	}

	s.EndTemperature = nil
	s.StartElevation = nil
	m = Calculate(s, 60)
	if m.ElevationDiff != nil || m.AvgTemperature != nil {
		t.Fatalf("expected enrichment metrics omitted")
	}
}

func TestRecordJSONOmitsMissingFields(t *testing.T) {
	s := baseSnapshot(time.Hour)
	s.StartOdometer = nil
	rec := Finalize("car", s, 60)
	b, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	out := string(b)
	for _, key := range []string{`"distance"`, `"start_odometer"`, `"avg_speed"`, `"elevation_diff"`} {
		if strings.Contains(out, key) {
			t.Fatalf("expected %s to be omitted: %s", key, out)
		}
	}
	for _, key := range []string{`"vehicle_id":"car"`, `"energy_used":12`, `"duration":"1:00:00"`} {
		if !strings.Contains(out, key) {
			t.Fatalf("expected %s in %s", key, out)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	cases := map[time.Duration]string{
		0:                                    "0:00:00",
		5*time.Second + 300*time.Millisecond: "0:00:05",
		26*time.Hour + 3*time.Minute:         "26:03:00",
		-90 * time.Second:                    "-0:01:30",
	}
	for d, want := range cases {
		if got := FormatDuration(d); got != want {
			t.Errorf("FormatDuration(%v) = %q, want %q", d, got, want)
		}
	}
}
