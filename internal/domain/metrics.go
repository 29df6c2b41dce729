package domain

import (
	"fmt"
	"math"
	"time"
)

// Metrics are the values derived from a finalized snapshot. A nil field means
// the metric could not be computed from the available readings.
type Metrics struct {
	Distance          *float64 `json:"distance,omitempty"`
	EnergyUsed        *float64 `json:"energy_used,omitempty"`
	EnergyConsumption *float64 `json:"energy_consumption,omitempty"`
	Duration          string   `json:"duration,omitempty"`
	DurationSeconds   *float64 `json:"duration_seconds,omitempty"`
	AvgSpeed          *float64 `json:"avg_speed,omitempty"`
	ElevationDiff     *float64 `json:"elevation_diff,omitempty"`
	AvgTemperature    *float64 `json:"avg_temperature,omitempty"`
}

// Calculate derives trip metrics from a snapshot. It is a pure function.
//
// Odometer and battery readings of exactly 0 are treated like missing
// readings, so a trip starting at odometer 0 reports no distance.
func Calculate(s Snapshot, batteryCapacityKWh float64) Metrics {
	var m Metrics

	if nonZero(s.StartOdometer) && nonZero(s.EndOdometer) {
		m.Distance = ptr(round(*s.EndOdometer-*s.StartOdometer, 2))
	}

	if nonZero(s.StartBattery) && nonZero(s.EndBattery) {
		energy := (*s.StartBattery - *s.EndBattery) / 100 * batteryCapacityKWh
		m.EnergyUsed = ptr(round(energy, 2))
	}

	if m.Distance != nil && m.EnergyUsed != nil && *m.Distance != 0 {
		m.EnergyConsumption = ptr(round(*m.EnergyUsed / *m.Distance * 100, 2))
	}

	if s.EndTime != nil {
		d := s.EndTime.Sub(s.StartTime)
		m.Duration = FormatDuration(d)
		m.DurationSeconds = ptr(d.Seconds())

		if m.Distance != nil && d > 0 {
			m.AvgSpeed = ptr(round(*m.Distance/d.Hours(), 1))
		}
	}

	if s.StartElevation != nil && s.EndElevation != nil {
		m.ElevationDiff = ptr(round(*s.EndElevation-*s.StartElevation, 1))
	}

	if s.StartTemperature != nil && s.EndTemperature != nil {
		m.AvgTemperature = ptr(round((*s.StartTemperature+*s.EndTemperature)/2, 1))
	}

	return m
}

// Finalize builds the immutable record of a completed trip.
func Finalize(vehicleID string, s Snapshot, batteryCapacityKWh float64) Record {
	return Record{
		VehicleID: vehicleID,
		Snapshot:  s,
		Metrics:   Calculate(s, batteryCapacityKWh),
	}
}

// FormatDuration renders an elapsed time as H:MM:SS. Hours are not wrapped
// into days and sub-second precision is dropped.
func FormatDuration(d time.Duration) string {
	sign := ""
	if d < 0 {
		sign = "-"
		d = -d
	}
	total := int64(d / time.Second)
	h := total / 3600
	m := (total % 3600) / 60
	sec := total % 60
	return fmt.Sprintf("%s%d:%02d:%02d", sign, h, m, sec)
}

func nonZero(v *float64) bool { return v != nil && *v != 0 }

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func ptr(v float64) *float64 { return &v }
