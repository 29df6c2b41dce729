package domain

import "time"

// TripState is the externally visible state of the current-trip projection.
type TripState string

const (
	StateIdle   TripState = "idle"
	StateActive TripState = "active"
)

// Snapshot is the working record of a trip while it is active or waiting for
// its delayed end. Optional readings are pointers: nil means the reading was
// not available, which is different from a reading of 0.
//
// Fields are only ever replaced with new pointers, never written through, so
// shallow copies handed to publishers stay stable.
type Snapshot struct {
	TripID    string     `json:"trip_id"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`

	StartOdometer *float64 `json:"start_odometer,omitempty"`
	EndOdometer   *float64 `json:"end_odometer,omitempty"`
	StartBattery  *float64 `json:"start_battery,omitempty"`
	EndBattery    *float64 `json:"end_battery,omitempty"`

	StartLatitude  *float64 `json:"start_latitude,omitempty"`
	StartLongitude *float64 `json:"start_longitude,omitempty"`
	EndLatitude    *float64 `json:"end_latitude,omitempty"`
	EndLongitude   *float64 `json:"end_longitude,omitempty"`

	StartElevation   *float64 `json:"start_elevation,omitempty"`
	EndElevation     *float64 `json:"end_elevation,omitempty"`
	StartTemperature *float64 `json:"start_temperature,omitempty"`
	EndTemperature   *float64 `json:"end_temperature,omitempty"`
}

// Record is a finalized trip. It is produced exactly once per trip and never
// modified afterwards.
type Record struct {
	VehicleID string `json:"vehicle_id"`
	Snapshot
	Metrics
}

// CurrentTrip is the current-trip projection: the state plus the live
// snapshot while a trip is active.
type CurrentTrip struct {
	State    TripState `json:"state"`
	Snapshot *Snapshot `json:"attributes,omitempty"`
}

// Idle returns the projection of a vehicle without an active trip.
func Idle() CurrentTrip { return CurrentTrip{State: StateIdle} }

// Copy returns a shallow copy of the snapshot. See the Snapshot doc for why
// shallow is enough.
func (s *Snapshot) Copy() *Snapshot {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}
