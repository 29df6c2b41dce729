package settings

import (
	"fmt"
	"regexp"
	"time"
)

// Defaults and limits for per-vehicle settings.
const (
	DefaultBatteryCapacityKWh     = 60
	DefaultTripEndDelaySeconds    = 1800
	DefaultMinTripDistanceKm      = 1
	DefaultMinTripDurationSeconds = 120

	minBatteryCapacityKWh  = 1
	maxBatteryCapacityKWh  = 200
	maxTripEndDelaySeconds = 3600
	maxMinTripDistanceKm   = 10
	maxMinTripDurationSecs = 600
)

var vehicleIDPattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// Vehicle is the configuration of one tracked vehicle. A value is immutable
// once handed out; updates replace it as a whole.
//
// MinTripDistanceKm and MinTripDurationSeconds are validated and exposed but
// do not gate any trip transition.
type Vehicle struct {
	ID                     string  `mapstructure:"id" json:"id"`
	Name                   string  `mapstructure:"name" json:"name"`
	DrivingStateSourceID   string  `mapstructure:"driving_state_source_id" json:"driving_state_source_id"`
	OdometerSourceID       string  `mapstructure:"odometer_source_id" json:"odometer_source_id"`
	BatterySourceID        string  `mapstructure:"battery_source_id" json:"battery_source_id"`
	LocationSourceID       string  `mapstructure:"location_source_id" json:"location_source_id"`
	BatteryCapacityKWh     float64 `mapstructure:"battery_capacity_kwh" json:"battery_capacity_kwh"`
	TripEndDelaySeconds    float64 `mapstructure:"trip_end_delay_seconds" json:"trip_end_delay_seconds"`
	MinTripDistanceKm      float64 `mapstructure:"min_trip_distance_km" json:"min_trip_distance_km"`
	MinTripDurationSeconds float64 `mapstructure:"min_trip_duration_seconds" json:"min_trip_duration_seconds"`
}

// TripEndDelay returns the debounce delay as a duration.
func (v Vehicle) TripEndDelay() time.Duration {
	return time.Duration(v.TripEndDelaySeconds * float64(time.Second))
}

// SourceIDs returns every entity the vehicle reads from.
func (v Vehicle) SourceIDs() []string {
	return []string{v.DrivingStateSourceID, v.OdometerSourceID, v.BatterySourceID, v.LocationSourceID}
}

// DisplayName falls back to the id when no name is configured.
func (v Vehicle) DisplayName() string {
	if v.Name != "" {
		return v.Name
	}
	return v.ID
}

// Validate checks required fields and value ranges.
func (v Vehicle) Validate() error {
	if !vehicleIDPattern.MatchString(v.ID) {
		return fmt.Errorf("vehicle id %q must match %s", v.ID, vehicleIDPattern)
	}
	required := map[string]string{
		"driving_state_source_id": v.DrivingStateSourceID,
		"odometer_source_id":      v.OdometerSourceID,
		"battery_source_id":       v.BatterySourceID,
		"location_source_id":      v.LocationSourceID,
	}
	for name, val := range required {
		if val == "" {
			return fmt.Errorf("vehicle %s: %s is required", v.ID, name)
		}
	}
	if v.BatteryCapacityKWh < minBatteryCapacityKWh || v.BatteryCapacityKWh > maxBatteryCapacityKWh {
		return fmt.Errorf("vehicle %s: battery_capacity_kwh must be between %d and %d", v.ID, minBatteryCapacityKWh, maxBatteryCapacityKWh)
	}
	if v.TripEndDelaySeconds < 0 || v.TripEndDelaySeconds > maxTripEndDelaySeconds {
		return fmt.Errorf("vehicle %s: trip_end_delay_seconds must be between 0 and %d", v.ID, maxTripEndDelaySeconds)
	}
	if v.MinTripDistanceKm < 0 || v.MinTripDistanceKm > maxMinTripDistanceKm {
		return fmt.Errorf("vehicle %s: min_trip_distance_km must be between 0 and %d", v.ID, maxMinTripDistanceKm)
	}
	if v.MinTripDurationSeconds < 0 || v.MinTripDurationSeconds > maxMinTripDurationSecs {
		return fmt.Errorf("vehicle %s: min_trip_duration_seconds must be between 0 and %d", v.ID, maxMinTripDurationSecs)
	}
	return nil
}

// Snapshot is one consistent view of all vehicle settings.
type Snapshot struct {
	Vehicles []Vehicle `json:"vehicles"`
}

// Vehicle returns the settings for id.
func (s Snapshot) Vehicle(id string) (Vehicle, bool) {
	for _, v := range s.Vehicles {
		if v.ID == id {
			return v, true
		}
	}
	return Vehicle{}, false
}

// Validate validates every vehicle and rejects duplicate ids.
func (s Snapshot) Validate() error {
	if len(s.Vehicles) == 0 {
		return fmt.Errorf("no vehicles configured")
	}
	seen := make(map[string]struct{}, len(s.Vehicles))
	for _, v := range s.Vehicles {
		if err := v.Validate(); err != nil {
			return err
		}
		if _, dup := seen[v.ID]; dup {
			return fmt.Errorf("duplicate vehicle id %q", v.ID)
		}
		seen[v.ID] = struct{}{}
	}
	return nil
}

// vehicleFile mirrors Vehicle with optional fields so defaults can be
// applied per list entry.
type vehicleFile struct {
	ID                     string   `mapstructure:"id"`
	Name                   string   `mapstructure:"name"`
	DrivingStateSourceID   string   `mapstructure:"driving_state_source_id"`
	OdometerSourceID       string   `mapstructure:"odometer_source_id"`
	BatterySourceID        string   `mapstructure:"battery_source_id"`
	LocationSourceID       string   `mapstructure:"location_source_id"`
	BatteryCapacityKWh     *float64 `mapstructure:"battery_capacity_kwh"`
	TripEndDelaySeconds    *float64 `mapstructure:"trip_end_delay_seconds"`
	MinTripDistanceKm      *float64 `mapstructure:"min_trip_distance_km"`
	MinTripDurationSeconds *float64 `mapstructure:"min_trip_duration_seconds"`
}

func (f vehicleFile) withDefaults(index int) Vehicle {
	v := Vehicle{
		ID:                     f.ID,
		Name:                   f.Name,
		DrivingStateSourceID:   f.DrivingStateSourceID,
		OdometerSourceID:       f.OdometerSourceID,
		BatterySourceID:        f.BatterySourceID,
		LocationSourceID:       f.LocationSourceID,
		BatteryCapacityKWh:     orDefault(f.BatteryCapacityKWh, DefaultBatteryCapacityKWh),
		TripEndDelaySeconds:    orDefault(f.TripEndDelaySeconds, DefaultTripEndDelaySeconds),
		MinTripDistanceKm:      orDefault(f.MinTripDistanceKm, DefaultMinTripDistanceKm),
		MinTripDurationSeconds: orDefault(f.MinTripDurationSeconds, DefaultMinTripDurationSeconds),
	}
	if v.ID == "" {
		v.ID = fmt.Sprintf("vehicle_%d", index+1)
	}
	return v
}

func orDefault(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}
