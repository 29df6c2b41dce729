package sensors

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// States Home Assistant uses when an entity has no usable value.
var unavailableStates = map[string]struct{}{
	"":            {},
	"unknown":     {},
	"unavailable": {},
	"none":        {},
	"None":        {},
}

// drivingStates are the state strings that mean "the vehicle is driving".
// Matching is exact; anything else is treated as not driving.
var drivingStates = map[string]struct{}{
	"on":      {},
	"driving": {},
	"true":    {},
	"True":    {},
}

// IsDriving reports whether a driving-state reading means the vehicle moves.
func IsDriving(state string) bool {
	_, ok := drivingStates[strings.TrimSpace(state)]
	return ok
}

// Float parses the numeric state of an observation. A missing observation,
// an unavailable state or an unparsable value yields nil, never 0.
func Float(o *Observation) *float64 {
	if o == nil {
		return nil
	}
	return parseFloatString(o.State)
}

// Coordinates extracts latitude/longitude attributes (device_tracker style).
func Coordinates(o *Observation) (lat, lon *float64) {
	if o == nil || o.Attributes == nil {
		return nil, nil
	}
	lat = attributeFloat(o.Attributes["latitude"])
	lon = attributeFloat(o.Attributes["longitude"])
	if lat == nil || lon == nil {
		return nil, nil
	}
	return lat, lon
}

// DecodeValue turns a raw MQTT payload into an attribute value. Statestream
// publishes attributes JSON-encoded; anything that is not valid JSON is kept
// as a plain string.
func DecodeValue(raw []byte) any {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}

// DecodeState turns a raw MQTT state payload into the HA state string.
// Statestream may publish states either bare (on) or JSON-quoted ("on").
func DecodeState(raw []byte) string {
	s := strings.TrimSpace(string(raw))
	if len(s) >= 2 && strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`) {
		var unq string
		if err := json.Unmarshal([]byte(s), &unq); err == nil {
			return unq
		}
	}
	return s
}

// ValidateReadings returns warnings for readings outside plausible ranges.
// Out-of-range values are still used; the warnings only feed the log.
func ValidateReadings(odometer, battery *float64) []string {
	var warnings []string
	if battery != nil && (*battery < 0 || *battery > 100) {
		warnings = append(warnings, fmt.Sprintf("Battery percentage out of range: %.1f%%", *battery))
	}
	if odometer != nil && *odometer < 0 {
		warnings = append(warnings, fmt.Sprintf("Negative odometer reading: %.1f", *odometer))
	}
	return warnings
}

func parseFloatString(s string) *float64 {
	s = strings.TrimSpace(s)
	if _, ok := unavailableStates[s]; ok {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

func attributeFloat(v any) *float64 {
	switch val := v.(type) {
	case float64:
		return &val
	case float32:
		f := float64(val)
		return &f
	case int:
		f := float64(val)
		return &f
	case int64:
		f := float64(val)
		return &f
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return nil
		}
		return &f
	case string:
		return parseFloatString(val)
	default:
		return nil
	}
}
