package sensors

import "testing"

func TestIsDriving(t *testing.T) {
	cases := map[string]bool{
		"on":          true,
		"driving":     true,
		"true":        true,
		"True":        true,
		" on ":        true,
		"off":         false,
		"parked":      false,
		"TRUE":        false,
		"unavailable": false,
		"":            false,
	}
	for state, want := range cases {
		if got := IsDriving(state); got != want {
			t.Errorf("IsDriving(%q) = %v, want %v", state, got, want)
		}
	}
}

func TestFloat(t *testing.T) {
	if Float(nil) != nil {
		t.Fatalf("expected nil for missing observation")
	}
	for _, s := range []string{"unknown", "unavailable", "", "abc", "NaN"} {
		if got := Float(&Observation{State: s}); got != nil {
			t.Errorf("Float(%q) = %v, want nil", s, *got)
		}
	}
	got := Float(&Observation{State: "0"})
	if got == nil || *got != 0 {
		t.Fatalf("expected explicit zero reading to parse")
	}
	got = Float(&Observation{State: "12345.6"})
	if got == nil || *got != 12345.6 {
		t.Fatalf("unexpected value %v", got)
	}
}

func TestCoordinates(t *testing.T) {
	lat, lon := Coordinates(&Observation{Attributes: map[string]any{"latitude": 59.91, "longitude": "10.75"}})
	if lat == nil || lon == nil || *lat != 59.91 || *lon != 10.75 {
		t.Fatalf("unexpected coordinates %v %v", lat, lon)
	}

	lat, lon = Coordinates(&Observation{Attributes: map[string]any{"latitude": 59.91}})
	if lat != nil || lon != nil {
		t.Fatalf("expected both coordinates nil when one is missing")
	}

	if lat, lon = Coordinates(nil); lat != nil || lon != nil {
		t.Fatalf("expected nil coordinates for missing observation")
	}
}

func TestDecodeState(t *testing.T) {
	if got := DecodeState([]byte(`"on"`)); got != "on" {
		t.Fatalf("quoted state = %q", got)
	}
	if got := DecodeState([]byte("off\n")); got != "off" {
		t.Fatalf("bare state = %q", got)
	}
}

func TestDecodeValue(t *testing.T) {
	if v, ok := DecodeValue([]byte("59.5")).(float64); !ok || v != 59.5 {
		t.Fatalf("expected float attribute, got %#v", DecodeValue([]byte("59.5")))
	}
	if v, ok := DecodeValue([]byte("gps")).(string); !ok || v != "gps" {
		t.Fatalf("expected string fallback")
	}
}

func TestValidateReadings(t *testing.T) {
	bad := 120.0
	odo := 10.0
	if w := ValidateReadings(&odo, &bad); len(w) != 1 {
		t.Fatalf("expected one warning, got %v", w)
	}
	ok := 50.0
	if w := ValidateReadings(&odo, &ok); len(w) != 0 {
		t.Fatalf("expected no warnings, got %v", w)
	}
}
