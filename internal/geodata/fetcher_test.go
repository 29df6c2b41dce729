package geodata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

func TestOpenMeteoFetch(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/forecast" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"elevation":38.0,"current_weather":{"temperature":14.2,"windspeed":3.1}}`))
	}))
	defer srv.Close()

	logger, _ := test.NewNullLogger()
	f := NewOpenMeteo(srv.URL, "fahrenheit", srv.Client(), logger)
	geo := f.Fetch(context.Background(), 59.91, 10.75)

	if geo.Elevation == nil || *geo.Elevation != 38.0 {
		t.Fatalf("elevation = %v", geo.Elevation)
	}
	if geo.Temperature == nil || *geo.Temperature != 14.2 {
		t.Fatalf("temperature = %v", geo.Temperature)
	}
	for _, want := range []string{"latitude=59.91", "longitude=10.75", "current_weather=true", "temperature_unit=fahrenheit"} {
		if !strings.Contains(gotQuery, want) {
			t.Fatalf("query %q missing %q", gotQuery, want)
		}
	}
}

func TestOpenMeteoFailuresDegradeToAbsent(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"status": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		},
		"garbage": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("not json"))
		},
		"missing-fields": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"elevation":12}`))
		},
	}

	for name, h := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(h)
			defer srv.Close()

			logger, hook := test.NewNullLogger()
			geo := NewOpenMeteo(srv.URL, "", srv.Client(), logger).Fetch(context.Background(), 1, 2)
			if geo.Elevation != nil || geo.Temperature != nil {
				t.Fatalf("expected absent geodata, got %+v", geo)
			}
			if e := hook.LastEntry(); e == nil || e.Level != logrus.WarnLevel {
				t.Fatalf("expected a warning to be logged")
			}
		})
	}
}

func TestOpenMeteoTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	logger, _ := test.NewNullLogger()
	client := &http.Client{Timeout: 20 * time.Millisecond}
	geo := NewOpenMeteo(srv.URL, "", client, logger).Fetch(context.Background(), 1, 2)
	if geo.Elevation != nil || geo.Temperature != nil {
		t.Fatalf("expected absent geodata on timeout")
	}
}

func TestOpenElevationFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("locations"); got != "59.91,10.75" {
			t.Errorf("locations = %q", got)
		}
		_, _ = w.Write([]byte(`{"results":[{"latitude":59.91,"longitude":10.75,"elevation":23}]}`))
	}))
	defer srv.Close()

	logger, _ := test.NewNullLogger()
	geo := NewOpenElevation(srv.URL, srv.Client(), logger).Fetch(context.Background(), 59.91, 10.75)
	if geo.Elevation == nil || *geo.Elevation != 23 {
		t.Fatalf("elevation = %v", geo.Elevation)
	}
	if geo.Temperature != nil {
		t.Fatalf("open-elevation never reports temperature")
	}
}

func TestNew(t *testing.T) {
	logger, _ := test.NewNullLogger()
	for _, p := range []string{"", ProviderOpenMeteo, ProviderOpenElevation, ProviderNone} {
		if _, err := New(Options{Provider: p, Logger: logger}); err != nil {
			t.Fatalf("provider %q: %v", p, err)
		}
	}
	if _, err := New(Options{Provider: "bogus", Logger: logger}); err == nil {
		t.Fatalf("expected error for unknown provider")
	}
	if geo := (Nop{}).Fetch(context.Background(), 1, 2); geo.Elevation != nil || geo.Temperature != nil {
		t.Fatalf("nop must return absent values")
	}
}
