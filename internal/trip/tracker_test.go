package trip

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"github.com/jkaberg/ev-trip-tracker/internal/domain"
	"github.com/jkaberg/ev-trip-tracker/internal/geodata"
	"github.com/jkaberg/ev-trip-tracker/internal/sensors"
	"github.com/jkaberg/ev-trip-tracker/internal/settings"
)

const (
	drivingID  = "binary_sensor.car_driving"
	odometerID = "sensor.car_odometer"
	batteryID  = "sensor.car_battery"
	locationID = "device_tracker.car"
)

var t0 = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

type harness struct {
	tracker *Tracker
	sched   *fakeScheduler
	source  *fakeSource
	fetcher *fakeFetcher
	pub     *recordingPublisher
	clock   *clock
}

func testVehicle() settings.Vehicle {
	return settings.Vehicle{
		ID:                     "car",
		DrivingStateSourceID:   drivingID,
		OdometerSourceID:       odometerID,
		BatterySourceID:        batteryID,
		LocationSourceID:       locationID,
		BatteryCapacityKWh:     60,
		TripEndDelaySeconds:    1800,
		MinTripDistanceKm:      1,
		MinTripDurationSeconds: 120,
	}
}

func newHarness(t *testing.T, v settings.Vehicle) *harness {
	t.Helper()
	logger, _ := test.NewNullLogger()
	h := &harness{
		sched:   &fakeScheduler{},
		source:  newFakeSource(),
		fetcher: &fakeFetcher{},
		pub:     &recordingPublisher{},
		clock:   &clock{now: t0},
	}
	h.tracker = New(context.Background(), Options{
		Vehicle:   v,
		Source:    h.source,
		Fetcher:   h.fetcher,
		Publisher: h.pub,
		Scheduler: h.sched,
		Now:       h.clock.Now,
		Logger:    logger,
	})
	h.tracker.Start()
	return h
}

func (h *harness) readings(odometer, battery string) {
	h.source.set(odometerID, odometer, nil)
	h.source.set(batteryID, battery, nil)
	h.source.set(locationID, "home", map[string]any{"latitude": 59.91, "longitude": 10.75})
}

func f(v float64) *float64 { return &v }

func TestTripLifecycle(t *testing.T) {
	h := newHarness(t, testVehicle())
	h.fetcher.geo = []geodata.Geodata{
		{Elevation: f(10), Temperature: f(12)},
		{Elevation: f(110.5), Temperature: f(15)},
	}
	h.readings("100", "80")

	h.source.emit(drivingID, "on")
	cur := h.tracker.Current()
	if cur.State != domain.StateActive || cur.Snapshot == nil {
		t.Fatalf("expected active trip, got %+v", cur)
	}
	if !cur.Snapshot.StartTime.Equal(t0) || *cur.Snapshot.StartOdometer != 100 || *cur.Snapshot.StartBattery != 80 {
		t.Fatalf("unexpected start snapshot %+v", cur.Snapshot)
	}
	if cur.Snapshot.TripID == "" {
		t.Fatalf("expected a trip id")
	}

	h.clock.advance(time.Hour)
	h.readings("150", "60")
	h.source.emit(drivingID, "off")

	armed := h.sched.last()
	if armed == nil || armed.d != 30*time.Minute {
		t.Fatalf("expected end timer armed for 30m, got %+v", armed)
	}
	if !h.tracker.PendingEnd() {
		t.Fatalf("expected pending end")
	}

	h.clock.advance(30 * time.Minute)
	if n := h.sched.fireLive(); n != 1 {
		t.Fatalf("expected one timer to fire, got %d", n)
	}

	currents, records := h.pub.snapshot()
	if len(records) != 1 {
		t.Fatalf("expected one record, got %d", len(records))
	}
	r := records[0]
	if r.EndTime == nil || !r.EndTime.Equal(t0.Add(time.Hour)) {
		t.Fatalf("end time should be the stop instant, got %v", r.EndTime)
	}
	if r.VehicleID != "car" || r.TripID != cur.Snapshot.TripID {
		t.Fatalf("unexpected record identity %+v", r)
	}
	checks := map[string]struct {
		got  *float64
		want float64
	}{
		"distance":           {r.Distance, 50},
		"energy_used":        {r.EnergyUsed, 12},
		"energy_consumption": {r.EnergyConsumption, 24},
		"avg_speed":          {r.AvgSpeed, 50},
		"elevation_diff":     {r.ElevationDiff, 100.5},
		"avg_temperature":    {r.AvgTemperature, 13.5},
	}
	for name, c := range checks {
		if c.got == nil || *c.got != c.want {
			t.Errorf("%s = %v, want %v", name, c.got, c.want)
		}
	}
	if r.Duration != "1:00:00" {
		t.Errorf("duration = %q", r.Duration)
	}

	if h.tracker.Current().State != domain.StateIdle || h.tracker.PendingEnd() {
		t.Fatalf("expected idle after finalization")
	}
	if got := currents[len(currents)-1]; got.State != domain.StateIdle || got.Snapshot != nil {
		t.Fatalf("expected idle projection last, got %+v", got)
	}
	if h.fetcher.calls != 2 {
		t.Fatalf("expected one lookup per trip end, got %d", h.fetcher.calls)
	}
}

func TestRapidStopResumeDoesNotFinalize(t *testing.T) {
	h := newHarness(t, testVehicle())
	h.readings("100", "80")

	h.source.emit(drivingID, "on")
	start := h.tracker.Current().Snapshot

	h.readings("101", "79")
	h.source.emit(drivingID, "off")
	h.clock.advance(5 * time.Second)
	h.source.emit(drivingID, "on")

	if h.tracker.PendingEnd() {
		t.Fatalf("resume should cancel the pending end")
	}
	if h.sched.live() != 0 {
		t.Fatalf("expected no live timer after resume")
	}

	// A callback that already started before the cancel must not finalize.
	h.sched.fireAnyway(0)

	_, records := h.pub.snapshot()
	if len(records) != 0 {
		t.Fatalf("no trip should finalize, got %d", len(records))
	}
	cur := h.tracker.Current()
	if cur.State != domain.StateActive {
		t.Fatalf("trip should still be active")
	}
	if *cur.Snapshot != *start {
		t.Fatalf("start fields changed on resume: %+v vs %+v", cur.Snapshot, start)
	}
}

func TestRepeatedStopUsesLatestEdge(t *testing.T) {
	h := newHarness(t, testVehicle())
	h.readings("100", "80")
	h.source.emit(drivingID, "on")

	h.clock.advance(10 * time.Minute)
	h.source.emit(drivingID, "off")
	h.clock.advance(time.Minute)
	h.source.emit(drivingID, "unavailable")

	if h.sched.live() != 1 {
		t.Fatalf("expected a single live timer, got %d", h.sched.live())
	}
	h.sched.fireAnyway(0)
	h.sched.fireLive()

	_, records := h.pub.snapshot()
	if len(records) != 1 {
		t.Fatalf("expected one record, got %d", len(records))
	}
	if want := t0.Add(11 * time.Minute); !records[0].EndTime.Equal(want) {
		t.Fatalf("end time = %v, want %v", records[0].EndTime, want)
	}
}

func TestFetchFailureStillFinalizes(t *testing.T) {
	h := newHarness(t, testVehicle())
	h.readings("100", "80")
	h.source.emit(drivingID, "on")
	h.clock.advance(time.Hour)
	h.readings("150", "60")
	h.source.emit(drivingID, "off")
	h.sched.fireLive()

	_, records := h.pub.snapshot()
	if len(records) != 1 {
		t.Fatalf("expected record despite failed lookups")
	}
	r := records[0]
	if r.StartElevation != nil || r.EndElevation != nil || r.ElevationDiff != nil || r.AvgTemperature != nil {
		t.Fatalf("geodata fields must be absent, got %+v", r)
	}
	if r.Distance == nil || *r.Distance != 50 {
		t.Fatalf("distance should still be computed")
	}
}

func TestMissingAndUnavailableReadings(t *testing.T) {
	h := newHarness(t, testVehicle())
	h.source.set(batteryID, "unavailable", nil)

	h.source.emit(drivingID, "driving")
	h.source.emit(drivingID, "off")
	h.sched.fireLive()

	_, records := h.pub.snapshot()
	if len(records) != 1 {
		t.Fatalf("expected one record")
	}
	r := records[0]
	if r.StartOdometer != nil || r.StartBattery != nil || r.Distance != nil || r.EnergyUsed != nil || r.AvgSpeed != nil {
		t.Fatalf("missing readings must stay absent, got %+v", r)
	}
	if r.StartLatitude != nil {
		t.Fatalf("missing location must stay absent")
	}
	if h.fetcher.calls != 0 {
		t.Fatalf("no lookup without a location, got %d calls", h.fetcher.calls)
	}
}

func TestMalformedEventIgnored(t *testing.T) {
	h := newHarness(t, testVehicle())
	h.tracker.HandleDrivingState(context.Background(), sensors.Change{EntityID: drivingID})

	currents, _ := h.pub.snapshot()
	if len(currents) != 1 || h.tracker.Current().State != domain.StateIdle {
		t.Fatalf("malformed event must not change state")
	}
}

func TestNotDrivingWhileIdleArmsNothing(t *testing.T) {
	h := newHarness(t, testVehicle())
	h.source.emit(drivingID, "off")
	if len(h.sched.timers) != 0 {
		t.Fatalf("idle vehicle must not arm an end timer")
	}
}

func TestSettingsUpdateMidTrip(t *testing.T) {
	h := newHarness(t, testVehicle())
	h.readings("100", "80")
	h.source.emit(drivingID, "on")
	start := *h.tracker.Current().Snapshot

	v := testVehicle()
	v.BatteryCapacityKWh = 100
	v.TripEndDelaySeconds = 60
	h.tracker.UpdateSettings(v)

	if got := *h.tracker.Current().Snapshot; got != start {
		t.Fatalf("settings update must not touch captured fields")
	}

	h.clock.advance(time.Hour)
	h.readings("150", "60")
	h.source.emit(drivingID, "off")
	if h.sched.last().d != time.Minute {
		t.Fatalf("new delay should apply to the next arming, got %v", h.sched.last().d)
	}
	h.sched.fireLive()

	_, records := h.pub.snapshot()
	if records[0].EnergyUsed == nil || *records[0].EnergyUsed != 20 {
		t.Fatalf("finalization should use the updated capacity, got %v", records[0].EnergyUsed)
	}
}

func TestUpdateSettingsResubscribes(t *testing.T) {
	h := newHarness(t, testVehicle())
	h.readings("100", "80")
	h.source.emit(drivingID, "on")

	v := testVehicle()
	v.DrivingStateSourceID = "binary_sensor.other"
	h.tracker.UpdateSettings(v)

	if h.source.subscribers() != 1 {
		t.Fatalf("expected exactly one subscription, got %d", h.source.subscribers())
	}
	h.source.emit(drivingID, "off")
	if h.tracker.PendingEnd() {
		t.Fatalf("old source must be detached")
	}
	h.source.emit("binary_sensor.other", "off")
	if !h.tracker.PendingEnd() {
		t.Fatalf("new source should drive the tracker")
	}
	if h.tracker.Current().State != domain.StateActive {
		t.Fatalf("in-flight trip should survive the resubscription")
	}
}

func TestTeardownSilencesCallbacks(t *testing.T) {
	h := newHarness(t, testVehicle())
	h.readings("100", "80")
	h.source.emit(drivingID, "on")
	h.source.emit(drivingID, "off")

	h.tracker.Teardown()
	h.tracker.Teardown()

	if h.source.subscribers() != 0 {
		t.Fatalf("teardown must detach the subscription")
	}
	if !h.sched.timers[0].stopped {
		t.Fatalf("teardown must cancel the pending end")
	}

	h.sched.fireAnyway(0)
	h.tracker.HandleDrivingState(context.Background(), sensors.Change{
		EntityID: drivingID,
		New:      &sensors.Observation{EntityID: drivingID, State: "on"},
	})

	currents, records := h.pub.snapshot()
	if len(records) != 0 {
		t.Fatalf("no record after teardown")
	}
	if len(currents) != 2 {
		t.Fatalf("no projection after teardown, got %d", len(currents))
	}
}

func TestZeroDelayFinalizesOnScheduler(t *testing.T) {
	v := testVehicle()
	v.TripEndDelaySeconds = 0
	h := newHarness(t, v)
	h.source.emit(drivingID, "on")
	h.source.emit(drivingID, "off")

	if _, records := h.pub.snapshot(); len(records) != 0 {
		t.Fatalf("finalization must not run inline")
	}
	if h.sched.last().d != 0 {
		t.Fatalf("expected zero delay arming")
	}
	h.sched.fireLive()
	if _, records := h.pub.snapshot(); len(records) != 1 {
		t.Fatalf("expected record after fire")
	}
}

func TestRandomTogglesKeepOneTripAtATime(t *testing.T) {
	h := newHarness(t, testVehicle())
	h.readings("100", "80")
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 500; i++ {
		h.clock.advance(time.Duration(rng.Intn(600)) * time.Second)
		switch rng.Intn(4) {
		case 0:
			h.source.emit(drivingID, "on")
		case 1:
			h.source.emit(drivingID, "off")
		case 2:
			if rng.Intn(2) == 0 && len(h.sched.timers) > 0 {
				h.sched.fireAnyway(rng.Intn(len(h.sched.timers)))
			} else {
				h.sched.fireLive()
			}
		case 3:
			h.tracker.HandleDrivingState(context.Background(), sensors.Change{EntityID: drivingID})
		}
		if h.sched.live() > 1 {
			t.Fatalf("step %d: %d live timers", i, h.sched.live())
		}
	}

	currents, records := h.pub.snapshot()
	// After the initial idle, projections alternate active/idle.
	starts := 0
	for i, c := range currents[1:] {
		want := domain.StateActive
		if i%2 == 1 {
			want = domain.StateIdle
		}
		if c.State != want {
			t.Fatalf("projection %d = %s, want %s", i, c.State, want)
		}
		if c.State == domain.StateActive {
			starts++
		}
	}
	ends := starts
	if h.tracker.Current().State == domain.StateActive {
		ends--
	}
	if len(records) != ends {
		t.Fatalf("records %d, completed trips %d", len(records), ends)
	}
	seen := map[string]bool{}
	for _, r := range records {
		if seen[r.TripID] {
			t.Fatalf("trip %s finalized twice", r.TripID)
		}
		seen[r.TripID] = true
	}
}
