// Package httpapi serves the read-only trip API.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/jkaberg/ev-trip-tracker/internal/domain"
	"github.com/jkaberg/ev-trip-tracker/internal/notify"
	"github.com/jkaberg/ev-trip-tracker/internal/publish"
	"github.com/jkaberg/ev-trip-tracker/internal/settings"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 500
	eventBuffer         = 16
)

// Projections is the read side of the publisher.
type Projections interface {
	Current(vehicleID string) (domain.CurrentTrip, bool)
	Last(vehicleID string) (domain.Record, bool)
	History(ctx context.Context, vehicleID string, limit int) ([]domain.Record, error)
}

// Vehicles lists the configured vehicles.
type Vehicles interface {
	Vehicles() []settings.Vehicle
}

// Check reports the health of one dependency.
type Check func(ctx context.Context) error

// Options wires a Server. Events may be nil, which disables /api/events.
type Options struct {
	Projections Projections
	Vehicles    Vehicles
	Events      *notify.Fanout
	Checks      map[string]Check
	Logger      *logrus.Logger
}

// Server is the HTTP API.
type Server struct {
	opts   Options
	logger *logrus.Logger
	router *mux.Router
}

// NewServer builds the router.
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	s := &Server{opts: opts, logger: opts.Logger, router: mux.NewRouter()}

	s.router.Use(s.requestLogger)
	s.router.HandleFunc("/healthz", s.health).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/vehicles", s.listVehicles).Methods(http.MethodGet)
	api.HandleFunc("/vehicles/{id}/trip/current", s.currentTrip).Methods(http.MethodGet)
	api.HandleFunc("/vehicles/{id}/trip/last", s.lastTrip).Methods(http.MethodGet)
	api.HandleFunc("/vehicles/{id}/trips", s.trips).Methods(http.MethodGet)
	if opts.Events != nil {
		api.HandleFunc("/events", s.events).Methods(http.MethodGet)
	}
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("httpapi: listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.logger.Info("httpapi: stopped")
	return nil
}

type healthResponse struct {
	Status   string            `json:"status"`
	Services map[string]string `json:"services"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Services: make(map[string]string)}
	for name, check := range s.opts.Checks {
		if err := check(r.Context()); err != nil {
			resp.Status = "degraded"
			resp.Services[name] = "unhealthy: " + err.Error()
		} else {
			resp.Services[name] = "healthy"
		}
	}
	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

type vehicleResponse struct {
	ID    string           `json:"id"`
	Name  string           `json:"name"`
	State domain.TripState `json:"state"`
}

func (s *Server) listVehicles(w http.ResponseWriter, _ *http.Request) {
	out := []vehicleResponse{}
	for _, v := range s.opts.Vehicles.Vehicles() {
		state := domain.StateIdle
		if cur, ok := s.opts.Projections.Current(v.ID); ok {
			state = cur.State
		}
		out = append(out, vehicleResponse{ID: v.ID, Name: v.DisplayName(), State: state})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) currentTrip(w http.ResponseWriter, r *http.Request) {
	id, ok := s.vehicle(w, r)
	if !ok {
		return
	}
	cur, ok := s.opts.Projections.Current(id)
	if !ok {
		cur = domain.Idle()
	}
	writeJSON(w, http.StatusOK, cur)
}

func (s *Server) lastTrip(w http.ResponseWriter, r *http.Request) {
	id, ok := s.vehicle(w, r)
	if !ok {
		return
	}
	rec, ok := s.opts.Projections.Last(id)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "No trip finished yet.")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) trips(w http.ResponseWriter, r *http.Request) {
	id, ok := s.vehicle(w, r)
	if !ok {
		return
	}
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxHistoryLimit {
			writeError(w, http.StatusBadRequest, "invalid_limit",
				fmt.Sprintf("limit must be an integer between 1 and %d", maxHistoryLimit))
			return
		}
		limit = n
	}

	recs, err := s.opts.Projections.History(r.Context(), id, limit)
	switch {
	case errors.Is(err, publish.ErrHistoryDisabled):
		writeError(w, http.StatusServiceUnavailable, "history_disabled", "Trip history is not configured.")
		return
	case err != nil:
		s.logger.WithError(err).WithField("vehicle", id).Warn("httpapi: history query failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}
	if recs == nil {
		recs = []domain.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// events streams notifications as server-sent events.
func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "")
		return
	}
	sub := s.opts.Events.Subscribe(eventBuffer)
	defer s.opts.Events.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-sub.Done():
			return
		case ev := <-sub.C():
			data, err := json.Marshal(ev)
			if err != nil {
				s.logger.WithError(err).Warn("httpapi: failed to encode event")
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// vehicle resolves the {id} route variable against the configured vehicles.
func (s *Server) vehicle(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := mux.Vars(r)["id"]
	for _, v := range s.opts.Vehicles.Vehicles() {
		if v.ID == id {
			return id, true
		}
	}
	writeError(w, http.StatusNotFound, "unknown_vehicle", fmt.Sprintf("Vehicle %q is not configured.", id))
	return "", false
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	body := map[string]string{"error": code}
	if message != "" {
		body["message"] = message
	}
	writeJSON(w, status, body)
}

// writeJSON is a helper that writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
