package observe

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jkaberg/ev-trip-tracker/internal/sensors"
)

// Memory is a source fed by the caller. It backs tests and embedding.
type Memory struct {
	*hub
	now func() time.Time
}

// NewMemory returns an empty in-memory source.
func NewMemory(logger *logrus.Logger) *Memory {
	return &Memory{hub: newHub(logger), now: time.Now}
}

// Set records a new observation of id.
func (m *Memory) Set(id, state string, attributes map[string]any) {
	m.update(&sensors.Observation{
		EntityID:    id,
		State:       state,
		Attributes:  attributes,
		LastUpdated: m.now(),
	})
}

// Remove forgets id.
func (m *Memory) Remove(id string) {
	m.remove(id)
}

// Watch is a no-op; everything set is kept.
func (m *Memory) Watch(...string) {}

// Run blocks until ctx is done.
func (m *Memory) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}
