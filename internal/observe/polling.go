package observe

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jkaberg/ev-trip-tracker/internal/sensors"
)

// StateFetcher reads entity states in bulk. *hass.Client satisfies it.
type StateFetcher interface {
	GetStates(ctx context.Context, ids []string) (map[string]*sensors.Observation, error)
}

// PollingSource polls the Home Assistant REST API for the watched entities.
type PollingSource struct {
	*hub
	client   StateFetcher
	interval time.Duration

	idsMu sync.Mutex
	ids   map[string]struct{}
}

// NewPollingSource returns a source polling client every interval.
func NewPollingSource(client StateFetcher, interval time.Duration, logger *logrus.Logger) *PollingSource {
	return &PollingSource{
		hub:      newHub(logger),
		client:   client,
		interval: interval,
		ids:      make(map[string]struct{}),
	}
}

// Watch adds entities to the poll set.
func (p *PollingSource) Watch(ids ...string) {
	p.idsMu.Lock()
	defer p.idsMu.Unlock()
	for _, id := range ids {
		if id != "" {
			p.ids[id] = struct{}{}
		}
	}
}

// Subscribe watches ids and subscribes to their changes.
func (p *PollingSource) Subscribe(ids []string, fn func(sensors.Change)) func() {
	p.Watch(ids...)
	return p.hub.Subscribe(ids, fn)
}

// Run polls until ctx is done.
func (p *PollingSource) Run(ctx context.Context) error {
	p.logger.WithField("interval", p.interval).Info("observe: polling Home Assistant")
	p.Poll(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

// Poll fetches every watched entity once. Entities Home Assistant no longer
// reports are dropped from the cache.
func (p *PollingSource) Poll(ctx context.Context) {
	ids := p.watchedIDs()
	if len(ids) == 0 {
		return
	}
	states, err := p.client.GetStates(ctx, ids)
	if err != nil {
		p.logger.WithError(err).Warn("observe: poll failed")
		return
	}
	for _, id := range ids {
		if o, ok := states[id]; ok {
			p.update(o)
			continue
		}
		if _, cached := p.Current(id); cached {
			p.remove(id)
		}
	}
}

func (p *PollingSource) watchedIDs() []string {
	p.idsMu.Lock()
	defer p.idsMu.Unlock()
	ids := make([]string, 0, len(p.ids))
	for id := range p.ids {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
