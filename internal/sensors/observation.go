package sensors

import "time"

// Observation is the latest known state of a single Home Assistant entity.
// State is kept as the raw string Home Assistant reports so callers can tell
// "unavailable" apart from a genuine reading.
type Observation struct {
	EntityID    string         `json:"entity_id"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes,omitempty"`
	LastUpdated time.Time      `json:"last_updated"`
}

// Change describes one state transition. New is nil when the entity was
// removed or the update carried no resolvable value.
type Change struct {
	EntityID string
	Old      *Observation
	New      *Observation
}

// Clone returns a copy that does not share the attribute map.
func (o *Observation) Clone() *Observation {
	if o == nil {
		return nil
	}
	c := *o
	if o.Attributes != nil {
		c.Attributes = make(map[string]any, len(o.Attributes))
		for k, v := range o.Attributes {
			c.Attributes[k] = v
		}
	}
	return &c
}
