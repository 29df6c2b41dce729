package cache

import (
	"bytes"
	"strings"
	"sync"
)

// Manager remembers the last payload published per key and answers the
// question: "has anything changed since the last time I asked?".
//
// Behaviour:
//   - First call to Changed() for a key always returns true and stores the payload.
//   - The stored payload is replaced only when a difference is detected.
//   - Forget drops a key so the next Changed() for it reports true again,
//     which is what a reconnect or a removed vehicle needs.
type Manager struct {
	mu   sync.Mutex
	prev map[string][]byte
}

// NewManager returns a ready-to-use cache manager.
func NewManager() *Manager {
	return &Manager{prev: make(map[string][]byte)}
}

// Changed compares payload against the one stored under key. If it differs
// it stores a copy and returns true.
func (m *Manager) Changed(key string, payload []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.prev[key]; ok && bytes.Equal(prev, payload) {
		return false
	}
	m.prev[key] = append([]byte(nil), payload...)
	return true
}

// Forget drops the stored payload for every key with the given prefix.
func (m *Manager) Forget(prefix string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.prev {
		if strings.HasPrefix(k, prefix) {
			delete(m.prev, k)
		}
	}
}

// Reset drops everything.
func (m *Manager) Reset() {
	m.mu.Lock()
	m.prev = make(map[string][]byte)
	m.mu.Unlock()
}
