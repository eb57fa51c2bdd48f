package reconcile

import (
	"sort"
	"sync"

	"github.com/mnemnk/runtime/internal/agent/instance"
)

// Map is a thread-safe table of live agent instances keyed by node id,
// satisfying both InstanceMap (for the reconciler) and
// router.InstanceLookup (for dispatch), grounded in the teacher's
// lifecycle.InstanceStore single-index shape (this table only ever needs
// lookup by id, unlike InstanceStore's task/container secondary indexes).
type Map struct {
	mu   sync.RWMutex
	data map[string]instance.Agent
}

func NewMap() *Map {
	return &Map{data: make(map[string]instance.Agent)}
}

func (m *Map) Get(id string) (instance.Agent, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.data[id]
	return a, ok
}

func (m *Map) Set(id string, agent instance.Agent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[id] = agent
}

func (m *Map) Delete(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, id)
}

func (m *Map) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
