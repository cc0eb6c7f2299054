package mqttc

import (
	"sync"
)

// InFight tracks inbound QoS 2 packet ids between PUBREC and PUBREL,
// so a redelivered PUBLISH with DUP set is acknowledged but not delivered twice.
type InFight struct {
	mu   sync.Mutex
	maps map[uint16]struct{}
}

func newInFight() *InFight {
	return &InFight{maps: make(map[uint16]struct{})}
}

// Put records id and reports whether it was not in flight yet.
func (i *InFight) Put(id uint16) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if _, ok := i.maps[id]; ok {
		return false
	}
	i.maps[id] = struct{}{}
	return true
}

// Release forgets id once PUBREL arrived.
func (i *InFight) Release(id uint16) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	_, ok := i.maps[id]
	delete(i.maps, id)
	return ok
}

func (i *InFight) Len() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.maps)
}
