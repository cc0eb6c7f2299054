package mqttc

import (
	"context"
	"sync"
	"time"

	"github.com/golang-io/mqttc/packet"
)

// pingKey is the correlation key of the single outstanding PINGREQ.
// Packet ids only use the low 16 bits, so it never collides with one.
const pingKey uint32 = 1 << 16

// completion is a one-shot result slot for a request awaiting its acknowledgment.
type completion struct {
	once sync.Once
	done chan struct{}
	pkt  packet.Packet
	err  error
}

func newCompletion() *completion {
	return &completion{done: make(chan struct{})}
}

// resolve settles the completion. Only the first call has any effect.
func (c *completion) resolve(pkt packet.Packet, err error) bool {
	settled := false
	c.once.Do(func() {
		c.pkt, c.err = pkt, err
		close(c.done)
		settled = true
	})
	return settled
}

// wait blocks until the completion is settled, ctx is done or timeout elapses.
// A zero timeout waits on ctx only.
func (c *completion) wait(ctx context.Context, timeout time.Duration) (packet.Packet, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case <-c.done:
		return c.pkt, c.err
	case <-expired:
		return nil, ErrTimeout
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return nil, ErrTimeout
		}
		return nil, ctx.Err()
	}
}

// registry maps correlation keys to pending completions.
// It has no lock of its own: every call is made with Client.mu held.
type registry struct {
	pending map[uint32]*completion
}

func newRegistry() *registry {
	return &registry{pending: make(map[uint32]*completion)}
}

// register returns the completion for key, creating it if needed.
// Concurrent pings share the same slot.
func (r *registry) register(key uint32) *completion {
	if c, ok := r.pending[key]; ok {
		return c
	}
	c := newCompletion()
	r.pending[key] = c
	stat.Pending.Inc()
	return c
}

// complete settles and consumes the entry for key. A second arrival for the same key is a no-op.
func (r *registry) complete(key uint32, pkt packet.Packet) bool {
	c, ok := r.pending[key]
	if !ok {
		return false
	}
	r.remove(key)
	return c.resolve(pkt, nil)
}

func (r *registry) remove(key uint32) {
	if _, ok := r.pending[key]; ok {
		delete(r.pending, key)
		stat.Pending.Dec()
	}
}

// drop removes key only while it still maps to c, so a caller never removes a slot registered after its own.
func (r *registry) drop(key uint32, c *completion) {
	if r.pending[key] == c {
		r.remove(key)
	}
}

// failAll settles every pending entry with err and empties the registry.
func (r *registry) failAll(err error) {
	for key, c := range r.pending {
		c.resolve(nil, err)
		r.remove(key)
	}
}

func (r *registry) outstanding(id uint16) bool {
	_, ok := r.pending[uint32(id)]
	return ok
}

func (r *registry) len() int {
	return len(r.pending)
}
