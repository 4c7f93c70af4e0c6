package backpack

import (
	"context"
	"sync"

	"github.com/veiloq/backpack-connector/pkg/exchanges/interfaces"
)

// waiterHub correlates inbound messages with callers blocked on the next
// value for a channel key. Registration is one-shot: a waiter only sees
// values produced after it registered, and every waiter registered under a
// key is released by the same publish (single producer, multiple
// consumers). Keys come in two granularities, e.g. "orders" and
// "orders:SOL_USDC"; a single message publishes to both.
type waiterHub struct {
	mu      sync.Mutex
	waiters map[string][]chan interface{}
	closed  bool
}

func newWaiterHub() *waiterHub {
	return &waiterHub{waiters: make(map[string][]chan interface{})}
}

// wait blocks until the next value published under key, the context ends,
// or the hub shuts down.
func (h *waiterHub) wait(ctx context.Context, key string) (interface{}, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, interfaces.ErrSubscriptionClosed
	}
	ch := make(chan interface{}, 1)
	h.waiters[key] = append(h.waiters[key], ch)
	h.mu.Unlock()

	select {
	case v, ok := <-ch:
		if !ok {
			return nil, interfaces.ErrSubscriptionClosed
		}
		return v, nil
	case <-ctx.Done():
		h.remove(key, ch)
		return nil, ctx.Err()
	}
}

// publish releases every waiter registered under the given keys with the
// same value.
func (h *waiterHub) publish(value interface{}, keys ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, key := range keys {
		for _, ch := range h.waiters[key] {
			ch <- value
		}
		delete(h.waiters, key)
	}
}

// cancel releases the waiters for the given keys with a cancellation
// signal instead of a value.
func (h *waiterHub) cancel(keys ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, key := range keys {
		for _, ch := range h.waiters[key] {
			close(ch)
		}
		delete(h.waiters, key)
	}
}

// shutdown cancels every pending waiter and rejects future ones.
func (h *waiterHub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for key, chans := range h.waiters {
		for _, ch := range chans {
			close(ch)
		}
		delete(h.waiters, key)
	}
}

func (h *waiterHub) remove(key string, target chan interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	chans := h.waiters[key]
	for i, ch := range chans {
		if ch == target {
			h.waiters[key] = append(chans[:i], chans[i+1:]...)
			break
		}
	}
	if len(h.waiters[key]) == 0 {
		delete(h.waiters, key)
	}
}
