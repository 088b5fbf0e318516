package offline

import "sync"

// NetworkProbe reports current connectivity. The host environment supplies
// an implementation; tests flip a boolean.
type NetworkProbe interface {
	Online() bool
}

// Hub tracks connectivity and fans out transitions to subscribers. Callbacks
// run synchronously under the hub lock and fire only on actual state changes.
type Hub struct {
	mu     sync.Mutex
	online bool
	subs   []func(online bool)
}

// NewHub returns a hub with the given initial state.
func NewHub(online bool) *Hub {
	return &Hub{online: online}
}

// Subscribe registers a callback for connectivity transitions. Subscriptions
// cannot be removed; keep callbacks small.
func (h *Hub) Subscribe(fn func(online bool)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs = append(h.subs, fn)
}

// Set records the connectivity state, notifying subscribers on change.
func (h *Hub) Set(online bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if online == h.online {
		return
	}
	h.online = online
	for _, fn := range h.subs {
		fn(online)
	}
}

// Online reports the last recorded state.
func (h *Hub) Online() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.online
}
