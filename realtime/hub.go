package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"rewardskit/engine"
)

// Hub is a simple pub/sub for broadcasting ledger changes to channels.
type Hub struct {
	mu   sync.RWMutex
	subs map[int]chan engine.Change
	next int
}

func NewHub() *Hub { return &Hub{subs: map[int]chan engine.Change{}} }

func (h *Hub) Subscribe(buffer int) (int, <-chan engine.Change) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	id := h.next
	ch := make(chan engine.Change, buffer)
	h.subs[id] = ch
	return id, ch
}

func (h *Hub) Unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
	}
}

func (h *Hub) Broadcast(_ context.Context, c engine.Change) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- c:
		default: /* drop if full */
		}
	}
}

// Attach forwards every change published on bus. Returns the unsubscribe func.
func (h *Hub) Attach(bus *engine.EventBus) func() {
	return bus.Subscribe(engine.ChangeAny, h.Broadcast)
}

// MarshalJSON is a helper to convert changes to JSON bytes for WebSocket/SSE.
func MarshalJSON(c engine.Change) []byte {
	b, _ := json.Marshal(c)
	return b
}
