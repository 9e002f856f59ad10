package engine

import (
	"context"
	"sync"
	"time"

	"rewardskit/core"
)

type DispatchMode int

const (
	DispatchSync DispatchMode = iota
	DispatchAsync
)

// ChangeType classifies a ledger change notification.
type ChangeType string

const (
	// ChangeAny subscribes to every change type.
	ChangeAny      ChangeType = ""
	ChangeRecorded ChangeType = "recorded"
	ChangeRedeemed ChangeType = "redeemed"
	ChangeReset    ChangeType = "reset"
	ChangeImported ChangeType = "imported"
)

// Change is the payload emitted after every persisted ledger mutation. It is
// the only way listeners (UI, sync, realtime fan-out) learn of new state.
type Change struct {
	Type            ChangeType           `json:"type"`
	UserID          core.UserID          `json:"userId"`
	TotalPoints     int64                `json:"totalPoints"`
	AvailablePoints int64                `json:"availablePoints"`
	Streak          int                  `json:"streak"`
	Delta           int64                `json:"delta"`
	Kind            core.EventKind       `json:"kind,omitempty"`
	Achievements    []core.AchievementID `json:"achievements,omitempty"`
	ForceSync       bool                 `json:"forceSync,omitempty"`
	IsReset         bool                 `json:"isReset,omitempty"`
	At              time.Time            `json:"at"`
}

type subscription struct {
	id  int64
	typ ChangeType
	fn  func(context.Context, Change)
}

// EventBus provides thread-safe pub/sub with sync and async dispatch.
type EventBus struct {
	mode         DispatchMode
	mu           sync.RWMutex
	subs         map[ChangeType]map[int64]subscription
	nextID       int64
	asyncQueue   chan Change
	asyncWorkers int

	closeMu   sync.RWMutex
	closed    bool
	closeOnce sync.Once
	workers   sync.WaitGroup
}

func NewEventBus(mode DispatchMode) *EventBus {
	return newEventBus(mode, 2048, 4)
}

func newEventBus(mode DispatchMode, queue, workers int) *EventBus {
	eb := &EventBus{
		mode:         mode,
		subs:         make(map[ChangeType]map[int64]subscription),
		asyncQueue:   make(chan Change, queue),
		asyncWorkers: workers,
	}
	if mode == DispatchAsync {
		eb.startWorkers()
	}
	return eb
}

func (e *EventBus) startWorkers() {
	for i := 0; i < e.asyncWorkers; i++ {
		e.workers.Add(1)
		go func() {
			defer e.workers.Done()
			for ch := range e.asyncQueue {
				e.dispatchSync(context.Background(), ch)
			}
		}()
	}
}

// Close stops accepting queued changes and returns once every change
// already queued has been delivered. Changes published after Close are
// dispatched synchronously. Close is idempotent.
func (e *EventBus) Close() {
	e.closeOnce.Do(func() {
		e.closeMu.Lock()
		e.closed = true
		close(e.asyncQueue)
		e.closeMu.Unlock()
		e.workers.Wait()
	})
}

// Subscribe registers a handler for a change type, or every type with
// ChangeAny. Returns unsubscribe func. In DispatchSync mode handlers run
// while the publishing Recorder holds its lock and must not call back into it.
func (e *EventBus) Subscribe(typ ChangeType, handler func(context.Context, Change)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	id := e.nextID
	if e.subs[typ] == nil {
		e.subs[typ] = make(map[int64]subscription)
	}
	e.subs[typ][id] = subscription{id: id, typ: typ, fn: handler}
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if m := e.subs[typ]; m != nil {
			delete(m, id)
		}
	}
}

// Publish sends a change to subscribers. In async mode the change is queued;
// when the queue is full or the bus is closed it is delivered on the
// caller's goroutine instead, so no change is ever dropped.
func (e *EventBus) Publish(ctx context.Context, ch Change) {
	if e.mode == DispatchAsync && e.enqueue(ch) {
		return
	}
	e.dispatchSync(ctx, ch)
}

func (e *EventBus) enqueue(ch Change) bool {
	e.closeMu.RLock()
	defer e.closeMu.RUnlock()
	if e.closed {
		return false
	}
	select {
	case e.asyncQueue <- ch:
		return true
	default:
		return false
	}
}

func (e *EventBus) dispatchSync(ctx context.Context, ch Change) {
	e.mu.RLock()
	// copy to avoid holding lock during callbacks
	handlers := make([]func(context.Context, Change), 0, len(e.subs[ch.Type])+len(e.subs[ChangeAny]))
	for _, s := range e.subs[ch.Type] {
		handlers = append(handlers, s.fn)
	}
	if ch.Type != ChangeAny {
		for _, s := range e.subs[ChangeAny] {
			handlers = append(handlers, s.fn)
		}
	}
	e.mu.RUnlock()
	for _, h := range handlers {
		h(ctx, ch)
	}
}
