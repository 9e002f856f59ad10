package engine

import (
	"context"
	"sort"
	"sync"

	"rewardskit/core"
)

// Registry owns one Recorder per learner for multi-user hosts such as the
// HTTP server. Recorders are created lazily on first access and share the
// registry's storage, bus and options.
type Registry struct {
	storage Storage
	bus     *EventBus
	opts    []Option

	mu        sync.Mutex
	recorders map[core.UserID]*Recorder
}

func NewRegistry(storage Storage, bus *EventBus, opts ...Option) *Registry {
	if storage == nil || bus == nil {
		panic("NewRegistry requires non-nil storage and bus")
	}
	return &Registry{storage: storage, bus: bus, opts: opts, recorders: make(map[core.UserID]*Recorder)}
}

// Recorder returns the recorder for user, loading its ledger on first use.
func (g *Registry) Recorder(ctx context.Context, user core.UserID) (*Recorder, error) {
	normalized, err := core.NormalizeUserID(user)
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if rec, ok := g.recorders[normalized]; ok {
		return rec, nil
	}
	rec, err := NewRecorder(ctx, g.storage, g.bus, normalized, g.opts...)
	if err != nil {
		return nil, err
	}
	g.recorders[normalized] = rec
	return rec, nil
}

// Users lists the learners with a loaded recorder, sorted.
func (g *Registry) Users() []core.UserID {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]core.UserID, 0, len(g.recorders))
	for u := range g.recorders {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// States returns a copy of every loaded ledger, ordered by user.
func (g *Registry) States() []*core.Ledger {
	users := g.Users()
	out := make([]*core.Ledger, 0, len(users))
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, u := range users {
		if rec, ok := g.recorders[u]; ok {
			out = append(out, rec.State())
		}
	}
	return out
}

// Ping verifies the storage backend answers reads.
func (g *Registry) Ping(ctx context.Context) error {
	_, _, err := g.storage.Get(ctx, StorageKey("healthcheck_probe"))
	return err
}

// Subscribe convenience method.
func (g *Registry) Subscribe(typ ChangeType, handler func(context.Context, Change)) func() {
	return g.bus.Subscribe(typ, handler)
}

func (g *Registry) Close() { g.bus.Close() }
