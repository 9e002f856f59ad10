// Package rewards assembles a ready-to-use rewards stack: one Registry of
// per-learner recorders plus the optional listeners that fan its change
// notifications out.
package rewards

import (
	"context"

	mem "rewardskit/adapters/memory"
	"rewardskit/core"
	"rewardskit/engine"
	"rewardskit/integrations/webhook"
	"rewardskit/leaderboard"
	"rewardskit/realtime"
)

// Option configures the builder.
type Option func(*config)

type config struct {
	storage  engine.Storage
	mode     engine.DispatchMode
	hub      *realtime.Hub
	board    leaderboard.Board
	sinks    []*webhook.Sink
	recorder []engine.Option
}

// WithStorage sets the persistence adapter.
func WithStorage(s engine.Storage) Option { return func(c *config) { c.storage = s } }

// WithDispatchMode selects sync or async change dispatch.
func WithDispatchMode(m engine.DispatchMode) Option { return func(c *config) { c.mode = m } }

// WithRealtime broadcasts every change through h.
func WithRealtime(h *realtime.Hub) Option { return func(c *config) { c.hub = h } }

// WithLeaderboard keeps b ranked from change notifications.
func WithLeaderboard(b leaderboard.Board) Option { return func(c *config) { c.board = b } }

// WithWebhook forwards changes to s.
func WithWebhook(s *webhook.Sink) Option {
	return func(c *config) {
		if s != nil {
			c.sinks = append(c.sinks, s)
		}
	}
}

// WithRecorderOptions applies opts to every recorder the registry creates.
func WithRecorderOptions(opts ...engine.Option) Option {
	return func(c *config) { c.recorder = append(c.recorder, opts...) }
}

// Kit is the assembled stack.
type Kit struct {
	*engine.Registry
	Bus   *engine.EventBus
	Hub   *realtime.Hub
	Board leaderboard.Board

	detach []func()
}

// New builds a Kit. If not provided, defaults are used:
//   - storage: in-memory
//   - dispatch: async
//   - leaderboard: skip list
func New(opts ...Option) *Kit {
	cfg := &config{mode: engine.DispatchAsync}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.storage == nil {
		cfg.storage = mem.New()
	}
	if cfg.board == nil {
		cfg.board = leaderboard.NewSkipList()
	}
	bus := engine.NewEventBus(cfg.mode)
	k := &Kit{
		Registry: engine.NewRegistry(cfg.storage, bus, cfg.recorder...),
		Bus:      bus,
		Hub:      cfg.hub,
		Board:    cfg.board,
	}
	k.detach = append(k.detach, leaderboard.Track(cfg.board, bus))
	if cfg.hub != nil {
		k.detach = append(k.detach, cfg.hub.Attach(bus))
	}
	for _, s := range cfg.sinks {
		k.detach = append(k.detach, s.Attach(bus))
	}
	return k
}

// Record is shorthand for resolving the learner's recorder and recording kind.
func (k *Kit) Record(ctx context.Context, user core.UserID, kind core.EventKind, meta core.Metadata) (engine.Result, error) {
	rec, err := k.Recorder(ctx, user)
	if err != nil {
		return engine.Result{}, err
	}
	return rec.RecordEvent(ctx, kind, meta), nil
}

// Close detaches listeners and drains the bus.
func (k *Kit) Close() {
	for _, d := range k.detach {
		d()
	}
	k.Registry.Close()
}
