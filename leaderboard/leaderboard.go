package leaderboard

import (
	"context"

	"rewardskit/core"
	"rewardskit/engine"
)

// Entry is one learner's standing.
type Entry struct {
	User   core.UserID `json:"user"`
	Points int64       `json:"points"`
	Streak int         `json:"streak"`
}

// Board abstracts leaderboard operations.
type Board interface {
	Update(e Entry)
	Remove(user core.UserID)
	TopN(n int) []Entry
	Get(user core.UserID) (Entry, bool)
	Rank(user core.UserID) (int, bool)
}

// Track keeps board in step with ledger changes on bus. A reset removes
// the learner until they earn again. Returns the unsubscribe func.
func Track(board Board, bus *engine.EventBus) func() {
	return bus.Subscribe(engine.ChangeAny, func(_ context.Context, c engine.Change) {
		if c.IsReset || c.TotalPoints == 0 {
			board.Remove(c.UserID)
			return
		}
		board.Update(Entry{User: c.UserID, Points: c.TotalPoints, Streak: c.Streak})
	})
}
