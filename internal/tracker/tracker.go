// Package tracker records how often, and how recently, each memory has been
// reinforced by retrieval.
package tracker

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable marks a failure to reach the backing store. Callers treat it
// as a per-memory degradation, not a fatal error.
var ErrUnavailable = errors.New("reinforcement tracker unavailable")

// State is the reinforcement history of one memory.
type State struct {
	AccessCount      int64
	LastReinforcedAt time.Time // zero if never reinforced
}

// Reinforced reports whether the memory has ever been reinforced.
func (s State) Reinforced() bool {
	return !s.LastReinforcedAt.IsZero()
}

// Tracker stores reinforcement state keyed by memory id.
//
// Reinforce must be atomic per id: N concurrent calls for one id leave
// AccessCount increased by exactly N. If ctx is done before the update is
// applied, the update is not applied.
type Tracker interface {
	// Get returns the state for id, or the zero State for unknown ids.
	Get(ctx context.Context, id int64) (State, error)
	// Reinforce increments the access count for id and stamps it with now.
	Reinforce(ctx context.Context, id int64, now time.Time) (State, error)
	// Remove forgets id. Removing an unknown id is not an error.
	Remove(ctx context.Context, id int64) error
}
