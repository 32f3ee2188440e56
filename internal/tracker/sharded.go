package tracker

import (
	"context"
	"math/bits"
	"sync"
	"time"
)

// DefaultShards is the shard count used when none is given.
const DefaultShards = 64

// Sharded is an in-memory Tracker. Ids are spread over a power-of-two number
// of shards, each guarded by its own lock, so contention only occurs between
// ids that hash to the same shard.
//
// State is lost when the process exits.
type Sharded struct {
	shards []shard
	shift  uint
}

type shard struct {
	mu     sync.RWMutex
	states map[int64]State
}

// NewSharded returns a Sharded tracker with at least n shards, rounded up to
// a power of two. n <= 0 uses DefaultShards.
func NewSharded(n int) *Sharded {
	if n <= 0 {
		n = DefaultShards
	}
	logN := bits.Len(uint(n - 1))
	n = 1 << logN

	s := &Sharded{
		shards: make([]shard, n),
		shift:  uint(64 - logN),
	}
	for i := range s.shards {
		s.shards[i].states = make(map[int64]State)
	}
	return s
}

// shardFor uses Fibonacci hashing so sequential ids land on different shards.
func (s *Sharded) shardFor(id int64) *shard {
	if len(s.shards) == 1 {
		return &s.shards[0]
	}
	h := uint64(id) * 0x9E3779B97F4A7C15
	return &s.shards[h>>s.shift]
}

func (s *Sharded) Get(ctx context.Context, id int64) (State, error) {
	if err := ctx.Err(); err != nil {
		return State{}, err
	}
	sh := s.shardFor(id)
	sh.mu.RLock()
	st := sh.states[id]
	sh.mu.RUnlock()
	return st, nil
}

func (s *Sharded) Reinforce(ctx context.Context, id int64, now time.Time) (State, error) {
	if err := ctx.Err(); err != nil {
		return State{}, err
	}
	sh := s.shardFor(id)
	sh.mu.Lock()
	st := sh.states[id]
	st.AccessCount++
	st.LastReinforcedAt = now
	sh.states[id] = st
	sh.mu.Unlock()
	return st, nil
}

func (s *Sharded) Remove(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sh := s.shardFor(id)
	sh.mu.Lock()
	delete(sh.states, id)
	sh.mu.Unlock()
	return nil
}

// Len returns the number of tracked ids.
func (s *Sharded) Len() int {
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		n += len(sh.states)
		sh.mu.RUnlock()
	}
	return n
}

// ShardCount returns the number of shards.
func (s *Sharded) ShardCount() int {
	return len(s.shards)
}
