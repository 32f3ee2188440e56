// Package retention implements the forgetting curve used to re-rank search hits.
//
// Decay model:
//   - retention = initial_retention * exp(-effective_rate * age_days)
//   - effective_rate = decay_rate / (1 + reinforcement_factor * access_count)
//   - age is measured from the last reinforcement, or from creation if the
//     memory was never reinforced
//   - negative ages (clock skew) clamp to zero
//
// Everything in this package is pure. Callers always pass `now`.
package retention

import (
	"math"
	"time"
)

const day = 24 * time.Hour

// Decay returns the retention score of a memory at now.
// A zero lastReinforcedAt means the memory was never reinforced.
func (c Config) Decay(createdAt, lastReinforcedAt time.Time, accessCount int64, now time.Time) float64 {
	ref := createdAt
	if !lastReinforcedAt.IsZero() {
		ref = lastReinforcedAt
	}

	ageDays := float64(now.Sub(ref)) / float64(day)
	if ageDays < 0 {
		ageDays = 0
	}

	r := c.p.InitialRetention * math.Exp(-c.EffectiveRate(accessCount)*ageDays)
	if r < 0 || math.IsNaN(r) {
		return 0
	}
	if r > c.p.InitialRetention {
		return c.p.InitialRetention
	}
	return r
}

// EffectiveRate is the per-day decay rate after reinforcement slowdown.
func (c Config) EffectiveRate(accessCount int64) float64 {
	if accessCount < 0 {
		accessCount = 0
	}
	return c.p.DecayRate / (1 + c.p.ReinforcementFactor*float64(accessCount))
}

// HalfLife returns how long a memory with the given access count takes to
// lose half its retention.
func (c Config) HalfLife(accessCount int64) time.Duration {
	days := math.Ln2 / c.EffectiveRate(accessCount)
	return time.Duration(days * float64(day))
}
