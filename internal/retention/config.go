package retention

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrInvalidConfig is returned by NewConfig for unusable decay parameters
	// or non-monotonic tier thresholds.
	ErrInvalidConfig = errors.New("invalid retention config")

	// ErrInvalidScore is returned by Combine when a similarity is outside [0,1].
	ErrInvalidScore = errors.New("invalid similarity score")

	// ErrMissingCreatedAt is returned by ValidateCreatedAt for a zero
	// creation time. Age cannot be measured without one.
	ErrMissingCreatedAt = errors.New("missing created_at")
)

// Thresholds are the minimum retention scores for each tier.
type Thresholds struct {
	Working   float64
	ShortTerm float64
	LongTerm  float64
}

// Params are the raw inputs to NewConfig.
type Params struct {
	DecayRate           float64 // per day
	InitialRetention    float64
	ReinforcementFactor float64
	Thresholds          Thresholds
}

// DefaultParams returns the stock forgetting-curve parameters.
func DefaultParams() Params {
	return Params{
		DecayRate:           0.1,
		InitialRetention:    1.0,
		ReinforcementFactor: 0.3,
		Thresholds: Thresholds{
			Working:   0.3,
			ShortTerm: 0.6,
			LongTerm:  0.8,
		},
	}
}

// Config is a validated, immutable set of retention parameters.
// The zero value is not valid; use NewConfig.
type Config struct {
	p     Params
	valid bool
}

// NewConfig validates p and returns a Config.
func NewConfig(p Params) (Config, error) {
	if isBad(p.DecayRate) || p.DecayRate <= 0 {
		return Config{}, fmt.Errorf("%w: decay_rate must be > 0, got %v", ErrInvalidConfig, p.DecayRate)
	}
	if isBad(p.InitialRetention) || p.InitialRetention <= 0 || p.InitialRetention > 1 {
		return Config{}, fmt.Errorf("%w: initial_retention must be in (0,1], got %v", ErrInvalidConfig, p.InitialRetention)
	}
	if isBad(p.ReinforcementFactor) || p.ReinforcementFactor < 0 {
		return Config{}, fmt.Errorf("%w: reinforcement_factor must be >= 0, got %v", ErrInvalidConfig, p.ReinforcementFactor)
	}

	t := p.Thresholds
	for _, th := range []struct {
		name string
		v    float64
	}{
		{"working", t.Working},
		{"short_term", t.ShortTerm},
		{"long_term", t.LongTerm},
	} {
		if isBad(th.v) || th.v < 0 || th.v > 1 {
			return Config{}, fmt.Errorf("%w: %s threshold must be in [0,1], got %v", ErrInvalidConfig, th.name, th.v)
		}
	}
	if t.Working > t.ShortTerm || t.ShortTerm > t.LongTerm {
		return Config{}, fmt.Errorf("%w: thresholds must satisfy working <= short_term <= long_term, got %v/%v/%v",
			ErrInvalidConfig, t.Working, t.ShortTerm, t.LongTerm)
	}

	return Config{p: p, valid: true}, nil
}

// MustConfig is NewConfig for static parameters known to be valid. It panics on error.
func MustConfig(p Params) Config {
	c, err := NewConfig(p)
	if err != nil {
		panic(err)
	}
	return c
}

// Valid reports whether c was produced by NewConfig.
func (c Config) Valid() bool { return c.valid }

// Params returns a copy of the parameters c was built from.
func (c Config) Params() Params { return c.p }

func (c Config) DecayRate() float64           { return c.p.DecayRate }
func (c Config) InitialRetention() float64    { return c.p.InitialRetention }
func (c Config) ReinforcementFactor() float64 { return c.p.ReinforcementFactor }
func (c Config) Thresholds() Thresholds       { return c.p.Thresholds }

func isBad(v float64) bool {
	return math.IsNaN(v) || math.IsInf(v, 0)
}
