package retention

import "fmt"

// Tier is the lifecycle class of a memory, derived from its current retention.
type Tier int

const (
	TierForgotten Tier = iota
	TierWorking
	TierShortTerm
	TierLongTerm
)

// Tiers lists every tier from weakest to strongest.
func Tiers() []Tier {
	return []Tier{TierForgotten, TierWorking, TierShortTerm, TierLongTerm}
}

// Classify maps a retention score to a tier using c's thresholds.
func (c Config) Classify(retention float64) Tier {
	t := c.p.Thresholds
	switch {
	case retention >= t.LongTerm:
		return TierLongTerm
	case retention >= t.ShortTerm:
		return TierShortTerm
	case retention >= t.Working:
		return TierWorking
	default:
		return TierForgotten
	}
}

func (t Tier) String() string {
	switch t {
	case TierForgotten:
		return "forgotten"
	case TierWorking:
		return "working"
	case TierShortTerm:
		return "short_term"
	case TierLongTerm:
		return "long_term"
	}
	return fmt.Sprintf("tier(%d)", int(t))
}

// IsPrunable reports whether a memory in this tier may be pruned by an
// external cleanup job. Nothing in this module deletes memories.
func (t Tier) IsPrunable() bool {
	return t == TierForgotten
}

func (t Tier) MarshalText() ([]byte, error) {
	switch t {
	case TierForgotten, TierWorking, TierShortTerm, TierLongTerm:
		return []byte(t.String()), nil
	}
	return nil, fmt.Errorf("unknown tier %d", int(t))
}

func (t *Tier) UnmarshalText(b []byte) error {
	s := string(b)
	for _, candidate := range Tiers() {
		if candidate.String() == s {
			*t = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown tier %q", s)
}
