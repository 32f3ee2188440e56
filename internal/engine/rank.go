package engine

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lazypower/retain/internal/retention"
)

// Hit is one result of the upstream similarity search.
type Hit struct {
	ID         int64     `json:"id,string"`
	Similarity float64   `json:"similarity"`
	CreatedAt  time.Time `json:"created_at"`
}

// ScoredHit is a hit annotated with its retention and final score.
// FinalScore is exactly Similarity * Retention.
type ScoredHit struct {
	ID          int64          `json:"id,string"`
	Similarity  float64        `json:"similarity"`
	Retention   float64        `json:"retention"`
	Tier        retention.Tier `json:"tier"`
	FinalScore  float64        `json:"final_score"`
	AccessCount int64          `json:"access_count"`
	Degraded    bool           `json:"degraded,omitempty"`
}

// Rejection records a hit dropped from a ranking.
type Rejection struct {
	Index int // position in the input
	ID    int64
	Err   error
}

// Ranking is the result of Rank. Hits are ordered by FinalScore descending,
// ties in input order. Rejected is in input order.
type Ranking struct {
	Hits     []ScoredHit
	Rejected []Rejection
}

type outcome struct {
	hit ScoredHit
	err error
}

// Rank scores hits by similarity * retention and orders them. When
// reinforce is set, every returned hit is reinforced at now once scoring
// is complete, so reinforcement never affects scores within the same call.
//
// A tracker failure degrades the affected hit; a reinforcement failure is
// logged and counted. Only cancellation before scoring completes fails the
// call.
func (p *Pipeline) Rank(ctx context.Context, hits []Hit, now time.Time, reinforce bool) (*Ranking, error) {
	start := time.Now()
	defer func() { p.metrics.ObserveRank(time.Since(start)) }()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	outcomes := make([]outcome, len(hits))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i := range hits {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			o, err := p.scoreHit(gctx, hits[i], now)
			if err != nil {
				return err
			}
			outcomes[i] = o
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	r := &Ranking{Hits: make([]ScoredHit, 0, len(hits))}
	for i, o := range outcomes {
		if o.err != nil {
			r.Rejected = append(r.Rejected, Rejection{Index: i, ID: hits[i].ID, Err: o.err})
			p.metrics.ObserveRejected()
			continue
		}
		r.Hits = append(r.Hits, o.hit)
		p.metrics.ObserveHit(o.hit.Tier.String(), o.hit.Degraded)
	}

	sort.SliceStable(r.Hits, func(i, j int) bool {
		return r.Hits[i].FinalScore > r.Hits[j].FinalScore
	})

	if reinforce {
		p.reinforceAll(ctx, r.Hits, now)
	}
	return r, nil
}

// scoreHit returns the hit's outcome. The error result is reserved for
// cancellation; a rejected hit is reported in outcome.err.
func (p *Pipeline) scoreHit(ctx context.Context, h Hit, now time.Time) (outcome, error) {
	if err := retention.ValidateSimilarity(h.Similarity); err != nil {
		return outcome{err: err}, nil
	}
	if err := retention.ValidateCreatedAt(h.CreatedAt); err != nil {
		return outcome{err: err}, nil
	}

	a, err := p.assess(ctx, h.ID, h.CreatedAt, now)
	if err != nil {
		return outcome{}, err
	}

	final, err := retention.Combine(h.Similarity, a.Retention)
	if err != nil {
		return outcome{err: err}, nil
	}
	return outcome{hit: ScoredHit{
		ID:          h.ID,
		Similarity:  h.Similarity,
		Retention:   a.Retention,
		Tier:        a.Tier,
		FinalScore:  final,
		AccessCount: a.State.AccessCount,
		Degraded:    a.Degraded,
	}}, nil
}

// reinforceAll reinforces each hit once per occurrence. Cancellation stops
// further reinforcements; it does not undo the ranking.
func (p *Pipeline) reinforceAll(ctx context.Context, hits []ScoredHit, now time.Time) {
	if p.reinforceTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.reinforceTimeout)
		defer cancel()
	}

	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for _, h := range hits {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			_, err := p.tracker.Reinforce(ctx, h.ID, now)
			if err != nil && ctx.Err() != nil {
				return nil
			}
			p.metrics.ObserveReinforcement(err)
			if err != nil {
				p.logger.Warn("reinforce failed", zap.Int64("id", h.ID), zap.Error(err))
			}
			return nil
		})
	}
	g.Wait()

	if err := ctx.Err(); err != nil {
		p.logger.Debug("reinforcement stage cut short", zap.Error(err))
	}
}
