package engine

import (
	"context"
	"fmt"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lazypower/retain/internal/retention"
)

// Record identifies a stored memory for a sweep.
type Record struct {
	ID        int64     `json:"id,string"`
	CreatedAt time.Time `json:"created_at"`
}

// SweepThresholds are the retention cutoffs for cleanup. A memory below
// Prune is a deletion candidate; one below Archive but not below Prune is
// an archive candidate.
type SweepThresholds struct {
	Prune   float64
	Archive float64
}

// DefaultSweepThresholds returns the stock cleanup cutoffs.
func DefaultSweepThresholds() SweepThresholds {
	return SweepThresholds{Prune: 0.1, Archive: 0.3}
}

// Validate requires 0 <= Prune <= Archive <= 1.
func (t SweepThresholds) Validate() error {
	if math.IsNaN(t.Prune) || math.IsNaN(t.Archive) ||
		t.Prune < 0 || t.Archive > 1 || t.Prune > t.Archive {
		return fmt.Errorf("%w: sweep thresholds prune=%v archive=%v", retention.ErrInvalidConfig, t.Prune, t.Archive)
	}
	return nil
}

// SweepReport classifies a batch of memories by tier. It is advisory:
// nothing is deleted or archived here.
type SweepReport struct {
	Counts   map[retention.Tier]int
	Prune    []int64
	Archive  []int64
	Rejected []Rejection
	Degraded int
}

// Sweep assesses every record at now without reinforcing any of them.
// Prune, Archive and Rejected list ids in input order. Records without a
// creation time are rejected and left out of Counts.
func (p *Pipeline) Sweep(ctx context.Context, records []Record, now time.Time, th SweepThresholds) (*SweepReport, error) {
	if err := th.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	assessed := make([]assessment, len(records))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i := range records {
		if retention.ValidateCreatedAt(records[i].CreatedAt) != nil {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			a, err := p.assess(gctx, records[i].ID, records[i].CreatedAt, now)
			if err != nil {
				return err
			}
			assessed[i] = a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	rep := &SweepReport{Counts: make(map[retention.Tier]int, len(retention.Tiers()))}
	for _, t := range retention.Tiers() {
		rep.Counts[t] = 0
	}
	for i, a := range assessed {
		if err := retention.ValidateCreatedAt(records[i].CreatedAt); err != nil {
			rep.Rejected = append(rep.Rejected, Rejection{Index: i, ID: records[i].ID, Err: err})
			continue
		}
		rep.Counts[a.Tier]++
		p.metrics.ObserveSwept(a.Tier.String())
		if a.Degraded {
			rep.Degraded++
		}
		switch {
		case a.Retention < th.Prune:
			rep.Prune = append(rep.Prune, records[i].ID)
		case a.Retention < th.Archive:
			rep.Archive = append(rep.Archive, records[i].ID)
		}
	}
	return rep, nil
}
