package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lazypower/retain/internal/logging"
	"github.com/lazypower/retain/internal/metrics"
	"github.com/lazypower/retain/internal/retention"
	"github.com/lazypower/retain/internal/tracker"
)

// DefaultConcurrency bounds per-hit tracker calls within one Rank or Sweep.
const DefaultConcurrency = 8

// Pipeline ranks search hits by similarity and retention, and reinforces
// the memories it returns. It is safe for concurrent use; the tracker is
// its only shared mutable state.
type Pipeline struct {
	cfg              retention.Config
	tracker          tracker.Tracker
	logger           *zap.Logger
	metrics          *metrics.Metrics
	concurrency      int
	reinforceTimeout time.Duration
}

// Option configures a Pipeline.
type Option func(*Pipeline)

func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = logging.OrNop(l) }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithConcurrency caps in-flight tracker calls per call. n < 1 is ignored.
func WithConcurrency(n int) Option {
	return func(p *Pipeline) {
		if n >= 1 {
			p.concurrency = n
		}
	}
}

// WithReinforceTimeout bounds the reinforcement stage of Rank. Zero means
// the stage runs under the caller's context alone.
func WithReinforceTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.reinforceTimeout = d }
}

// New builds a Pipeline. cfg must come from retention.NewConfig.
func New(cfg retention.Config, t tracker.Tracker, opts ...Option) (*Pipeline, error) {
	if !cfg.Valid() {
		return nil, fmt.Errorf("new pipeline: %w", retention.ErrInvalidConfig)
	}
	if t == nil {
		return nil, errors.New("new pipeline: nil tracker")
	}
	p := &Pipeline{
		cfg:         cfg,
		tracker:     t,
		logger:      zap.NewNop(),
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Config returns the retention parameters the pipeline scores with.
func (p *Pipeline) Config() retention.Config { return p.cfg }

// assessment is the current retention picture of one memory.
type assessment struct {
	State     tracker.State
	Retention float64
	Tier      retention.Tier
	Degraded  bool
}

// assess reads the tracked state for id and scores it. A tracker failure
// degrades to the unreinforced state; only cancellation is returned.
func (p *Pipeline) assess(ctx context.Context, id int64, createdAt, now time.Time) (assessment, error) {
	var a assessment
	st, err := p.tracker.Get(ctx, id)
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return a, cerr
		}
		p.logger.Warn("reinforcement state unavailable, scoring without it",
			zap.Int64("id", id), zap.Error(err))
		st = tracker.State{}
		a.Degraded = true
	}
	a.State = st
	a.Retention = p.cfg.Decay(createdAt, st.LastReinforcedAt, st.AccessCount, now)
	a.Tier = p.cfg.Classify(a.Retention)
	return a, nil
}

// State returns the tracked reinforcement state of id. Unlike ranking, a
// tracker failure is returned to the caller.
func (p *Pipeline) State(ctx context.Context, id int64) (tracker.State, error) {
	st, err := p.tracker.Get(ctx, id)
	if err != nil {
		return tracker.State{}, fmt.Errorf("state %d: %w", id, err)
	}
	return st, nil
}

// Reinforce records one retrieval of id outside a ranking call.
func (p *Pipeline) Reinforce(ctx context.Context, id int64, now time.Time) (tracker.State, error) {
	st, err := p.tracker.Reinforce(ctx, id, now)
	if ctx.Err() == nil {
		p.metrics.ObserveReinforcement(err)
	}
	if err != nil {
		return tracker.State{}, fmt.Errorf("reinforce %d: %w", id, err)
	}
	return st, nil
}

// Forget drops the reinforcement state of a deleted memory.
func (p *Pipeline) Forget(ctx context.Context, id int64) error {
	if err := p.tracker.Remove(ctx, id); err != nil {
		return fmt.Errorf("forget %d: %w", id, err)
	}
	return nil
}
