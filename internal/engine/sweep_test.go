package engine

import (
	"context"
	"errors"
	"math"
	"slices"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/lazypower/retain/internal/metrics"
	"github.com/lazypower/retain/internal/retention"
	"github.com/lazypower/retain/internal/tracker"
)

func TestSweepClassifies(t *testing.T) {
	tr := tracker.NewSharded(4)
	m := metrics.New(prometheus.NewRegistry())
	p := testPipeline(t, tr, WithMetrics(m), WithConcurrency(2))
	ctx := context.Background()

	// An old memory kept alive by a recent retrieval.
	if _, err := tr.Reinforce(ctx, 6, testNow); err != nil {
		t.Fatalf("Reinforce: %v", err)
	}

	records := []Record{
		{ID: 1, CreatedAt: daysAgo(40)}, // 0.018 forgotten
		{ID: 2, CreatedAt: testNow},     // 1.0 long_term
		{ID: 3, CreatedAt: daysAgo(8)},  // 0.449 working
		{ID: 4, CreatedAt: daysAgo(3)},  // 0.741 short_term
		{ID: 5, CreatedAt: daysAgo(20)}, // 0.135 forgotten
		{ID: 6, CreatedAt: daysAgo(90)}, // reinforced now: long_term
		{ID: 7, CreatedAt: daysAgo(14)}, // 0.247 forgotten
	}
	rep, err := p.Sweep(ctx, records, testNow, DefaultSweepThresholds())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	want := map[retention.Tier]int{
		retention.TierForgotten: 3,
		retention.TierWorking:   1,
		retention.TierShortTerm: 1,
		retention.TierLongTerm:  2,
	}
	for tier, n := range want {
		if rep.Counts[tier] != n {
			t.Errorf("Counts[%v] = %d, want %d", tier, rep.Counts[tier], n)
		}
	}
	// Prune below 0.1, archive in [0.1, 0.3).
	if !slices.Equal(rep.Prune, []int64{1}) {
		t.Errorf("Prune = %v, want [1]", rep.Prune)
	}
	if !slices.Equal(rep.Archive, []int64{5, 7}) {
		t.Errorf("Archive = %v, want [5 7]", rep.Archive)
	}
	if rep.Degraded != 0 {
		t.Errorf("Degraded = %d, want 0", rep.Degraded)
	}

	if tr.Len() != 1 {
		t.Errorf("tracked ids = %d, want 1 (sweep must not reinforce)", tr.Len())
	}
	if got := testutil.ToFloat64(m.SweptMemories.WithLabelValues("forgotten")); got != 3 {
		t.Errorf("swept forgotten = %v, want 3", got)
	}
}

func TestSweepReportsEveryTier(t *testing.T) {
	p := testPipeline(t, tracker.NewSharded(1))

	rep, err := p.Sweep(context.Background(), nil, testNow, DefaultSweepThresholds())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	for _, tier := range retention.Tiers() {
		if n, ok := rep.Counts[tier]; !ok || n != 0 {
			t.Errorf("Counts[%v] = %d, %v; want 0, true", tier, n, ok)
		}
	}
}

func TestSweepDegraded(t *testing.T) {
	tr := &flakyTracker{Tracker: tracker.NewSharded(1), failGet: map[int64]bool{2: true}}
	p := testPipeline(t, tr)

	rep, err := p.Sweep(context.Background(), []Record{
		{ID: 1, CreatedAt: testNow},
		{ID: 2, CreatedAt: testNow},
	}, testNow, DefaultSweepThresholds())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if rep.Degraded != 1 {
		t.Errorf("Degraded = %d, want 1", rep.Degraded)
	}
	if rep.Counts[retention.TierLongTerm] != 2 {
		t.Errorf("long_term = %d, want 2", rep.Counts[retention.TierLongTerm])
	}
}

func TestSweepCancelled(t *testing.T) {
	p := testPipeline(t, tracker.NewSharded(1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Sweep(ctx, []Record{{ID: 1, CreatedAt: testNow}}, testNow, DefaultSweepThresholds())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestSweepCustomThresholds(t *testing.T) {
	p := testPipeline(t, tracker.NewSharded(1))
	records := []Record{
		{ID: 1, CreatedAt: daysAgo(14)}, // 0.247
		{ID: 2, CreatedAt: daysAgo(8)},  // 0.449
		{ID: 3, CreatedAt: daysAgo(3)},  // 0.741
	}

	rep, err := p.Sweep(context.Background(), records, testNow, SweepThresholds{Prune: 0.3, Archive: 0.5})
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if !slices.Equal(rep.Prune, []int64{1}) {
		t.Errorf("Prune = %v, want [1]", rep.Prune)
	}
	if !slices.Equal(rep.Archive, []int64{2}) {
		t.Errorf("Archive = %v, want [2]", rep.Archive)
	}

	// Equal cutoffs leave nothing to archive.
	rep, err = p.Sweep(context.Background(), records, testNow, SweepThresholds{Prune: 0.5, Archive: 0.5})
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if !slices.Equal(rep.Prune, []int64{1, 2}) || len(rep.Archive) != 0 {
		t.Errorf("Prune = %v, Archive = %v; want [1 2], []", rep.Prune, rep.Archive)
	}
}

func TestSweepRejectsBadThresholds(t *testing.T) {
	p := testPipeline(t, tracker.NewSharded(1))
	for _, th := range []SweepThresholds{
		{Prune: 0.4, Archive: 0.3},
		{Prune: -0.1, Archive: 0.3},
		{Prune: 0.1, Archive: 1.5},
		{Prune: math.NaN(), Archive: 0.3},
	} {
		_, err := p.Sweep(context.Background(), nil, testNow, th)
		if !errors.Is(err, retention.ErrInvalidConfig) {
			t.Errorf("Sweep(%+v) err = %v, want ErrInvalidConfig", th, err)
		}
	}
}

func TestSweepRejectsMissingCreatedAt(t *testing.T) {
	tr := tracker.NewSharded(1)
	p := testPipeline(t, tr)

	rep, err := p.Sweep(context.Background(), []Record{
		{ID: 1, CreatedAt: daysAgo(40)},
		{ID: 2},
	}, testNow, DefaultSweepThresholds())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(rep.Rejected) != 1 || rep.Rejected[0].Index != 1 || rep.Rejected[0].ID != 2 {
		t.Fatalf("Rejected = %+v, want index 1 id 2", rep.Rejected)
	}
	if !errors.Is(rep.Rejected[0].Err, retention.ErrMissingCreatedAt) {
		t.Errorf("Rejected[0].Err = %v, want ErrMissingCreatedAt", rep.Rejected[0].Err)
	}
	if !slices.Equal(rep.Prune, []int64{1}) {
		t.Errorf("Prune = %v, want [1]", rep.Prune)
	}
	if rep.Counts[retention.TierForgotten] != 1 {
		t.Errorf("forgotten = %d, want 1 (rejected records are not counted)", rep.Counts[retention.TierForgotten])
	}
}
