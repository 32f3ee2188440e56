// Package metrics exposes Prometheus instrumentation for ranking and
// reinforcement.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "retain"

// RankBuckets are histogram buckets for a full Rank call, in seconds.
var RankBuckets = []float64{
	0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5,
}

// Metrics holds the collectors for one registry. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	RankedHits            *prometheus.CounterVec
	DegradedHits          prometheus.Counter
	RejectedHits          prometheus.Counter
	Reinforcements        prometheus.Counter
	ReinforcementFailures prometheus.Counter
	RankDuration          prometheus.Histogram
	SweptMemories         *prometheus.CounterVec
}

// New registers the collectors on reg. Passing prometheus.DefaultRegisterer
// exposes them on the default /metrics handler.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RankedHits: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ranked_hits_total",
				Help:      "Hits returned by the ranking pipeline, by retention tier",
			},
			[]string{"tier"},
		),
		DegradedHits: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "degraded_hits_total",
			Help:      "Hits scored without reinforcement state because the tracker failed",
		}),
		RejectedHits: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejected_hits_total",
			Help:      "Hits dropped for an invalid similarity score",
		}),
		Reinforcements: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reinforcements_total",
			Help:      "Successful reinforcements of returned hits",
		}),
		ReinforcementFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reinforcement_failures_total",
			Help:      "Reinforcements that failed after ranking",
		}),
		RankDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rank_duration_seconds",
			Help:      "Latency of a full rank call in seconds",
			Buckets:   RankBuckets,
		}),
		SweptMemories: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "swept_memories_total",
				Help:      "Memories classified by retention sweeps, by tier",
			},
			[]string{"tier"},
		),
	}
}

func (m *Metrics) ObserveHit(tier string, degraded bool) {
	if m == nil {
		return
	}
	m.RankedHits.WithLabelValues(tier).Inc()
	if degraded {
		m.DegradedHits.Inc()
	}
}

func (m *Metrics) ObserveRejected() {
	if m == nil {
		return
	}
	m.RejectedHits.Inc()
}

func (m *Metrics) ObserveReinforcement(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.ReinforcementFailures.Inc()
		return
	}
	m.Reinforcements.Inc()
}

func (m *Metrics) ObserveRank(d time.Duration) {
	if m == nil {
		return
	}
	m.RankDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveSwept(tier string) {
	if m == nil {
		return
	}
	m.SweptMemories.WithLabelValues(tier).Inc()
}
