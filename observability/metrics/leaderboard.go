package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// LeaderboardMetrics records gate decisions, aggregation cost and rewards.
type LeaderboardMetrics struct {
	updates         *prometheus.CounterVec
	adminOps        *prometheus.CounterVec
	gateOpen        prometheus.Gauge
	inProgress      prometheus.Gauge
	lastPeriod      prometheus.Gauge
	aggregationCost prometheus.Histogram
	boardSize       prometheus.Gauge
	rewardsIssued   prometheus.Counter
	rewardSupply    prometheus.Gauge
}

var (
	leaderboardOnce     sync.Once
	leaderboardRegistry *LeaderboardMetrics
)

// Leaderboard returns the process-wide leaderboard metrics, registering them
// with the default prometheus registry on first use.
func Leaderboard() *LeaderboardMetrics {
	leaderboardOnce.Do(func() {
		leaderboardRegistry = &LeaderboardMetrics{
			updates: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "emojiboard",
				Subsystem: "gate",
				Name:      "updates_total",
				Help:      "Leaderboard update attempts segmented by outcome.",
			}, []string{"outcome"}),
			adminOps: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "emojiboard",
				Subsystem: "gate",
				Name:      "admin_operations_total",
				Help:      "Privileged gate operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			gateOpen: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "emojiboard",
				Subsystem: "gate",
				Name:      "open",
				Help:      "1 when an update may run for the current period.",
			}),
			inProgress: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "emojiboard",
				Subsystem: "gate",
				Name:      "update_in_progress",
				Help:      "1 while a recomputation holds the gate.",
			}),
			lastPeriod: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "emojiboard",
				Subsystem: "gate",
				Name:      "last_updated_period",
				Help:      "Period index of the last successful recomputation.",
			}),
			aggregationCost: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "emojiboard",
				Subsystem: "aggregator",
				Name:      "cost_units",
				Help:      "Resource units consumed by successful recomputations.",
				Buckets:   prometheus.ExponentialBuckets(1_000, 4, 10),
			}),
			boardSize: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "emojiboard",
				Subsystem: "aggregator",
				Name:      "entries",
				Help:      "Number of ranked entries on the current board.",
			}),
			rewardsIssued: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "emojiboard",
				Subsystem: "rewards",
				Name:      "issued_tokens_total",
				Help:      "Whole reward tokens credited to updaters.",
			}),
			rewardSupply: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "emojiboard",
				Subsystem: "rewards",
				Name:      "supply_tokens",
				Help:      "Whole reward tokens left in the issuance pool.",
			}),
		}
		prometheus.MustRegister(
			leaderboardRegistry.updates,
			leaderboardRegistry.adminOps,
			leaderboardRegistry.gateOpen,
			leaderboardRegistry.inProgress,
			leaderboardRegistry.lastPeriod,
			leaderboardRegistry.aggregationCost,
			leaderboardRegistry.boardSize,
			leaderboardRegistry.rewardsIssued,
			leaderboardRegistry.rewardSupply,
		)
	})
	return leaderboardRegistry
}

func (m *LeaderboardMetrics) ObserveUpdate(outcome string) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.updates.WithLabelValues(outcome).Inc()
}

func (m *LeaderboardMetrics) ObserveAdmin(operation, outcome string) {
	if m == nil {
		return
	}
	m.adminOps.WithLabelValues(operation, outcome).Inc()
}

// SetGate publishes the gate snapshot.
func (m *LeaderboardMetrics) SetGate(open, inProgress bool, lastPeriod int64) {
	if m == nil {
		return
	}
	m.gateOpen.Set(boolGauge(open))
	m.inProgress.Set(boolGauge(inProgress))
	m.lastPeriod.Set(float64(lastPeriod))
}

func (m *LeaderboardMetrics) ObserveAggregation(cost uint64, entries int) {
	if m == nil {
		return
	}
	m.aggregationCost.Observe(float64(cost))
	m.boardSize.Set(float64(entries))
}

func (m *LeaderboardMetrics) AddReward(tokens float64) {
	if m == nil || tokens <= 0 {
		return
	}
	m.rewardsIssued.Add(tokens)
}

func (m *LeaderboardMetrics) SetSupply(tokens float64) {
	if m == nil {
		return
	}
	m.rewardSupply.Set(tokens)
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
