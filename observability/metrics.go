package observability

import (
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
)

// StakingMetrics captures request and pool-level metrics for stakingd.
type StakingMetrics struct {
	requests    *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	throttles   *prometheus.CounterVec
	totalStaked prometheus.Gauge
	rewardRate  prometheus.Gauge
	finishAt    prometheus.Gauge
	degraded    prometheus.Gauge
}

var (
	stakingMetricsOnce sync.Once
	stakingRegistry    *StakingMetrics
)

var tokenUnit = new(big.Float).SetFloat64(1e18)

// Staking returns the lazily-initialised staking metrics registry.
func Staking() *StakingMetrics {
	stakingMetricsOnce.Do(func() {
		stakingRegistry = &StakingMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stakepool",
				Subsystem: "staking",
				Name:      "requests_total",
				Help:      "Staking operations segmented by operation and outcome class.",
			}, []string{"operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "stakepool",
				Subsystem: "staking",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for staking operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stakepool",
				Subsystem: "staking",
				Name:      "throttles_total",
				Help:      "Requests rejected before reaching the engine.",
			}, []string{"reason"}),
			totalStaked: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "stakepool",
				Subsystem: "pool",
				Name:      "total_staked_tokens",
				Help:      "Total staked supply in whole tokens.",
			}),
			rewardRate: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "stakepool",
				Subsystem: "pool",
				Name:      "reward_rate_tokens_per_second",
				Help:      "Current reward rate in whole tokens per second.",
			}),
			finishAt: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "stakepool",
				Subsystem: "pool",
				Name:      "cycle_finish_timestamp_seconds",
				Help:      "Unix time at which the current reward cycle ends.",
			}),
			degraded: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "stakepool",
				Subsystem: "pool",
				Name:      "persistence_degraded",
				Help:      "1 while the state store is failing to persist commits.",
			}),
		}
		prometheus.MustRegister(
			stakingRegistry.requests,
			stakingRegistry.latency,
			stakingRegistry.throttles,
			stakingRegistry.totalStaked,
			stakingRegistry.rewardRate,
			stakingRegistry.finishAt,
			stakingRegistry.degraded,
		)
	})
	return stakingRegistry
}

// Observe records the outcome of a staking operation.
func (m *StakingMetrics) Observe(operation, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	operation = strings.TrimSpace(operation)
	if operation == "" {
		operation = "unknown"
	}
	if outcome == "" {
		outcome = "ok"
	}
	m.requests.WithLabelValues(operation, outcome).Inc()
	m.latency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for reason.
func (m *StakingMetrics) RecordThrottle(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(reason).Inc()
}

// RecordPool publishes the pool gauges.
func (m *StakingMetrics) RecordPool(totalStaked, rewardRate *uint256.Int, finishAt uint64, degraded bool) {
	if m == nil {
		return
	}
	m.totalStaked.Set(wholeTokens(totalStaked))
	m.rewardRate.Set(wholeTokens(rewardRate))
	m.finishAt.Set(float64(finishAt))
	if degraded {
		m.degraded.Set(1)
	} else {
		m.degraded.Set(0)
	}
}

func wholeTokens(v *uint256.Int) float64 {
	if v == nil {
		return 0
	}
	scaled := new(big.Float).SetInt(v.ToBig())
	out, _ := new(big.Float).Quo(scaled, tokenUnit).Float64()
	return out
}
