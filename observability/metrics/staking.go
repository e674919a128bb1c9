package metrics

import (
	"strconv"
	"sync"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
)

// StakingMetrics exposes the license staking engine's gauges and counters.
type StakingMetrics struct {
	operations   *prometheus.CounterVec
	currentEpoch prometheus.Gauge
	epochPool    prometheus.Gauge
	totalStaked  prometheus.Gauge
	positions    prometheus.Gauge
	rewardsPaid  prometheus.Counter
	roundingDust prometheus.Counter
	claimEpochs  prometheus.Histogram
}

var (
	stakingOnce     sync.Once
	stakingRegistry *StakingMetrics
)

// Staking returns the lazily registered staking metrics.
func Staking() *StakingMetrics {
	stakingOnce.Do(func() {
		stakingRegistry = &StakingMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "licensestake_operations_total",
				Help: "Count of engine operations by kind and outcome.",
			}, []string{"op", "outcome"}),
			currentEpoch: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "licensestake_current_epoch",
				Help: "Index of the open epoch.",
			}),
			epochPool: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "licensestake_epoch_pool",
				Help: "Reward pool emitted when the open epoch closes.",
			}),
			totalStaked: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "licensestake_total_staked_units",
				Help: "Units currently staked across all participants.",
			}),
			positions: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "licensestake_positions",
				Help: "Licenses currently held in custody.",
			}),
			rewardsPaid: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "licensestake_rewards_paid_total",
				Help: "Reward tokens paid out by claims.",
			}),
			roundingDust: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "licensestake_rounding_dust_total",
				Help: "Pool remainder left unallocated by epoch settlements.",
			}),
			claimEpochs: prometheus.NewHistogram(prometheus.HistogramOpts{
				Name:    "licensestake_claim_epochs",
				Help:    "Number of epochs settled by a single claim.",
				Buckets: prometheus.ExponentialBuckets(1, 4, 8),
			}),
		}
		prometheus.MustRegister(
			stakingRegistry.operations,
			stakingRegistry.currentEpoch,
			stakingRegistry.epochPool,
			stakingRegistry.totalStaked,
			stakingRegistry.positions,
			stakingRegistry.rewardsPaid,
			stakingRegistry.roundingDust,
			stakingRegistry.claimEpochs,
		)
	})
	return stakingRegistry
}

// ObserveOperation counts an engine operation.
func (m *StakingMetrics) ObserveOperation(op string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(op, outcome).Inc()
}

// SetState records the engine's scalar state.
func (m *StakingMetrics) SetState(epoch uint64, pool *uint256.Int, totalStaked uint64, positions int) {
	if m == nil {
		return
	}
	m.currentEpoch.Set(float64(epoch))
	m.epochPool.Set(toFloat(pool))
	m.totalStaked.Set(float64(totalStaked))
	m.positions.Set(float64(positions))
}

// ObserveClaim records a paid claim covering epochs settled epochs.
func (m *StakingMetrics) ObserveClaim(amount *uint256.Int, epochs uint64) {
	if m == nil {
		return
	}
	m.rewardsPaid.Add(toFloat(amount))
	m.claimEpochs.Observe(float64(epochs))
}

// ObserveRoundingDust adds an epoch's unallocated remainder.
func (m *StakingMetrics) ObserveRoundingDust(dust *uint256.Int) {
	if m == nil {
		return
	}
	m.roundingDust.Add(toFloat(dust))
}

func toFloat(v *uint256.Int) float64 {
	if v == nil {
		return 0
	}
	f, err := strconv.ParseFloat(v.Dec(), 64)
	if err != nil {
		return 0
	}
	return f
}
