package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// MiningMetrics covers the arbiter side of reputation mining.
type MiningMetrics struct {
	submissions   *prometheus.CounterVec
	pairings      *prometheus.CounterVec
	rounds        prometheus.Histogram
	slashes       *prometheus.CounterVec
	confirmations prometheus.Counter
	retries       prometheus.Counter
	logEntries    prometheus.Counter
	canonicalLeaf prometheus.Gauge
}

// MinerMetrics covers a single miner process.
type MinerMetrics struct {
	replaySteps prometheus.Counter
	replayTime  prometheus.Histogram
	submissions *prometheus.CounterVec
	responses   *prometheus.CounterVec
}

var (
	miningOnce     sync.Once
	miningRegistry *MiningMetrics

	minerOnce     sync.Once
	minerRegistry *MinerMetrics
)

func Mining() *MiningMetrics {
	miningOnce.Do(func() {
		miningRegistry = &MiningMetrics{
			submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "mining_submissions_total",
				Help: "Root hash submissions by outcome.",
			}, []string{"outcome"}),
			pairings: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "mining_pairings_total",
				Help: "Dispute pairings by resolution outcome.",
			}, []string{"outcome"}),
			rounds: prometheus.NewHistogram(prometheus.HistogramOpts{
				Name:    "mining_pairing_rounds",
				Help:    "Bisection rounds needed to resolve a pairing.",
				Buckets: prometheus.LinearBuckets(0, 4, 12),
			}),
			slashes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "mining_slashes_total",
				Help: "Slashing decisions by reason.",
			}, []string{"reason"}),
			confirmations: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "mining_cycles_confirmed_total",
				Help: "Cycles confirmed with a canonical root.",
			}),
			retries: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "mining_cycle_retries_total",
				Help: "Submission windows reopened for lack of a surviving candidate.",
			}),
			logEntries: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "mining_log_entries_total",
				Help: "Entries appended to accumulating update logs.",
			}),
			canonicalLeaf: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "mining_canonical_leaves",
				Help: "Leaf count of the canonical reputation trie.",
			}),
		}
		prometheus.MustRegister(
			miningRegistry.submissions,
			miningRegistry.pairings,
			miningRegistry.rounds,
			miningRegistry.slashes,
			miningRegistry.confirmations,
			miningRegistry.retries,
			miningRegistry.logEntries,
			miningRegistry.canonicalLeaf,
		)
	})
	return miningRegistry
}

func (m *MiningMetrics) ObserveSubmission(outcome string) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.submissions.WithLabelValues(outcome).Inc()
}

func (m *MiningMetrics) ObservePairing(outcome string, rounds int) {
	if m == nil {
		return
	}
	m.pairings.WithLabelValues(outcome).Inc()
	m.rounds.Observe(float64(rounds))
}

func (m *MiningMetrics) ObserveSlash(reason string) {
	if m == nil {
		return
	}
	m.slashes.WithLabelValues(reason).Inc()
}

func (m *MiningMetrics) ObserveConfirmation(nLeaves uint64) {
	if m == nil {
		return
	}
	m.confirmations.Inc()
	m.canonicalLeaf.Set(float64(nLeaves))
}

func (m *MiningMetrics) ObserveRetry() {
	if m == nil {
		return
	}
	m.retries.Inc()
}

func (m *MiningMetrics) ObserveLogEntry() {
	if m == nil {
		return
	}
	m.logEntries.Inc()
}

func Miner() *MinerMetrics {
	minerOnce.Do(func() {
		minerRegistry = &MinerMetrics{
			replaySteps: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "miner_replay_steps_total",
				Help: "Trie mutations replayed by the miner.",
			}),
			replayTime: prometheus.NewHistogram(prometheus.HistogramOpts{
				Name:    "miner_replay_duration_seconds",
				Help:    "Wall time spent replaying one cycle.",
				Buckets: prometheus.DefBuckets,
			}),
			submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "miner_submissions_total",
				Help: "Submissions sent by outcome.",
			}, []string{"outcome"}),
			responses: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "miner_challenge_responses_total",
				Help: "Challenge responses sent by phase and outcome.",
			}, []string{"phase", "outcome"}),
		}
		prometheus.MustRegister(
			minerRegistry.replaySteps,
			minerRegistry.replayTime,
			minerRegistry.submissions,
			minerRegistry.responses,
		)
	})
	return minerRegistry
}

func (m *MinerMetrics) ObserveReplay(steps uint64, seconds float64) {
	if m == nil {
		return
	}
	m.replaySteps.Add(float64(steps))
	m.replayTime.Observe(seconds)
}

func (m *MinerMetrics) ObserveSubmission(outcome string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(outcome).Inc()
}

func (m *MinerMetrics) ObserveResponse(phase, outcome string) {
	if m == nil {
		return
	}
	m.responses.WithLabelValues(phase, outcome).Inc()
}
