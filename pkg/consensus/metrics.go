package consensus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "stakechain"

type metrics struct {
	tipLength       prometheus.Gauge
	tipSlot         prometheus.Gauge
	finalizedLength prometheus.Gauge
	treeSize        prometheus.Gauge
	orphans         prometheus.Gauge
	queueDepth      prometheus.Gauge
	future          prometheus.Gauge
	phases          *prometheus.CounterVec
	rejected        *prometheus.CounterVec
	reorgs          prometheus.Counter
	reorgDepth      prometheus.Histogram
	pruned          prometheus.Counter
	evicted         *prometheus.CounterVec
}

// newMetrics registers the consensus metrics on reg. A nil reg
// creates unregistered metrics.
func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		tipLength: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "tip_length",
			Help:      "Chain length of the current tip",
		}),
		tipSlot: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "tip_slot",
			Help:      "Slot of the current tip",
		}),
		finalizedLength: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "finalized_length",
			Help:      "Chain length of the last finalized block",
		}),
		treeSize: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "tree_blocks",
			Help:      "Number of blocks in the block tree",
		}),
		orphans: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "orphan_blocks",
			Help:      "Number of buffered orphan blocks",
		}),
		queueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "candidate_queue_depth",
			Help:      "Number of candidates waiting for validation",
		}),
		future: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "future_candidates",
			Help:      "Number of buffered candidates from slots not started yet",
		}),
		phases: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "phase_transitions_total",
			Help:      "Candidate phase transitions",
		}, []string{"from", "to"}),
		rejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "rejected_blocks_total",
			Help:      "Rejected candidate blocks by reason",
		}, []string{"reason"}),
		reorgs: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "reorgs_total",
			Help:      "Tip changes to a block not extending the previous tip",
		}),
		reorgDepth: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "reorg_depth",
			Help:      "Number of blocks reverted by a reorg",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 21},
		}),
		pruned: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "pruned_blocks_total",
			Help:      "Blocks removed from the tree by pruning",
		}),
		evicted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "evicted_candidates_total",
			Help:      "Candidates dropped from a bounded buffer",
		}, []string{"buffer"}),
	}
}

func rejectReason(err error) string {
	switch e := err.(type) {
	case *ValidationError:
		switch e.Err {
		case ErrParentMismatch:
			return "parent"
		case ErrSlotNotIncreasing, ErrEpochMismatch, ErrFutureSlot, ErrFarFutureSlot:
			return "slot"
		case ErrLeaderPKMismatch, ErrNotEligible, ErrBadLeaderProof:
			return "eligibility"
		case ErrBadSignature:
			return "signature"
		case ErrKnownInvalid, ErrBelowFinalized:
			return "ancestry"
		default:
			return "body"
		}
	case *LedgerError:
		return "ledger"
	case *ScheduleError:
		return "schedule"
	default:
		return "other"
	}
}
