package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mnlabs/quorum-go/model/llq"
	"github.com/mnlabs/quorum-go/module"
)

type SigningCollector struct {
	pendingShares     prometheus.Gauge
	batchSize         prometheus.Histogram
	batchDuration     prometheus.Histogram
	recSigsStored     *prometheus.CounterVec
	recSigsCleaned    prometheus.Counter
	conflictingSigs   prometheus.Counter
}

var _ module.SigningMetrics = (*SigningCollector)(nil)

func NewSigningCollector() *SigningCollector {

	sc := &SigningCollector{

		pendingShares: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespaceSigning,
			Name:      "pending_sig_shares",
			Help:      "number of signature shares queued for verification",
		}),

		batchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespaceSigning,
			Buckets:   []float64{1, 4, 8, 16, 32},
			Name:      "batch_size_messages",
			Help:      "number of messages per verification batch",
		}),

		batchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespaceSigning,
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1},
			Name:      "batch_duration_seconds",
			Help:      "wall time spent verifying one batch",
		}),

		recSigsStored: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespaceSigning,
			Name:      "recovered_sigs_stored_total",
			Help:      "count of recovered signatures persisted",
		}, []string{LabelQuorumType}),

		recSigsCleaned: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespaceSigning,
			Name:      "recovered_sigs_cleaned_total",
			Help:      "count of recovered signatures removed by the aging sweep",
		}),

		conflictingSigs: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespaceSigning,
			Name:      "conflicting_recovered_sigs_total",
			Help:      "count of recovered signatures conflicting with a stored one",
		}),
	}

	return sc
}

func (sc *SigningCollector) PendingSigShares(count int) {
	sc.pendingShares.Set(float64(count))
}

func (sc *SigningCollector) BatchVerified(size int, duration time.Duration) {
	sc.batchSize.Observe(float64(size))
	sc.batchDuration.Observe(duration.Seconds())
}

func (sc *SigningCollector) RecoveredSigStored(quorumType llq.QuorumType) {
	sc.recSigsStored.With(prometheus.Labels{
		LabelQuorumType: quorumTypeLabel(quorumType),
	}).Inc()
}

func (sc *SigningCollector) RecoveredSigsCleaned(count int) {
	sc.recSigsCleaned.Add(float64(count))
}

func (sc *SigningCollector) ConflictingRecoveredSig() {
	sc.conflictingSigs.Inc()
}
