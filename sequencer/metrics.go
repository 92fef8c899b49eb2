package sequencer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rollup_pending_queue_depth",
		Help: "Number of accepted transactions awaiting batching.",
	})
	rejectedEnqueues = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rollup_enqueue_backpressure_total",
		Help: "Number of enqueues rejected because the pending queue was full.",
	})
	forwardedBatches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rollup_batches_forwarded_total",
		Help: "Number of batches acknowledged by the settlement collaborator.",
	})
	retriedBatches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rollup_batch_retries_total",
		Help: "Number of batch forwarding attempts that were requeued.",
	})
	journaledBatches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rollup_batches_journaled_total",
		Help: "Number of undeliverable batches persisted to the journal.",
	})
)
