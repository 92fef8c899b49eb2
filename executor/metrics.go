package executor

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	processedTransactions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rollup_transactions_processed_total",
		Help: "Number of transactions accepted by the executor.",
	})
	rejectedTransactions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rollup_transactions_rejected_total",
		Help: "Number of transactions rejected by the executor, by reason.",
	}, []string{"reason"})
)

func (e *Executor) countRejection(err error) {
	rejectedTransactions.WithLabelValues(rejectionReason(err)).Inc()
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, ErrReplayedNonce):
		return "replayed_nonce"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrMalformedInstruction):
		return "malformed_instruction"
	default:
		return "persistence"
	}
}
