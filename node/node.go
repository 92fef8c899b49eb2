package node

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/heliolabs/rollup/common"
	"github.com/heliolabs/rollup/executor"
	"github.com/heliolabs/rollup/ledger"
	"github.com/heliolabs/rollup/sequencer"
)

const (
	// ErrUnavailable is returned for submissions while the node is shutting
	// down or has entered degraded mode after a fatal sequencing failure.
	ErrUnavailable = common.ConstError("node unavailable")
)

// Node wires the ledger, executor, and sequencer into the operation surface
// consumed by the front end.
type Node struct {
	ledger    *ledger.Ledger
	executor  *executor.Executor
	sequencer *sequencer.Sequencer
	log       *zap.Logger

	// degraded gates intake: set on shutdown and when the sequencer reports
	// a fatal forwarding condition. Executed-but-unsettled divergence is
	// contained by refusing further submissions until an operator intervenes.
	degraded atomic.Bool

	cancel  context.CancelFunc
	stopped chan struct{}
}

func New(l *ledger.Ledger, e *executor.Executor, s *sequencer.Sequencer, log *zap.Logger) *Node {
	if log == nil {
		log = zap.NewNop()
	}
	return &Node{
		ledger:    l,
		executor:  e,
		sequencer: s,
		log:       log,
		stopped:   make(chan struct{}),
	}
}

// Start launches the sequencing loop and the watcher that degrades the node
// on a fatal sequencing failure.
func (n *Node) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel
	go n.sequencer.Run(ctx)
	go func() {
		defer close(n.stopped)
		if err := <-n.sequencer.Done(); err != nil {
			n.degraded.Store(true)
			n.log.Error("sequencer stopped, node degraded", zap.Error(err))
		}
	}()
}

// GetAccount returns the current record of the given account, found=false
// for accounts absent from both the cache and the durable layer.
func (n *Node) GetAccount(id common.Address) (ledger.AccountRecord, bool, error) {
	return n.ledger.Get(id)
}

// Submit executes the transaction against the ledger and enqueues it for
// settlement. An enqueue failure is reported together with the receipt: the
// ledger mutation stands, but the caller must not assume the transaction
// will be settled.
func (n *Node) Submit(tx *executor.Transaction) (executor.Receipt, error) {
	if n.degraded.Load() {
		return executor.Receipt{}, ErrUnavailable
	}
	receipt, err := n.executor.Process(tx)
	if err != nil {
		return executor.Receipt{}, err
	}
	if err := n.sequencer.Enqueue(tx); err != nil {
		return receipt, err
	}
	return receipt, nil
}

// StateCommitment returns the digest over the entire current account set.
func (n *Node) StateCommitment() common.Hash {
	return n.ledger.Commitment()
}

// Degraded reports whether the node refuses new submissions.
func (n *Node) Degraded() bool {
	return n.degraded.Load()
}

// Close stops intake, drains and forwards the remaining pending queue, and
// waits for the sequencer to acknowledge (bounded by ctx) before releasing
// the ledger.
func (n *Node) Close(ctx context.Context) error {
	n.degraded.Store(true)
	if n.cancel != nil {
		n.cancel()
		select {
		case <-n.stopped:
		case <-ctx.Done():
			n.log.Warn("shutdown timed out waiting for sequencer drain")
		}
	}
	return n.ledger.Close()
}
