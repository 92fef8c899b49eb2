package sequencer

import (
	"sync"

	"github.com/heliolabs/rollup/executor"
)

// pendingQueue is a bounded FIFO of accepted transactions awaiting batching.
// Many writers enqueue concurrently; a single drainer removes from the head.
type pendingQueue struct {
	mu       sync.Mutex
	items    []*executor.Transaction
	capacity int
}

func newPendingQueue(capacity int) *pendingQueue {
	return &pendingQueue{capacity: capacity}
}

func (q *pendingQueue) push(tx *executor.Transaction) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.capacity {
		return ErrBackpressureExceeded
	}
	q.items = append(q.items, tx)
	return nil
}

// pushFront re-inserts a failed batch at the head so the retry preserves the
// original order. It may push the queue past capacity — the transactions
// were already accepted once and must not be dropped.
func (q *pendingQueue) pushFront(batch []*executor.Transaction) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(batch, q.items...)
}

// drain removes and returns up to max of the oldest entries.
func (q *pendingQueue) drain(max int) []*executor.Transaction {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := min(max, len(q.items))
	if n == 0 {
		return nil
	}
	batch := make([]*executor.Transaction, n)
	copy(batch, q.items[:n])
	q.items = append(q.items[:0], q.items[n:]...)
	return batch
}

func (q *pendingQueue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
