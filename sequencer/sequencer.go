package sequencer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/heliolabs/rollup/common"
	"github.com/heliolabs/rollup/executor"
	"github.com/heliolabs/rollup/settlement"
)

const (
	// ErrBackpressureExceeded is returned by Enqueue when the pending queue
	// is at capacity. The transaction has already mutated ledger state; the
	// caller must not assume it will ever be settled.
	ErrBackpressureExceeded = common.ConstError("backpressure exceeded")

	// ErrRetriesExhausted is the fatal condition reported on Done() after a
	// batch failed forwarding more than the configured retry bound. The
	// affected batch has been journaled; operator escalation is required.
	ErrRetriesExhausted = common.ConstError("settlement retries exhausted")
)

// Config holds the sequencing parameters.
type Config struct {
	Interval        time.Duration // batching tick
	MaxBatchSize    int           // drain bound, also the immediate-flush threshold
	QueueCapacity   int           // pending queue bound
	MaxRetries      int           // forwarding retries per batch before escalation
	ShutdownTimeout time.Duration // ack wait bound for the final drain
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 2 * time.Second
	}
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = 100
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 10_000
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
}

// Sequencer buffers already-executed transactions and emits ordered batches
// to the settlement collaborator on a timer or size trigger. It never
// reorders: batch boundaries fall on contiguous prefixes of the queue.
type Sequencer struct {
	config  Config
	queue   *pendingQueue
	client  settlement.Client
	journal *Journal
	log     *zap.Logger

	kick chan struct{} // signalled when the queue reaches a full batch
	done chan error

	// headRetries counts forwarding failures of the current queue head
	// batch. Owned by the run loop, which is the single drainer.
	headRetries int
}

// New creates a sequencer forwarding batches via the given client. journal
// may be nil, in which case undeliverable batches are dropped with an error
// log instead of being persisted.
func New(client settlement.Client, journal *Journal, config Config, log *zap.Logger) *Sequencer {
	config.applyDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	return &Sequencer{
		config:  config,
		queue:   newPendingQueue(config.QueueCapacity),
		client:  client,
		journal: journal,
		log:     log,
		kick:    make(chan struct{}, 1),
		done:    make(chan error, 1),
	}
}

// Enqueue appends an already-executed transaction to the pending queue.
func (s *Sequencer) Enqueue(tx *executor.Transaction) error {
	if err := s.queue.push(tx); err != nil {
		rejectedEnqueues.Inc()
		return err
	}
	queueDepth.Set(float64(s.queue.size()))
	if s.queue.size() >= s.config.MaxBatchSize {
		select {
		case s.kick <- struct{}{}:
		default:
		}
	}
	return nil
}

// Run drives the batching loop until ctx is cancelled, then drains the
// remaining queue as final batches and waits for their acknowledgement. The
// loop is the single drainer, so only one flush is ever in progress.
//
// Run exits early on a fatal forwarding condition; the outcome is delivered
// on Done().
func (s *Sequencer) Run(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	var fatal error
	for fatal == nil {
		select {
		case <-ctx.Done():
			s.done <- s.drainRemaining()
			return
		case <-ticker.C:
		case <-s.kick:
		}
		fatal = s.flush(ctx)
	}

	// The head batch is journaled already; preserve the rest as well before
	// reporting the fatal condition.
	s.journalRemaining()
	s.done <- fatal
}

// Done reports the terminal outcome of Run: nil after a graceful drain, or
// the fatal error that stopped sequencing.
func (s *Sequencer) Done() <-chan error {
	return s.done
}

// flush drains up to one batch and forwards it. A forwarding failure
// re-enqueues the batch at the front for retry on the next trigger; the
// retry bound turns into the returned fatal error.
func (s *Sequencer) flush(ctx context.Context) error {
	batch := s.queue.drain(s.config.MaxBatchSize)
	if len(batch) == 0 {
		return nil
	}
	queueDepth.Set(float64(s.queue.size()))

	ref, err := s.submit(ctx, batch)
	if err == nil {
		s.headRetries = 0
		forwardedBatches.Inc()
		s.log.Info("batch forwarded",
			zap.Int("transactions", len(batch)),
			zap.String("ref", string(ref)),
		)
		return nil
	}

	s.headRetries++
	if s.headRetries > s.config.MaxRetries {
		s.log.Error("settlement retries exhausted, journaling batch",
			zap.Int("transactions", len(batch)),
			zap.Int("retries", s.headRetries-1),
			zap.Error(err),
		)
		s.journalBatch(batch)
		return fmt.Errorf("%w: %v", ErrRetriesExhausted, err)
	}

	retriedBatches.Inc()
	s.queue.pushFront(batch)
	queueDepth.Set(float64(s.queue.size()))
	s.log.Warn("batch forwarding failed, requeued for retry",
		zap.Int("transactions", len(batch)),
		zap.Int("attempt", s.headRetries),
		zap.Error(err),
	)
	return nil
}

// submit forwards one batch. The attempt is detached from the run context
// so that a shutdown does not cut off an in-flight acknowledgement; it is
// bounded by the batching interval instead.
func (s *Sequencer) submit(ctx context.Context, batch []*executor.Transaction) (settlement.Ref, error) {
	attempt, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.Interval)
	defer cancel()
	return s.client.SubmitBatch(attempt, settlement.Batch{Transactions: batch})
}

// drainRemaining forwards everything still queued at shutdown. Each batch
// gets one attempt bounded by the shutdown timeout; on the first failure the
// rest is journaled rather than risking an unbounded exit delay.
func (s *Sequencer) drainRemaining() error {
	deadline := time.Now().Add(s.config.ShutdownTimeout)
	for {
		batch := s.queue.drain(s.config.MaxBatchSize)
		if len(batch) == 0 {
			return nil
		}
		attempt, cancel := context.WithDeadline(context.Background(), deadline)
		ref, err := s.client.SubmitBatch(attempt, settlement.Batch{Transactions: batch})
		cancel()
		if err != nil {
			s.log.Error("final drain failed, journaling remaining batches", zap.Error(err))
			s.journalBatch(batch)
			s.journalRemaining()
			return err
		}
		forwardedBatches.Inc()
		s.log.Info("final batch forwarded",
			zap.Int("transactions", len(batch)),
			zap.String("ref", string(ref)),
		)
	}
}

func (s *Sequencer) journalRemaining() {
	for {
		batch := s.queue.drain(s.config.MaxBatchSize)
		if len(batch) == 0 {
			return
		}
		s.journalBatch(batch)
	}
}

func (s *Sequencer) journalBatch(batch []*executor.Transaction) {
	if s.journal == nil {
		s.log.Error("no journal configured, dropping undeliverable batch",
			zap.Int("transactions", len(batch)),
		)
		return
	}
	if err := s.journal.Append(settlement.Batch{Transactions: batch}); err != nil {
		s.log.Error("failed to journal batch", zap.Error(err))
		return
	}
	journaledBatches.Inc()
}
