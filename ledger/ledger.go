package ledger

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/heliolabs/rollup/common"
)

const (
	// ErrPersistence signals a durable-storage failure. The cache is
	// guaranteed not to have diverged from the durable layer when this is
	// returned; callers must treat it as non-retryable without operator
	// intervention.
	ErrPersistence = common.ConstError("persistence failure")
)

// Ledger is the authoritative account set: an in-memory cache backed by a
// durable Store, plus a running state commitment over the entire set.
//
// The cache is read-through and never evicts — every account ever touched
// stays resident for the process lifetime, with the durable layer acting as
// the recovery backstop across restarts.
type Ledger struct {
	store Store
	log   *zap.Logger

	// stripes linearize updates per account identifier: applies touching the
	// same account serialize on a shared stripe, disjoint applies proceed in
	// parallel.
	stripes [stripeCount]sync.Mutex

	mu         sync.RWMutex
	accounts   map[common.Address]AccountRecord
	leaves     map[common.Address]common.Hash
	commitment common.Hash
}

const stripeCount = 64

func stripeOf(id common.Address) int {
	return int(id[0]) % stripeCount
}

// lockStripes acquires the stripes covering the given accounts in index
// order, so that overlapping applies cannot deadlock. The returned function
// releases them.
func (l *Ledger) lockStripes(ids []common.Address) func() {
	var held [stripeCount]bool
	for _, id := range ids {
		held[stripeOf(id)] = true
	}
	for i := range held {
		if held[i] {
			l.stripes[i].Lock()
		}
	}
	return func() {
		for i := range held {
			if held[i] {
				l.stripes[i].Unlock()
			}
		}
	}
}

// Update is a set of account mutations applied as one atomic unit: either
// the durable layer and the cache both reflect all listed records, or
// neither does.
type Update struct {
	Accounts []AccountUpdate
}

type AccountUpdate struct {
	ID     common.Address
	Record AccountRecord
}

// New opens a ledger over the given durable store. All durable records are
// scanned on open so that the commitment reflects pre-restart state.
func New(store Store, log *zap.Logger) (*Ledger, error) {
	if log == nil {
		log = zap.NewNop()
	}
	ledger := &Ledger{
		store:    store,
		log:      log,
		accounts: make(map[common.Address]AccountRecord),
		leaves:   make(map[common.Address]common.Hash),
	}
	err := store.ForEach(func(id common.Address, blob []byte) error {
		record, err := decodeRecord(blob)
		if err != nil {
			return fmt.Errorf("account %s: %w", id, err)
		}
		ledger.accounts[id] = record
		ledger.leaves[id] = leafDigest(id, blob)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to restore ledger: %v", ErrPersistence, err)
	}
	ledger.commitment = foldLeaves(ledger.leaves)
	log.Info("ledger restored",
		zap.Int("accounts", len(ledger.accounts)),
		zap.Stringer("commitment", ledger.commitment),
	)
	return ledger, nil
}

// Get returns the current record of the given account, reading through to
// the durable layer on a cache miss. A miss on both layers reports
// found=false; callers treat such accounts as ZeroAccountRecord.
func (l *Ledger) Get(id common.Address) (AccountRecord, bool, error) {
	l.mu.RLock()
	record, found := l.accounts[id]
	l.mu.RUnlock()
	if found {
		return record, true, nil
	}

	blob, err := l.store.Get(id)
	if err == ErrNotFound {
		return AccountRecord{}, false, nil
	}
	if err != nil {
		return AccountRecord{}, false, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	record, err = decodeRecord(blob)
	if err != nil {
		return AccountRecord{}, false, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	// A concurrent reader may have populated the entry in the meantime; the
	// cached value wins since it may already be ahead of what we read.
	if cached, found := l.accounts[id]; found {
		return cached, true, nil
	}
	l.accounts[id] = record
	l.leaves[id] = leafDigest(id, blob)
	return record, true, nil
}

// Apply persists and caches the given update. The durable write is staged
// first as one atomic batch; the cache and the commitment are only advanced
// after the durable layer acknowledges, so a write failure never leaves the
// cache silently ahead of storage.
func (l *Ledger) Apply(update Update) error {
	ids := make([]common.Address, 0, len(update.Accounts))
	for _, account := range update.Accounts {
		ids = append(ids, account.ID)
	}
	unlock := l.lockStripes(ids)
	defer unlock()

	entries := make([]Entry, 0, len(update.Accounts))
	for _, account := range update.Accounts {
		blob, err := encodeRecord(account.Record)
		if err != nil {
			return fmt.Errorf("failed to encode account %s: %w", account.ID, err)
		}
		entries = append(entries, Entry{ID: account.ID, Blob: blob})
	}

	if err := l.store.Apply(entries); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for i, account := range update.Accounts {
		l.accounts[account.ID] = account.Record
		l.leaves[account.ID] = leafDigest(account.ID, entries[i].Blob)
	}
	l.commitment = foldLeaves(l.leaves)
	return nil
}

// Commitment returns the state commitment reflecting the last successful
// Apply.
func (l *Ledger) Commitment() common.Hash {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.commitment
}

func (l *Ledger) Close() error {
	return l.store.Close()
}
