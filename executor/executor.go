package executor

import (
	"sync"

	"go.uber.org/zap"

	"github.com/heliolabs/rollup/common"
	"github.com/heliolabs/rollup/ledger"
)

const (
	// ErrInvalidSignature is returned when a transaction's signature does not
	// cover its message bytes under the declared fee payer.
	ErrInvalidSignature = common.ConstError("invalid signature")

	// ErrReplayedNonce is returned when the declared nonce is not exactly one
	// above the sender's last consumed nonce.
	ErrReplayedNonce = common.ConstError("replayed nonce")

	// ErrInsufficientFunds is returned when a transfer would drive the sender
	// balance negative.
	ErrInsufficientFunds = common.ConstError("insufficient funds")

	// ErrMalformedInstruction is returned for payloads that decode as a
	// transfer but are semantically invalid.
	ErrMalformedInstruction = common.ConstError("malformed instruction")
)

// Receipt acknowledges an accepted transaction. Slot is the count of
// transactions accepted so far — a pure function of the accepted history, so
// replaying the same history yields the same receipts.
type Receipt struct {
	Signature common.Signature
	Slot      uint64
}

// Executor is the deterministic state-transition function of the rollup: it
// validates one transaction at a time and applies its effects to the ledger.
type Executor struct {
	ledger *ledger.Ledger
	log    *zap.Logger

	// stripes linearize the full read-check-apply sequence per touched
	// account, so no two concurrent transitions interleave on the same
	// sender or recipient.
	stripes [stripeCount]sync.Mutex

	mu     sync.Mutex
	nonces map[common.Address]uint64
	slot   uint64
}

const stripeCount = 64

func New(l *ledger.Ledger, log *zap.Logger) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{
		ledger: l,
		log:    log,
		nonces: make(map[common.Address]uint64),
	}
}

// Process validates and applies a single transaction.
//
// Rejections are atomic-or-nothing: any returned error guarantees that
// neither the ledger nor the nonce tracker was mutated. The transition is
// deterministic — identical ledger state and transaction always produce the
// identical resulting state and receipt.
func (e *Executor) Process(tx *Transaction) (Receipt, error) {
	if !verifySignature(tx) {
		e.countRejection(ErrInvalidSignature)
		return Receipt{}, ErrInvalidSignature
	}

	transfer, err := decodeTransfer(tx)
	if err != nil {
		e.countRejection(err)
		return Receipt{}, err
	}

	touched := []common.Address{tx.From}
	if transfer != nil {
		touched = append(touched, transfer.to)
	}
	unlock := e.lockStripes(touched)
	defer unlock()

	if tx.Nonce != e.trackedNonce(tx.From)+1 {
		e.countRejection(ErrReplayedNonce)
		return Receipt{}, ErrReplayedNonce
	}

	if transfer != nil {
		if err := e.applyTransfer(tx.From, transfer); err != nil {
			e.countRejection(err)
			return Receipt{}, err
		}
	}

	e.mu.Lock()
	e.nonces[tx.From] = tx.Nonce
	e.slot++
	slot := e.slot
	e.mu.Unlock()

	processedTransactions.Inc()
	e.log.Debug("transaction accepted",
		zap.Stringer("signature", tx.Signature),
		zap.Stringer("from", tx.From),
		zap.Uint64("nonce", tx.Nonce),
		zap.Uint64("slot", slot),
	)
	return Receipt{Signature: tx.Signature, Slot: slot}, nil
}

// TrackedNonce reports the last consumed nonce of the given account, zero if
// the account never transacted.
func (e *Executor) TrackedNonce(id common.Address) uint64 {
	return e.trackedNonce(id)
}

func (e *Executor) trackedNonce(id common.Address) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.nonces[id]
}

// applyTransfer moves the amount from the sender to the recipient as one
// atomic ledger update. Absent accounts default to the implicit zero record.
func (e *Executor) applyTransfer(from common.Address, t *transfer) error {
	sender, err := e.loadOrZero(from)
	if err != nil {
		return err
	}
	if sender.Balance < t.amount {
		return ErrInsufficientFunds
	}

	if t.to == from {
		// A self transfer is balance neutral; still materialize the account.
		return e.ledger.Apply(ledger.Update{Accounts: []ledger.AccountUpdate{
			{ID: from, Record: sender},
		}})
	}

	recipient, err := e.loadOrZero(t.to)
	if err != nil {
		return err
	}
	if recipient.Balance+t.amount < recipient.Balance {
		// The credit would overflow the recipient balance.
		return ErrMalformedInstruction
	}

	sender.Balance -= t.amount
	recipient.Balance += t.amount
	return e.ledger.Apply(ledger.Update{Accounts: []ledger.AccountUpdate{
		{ID: from, Record: sender},
		{ID: t.to, Record: recipient},
	}})
}

func (e *Executor) loadOrZero(id common.Address) (ledger.AccountRecord, error) {
	record, found, err := e.ledger.Get(id)
	if err != nil {
		return ledger.AccountRecord{}, err
	}
	if !found {
		return ledger.ZeroAccountRecord(), nil
	}
	return record, nil
}

func stripeOf(id common.Address) int {
	return int(id[0]) % stripeCount
}

// lockStripes acquires the stripes covering the given accounts in index
// order to avoid deadlocks between overlapping transitions.
func (e *Executor) lockStripes(ids []common.Address) func() {
	var held [stripeCount]bool
	for _, id := range ids {
		held[stripeOf(id)] = true
	}
	for i := range held {
		if held[i] {
			e.stripes[i].Lock()
		}
	}
	return func() {
		for i := range held {
			if held[i] {
				e.stripes[i].Unlock()
			}
		}
	}
}
