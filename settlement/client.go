package settlement

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/golang/snappy"

	"github.com/heliolabs/rollup/common"
	"github.com/heliolabs/rollup/executor"
)

const (
	// ErrForwarding signals that the settlement collaborator could not accept
	// a batch. The sequencer recovers it locally by requeue-and-retry.
	ErrForwarding = common.ConstError("settlement forwarding failure")
)

//go:generate mockgen -source=client.go -destination=client_mock.go -package=settlement

// Ref identifies a submitted batch on the base chain.
type Ref string

// Batch is an ordered group of already-executed transactions destined for
// settlement. The order is the sequencer's arrival order and is preserved
// through encoding.
type Batch struct {
	Transactions []*executor.Transaction
}

// Client is the base-chain submission collaborator.
type Client interface {
	SubmitBatch(ctx context.Context, batch Batch) (Ref, error)
}

// EncodeBatch produces the batch wire form: RLP-encoded transaction list,
// snappy-compressed.
func EncodeBatch(batch Batch) ([]byte, error) {
	raw, err := rlp.EncodeToBytes(batch.Transactions)
	if err != nil {
		return nil, fmt.Errorf("failed to encode batch: %w", err)
	}
	return snappy.Encode(nil, raw), nil
}

// DecodeBatch is the inverse of EncodeBatch.
func DecodeBatch(blob []byte) (Batch, error) {
	raw, err := snappy.Decode(nil, blob)
	if err != nil {
		return Batch{}, fmt.Errorf("failed to decompress batch: %w", err)
	}
	var transactions []*executor.Transaction
	if err := rlp.DecodeBytes(raw, &transactions); err != nil {
		return Batch{}, fmt.Errorf("failed to decode batch: %w", err)
	}
	return Batch{Transactions: transactions}, nil
}
