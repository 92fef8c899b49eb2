package executor

import (
	"crypto/ed25519"
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/heliolabs/rollup/common"
)

// Transaction is the wire form of a client-submitted transaction. From is
// the fee payer and doubles as the ed25519 public key the signature is
// verified against. Keys lists the accounts referenced by the instruction
// payload, recipient first for transfers. Nonce is the declared sequence
// number; it must be exactly one above the sender's last consumed nonce.
type Transaction struct {
	Signature common.Signature
	From      common.Address
	Keys      []common.Address
	Data      []byte
	Nonce     uint64
}

// message is the signed portion of a transaction.
type message struct {
	From  common.Address
	Keys  []common.Address
	Data  []byte
	Nonce uint64
}

// MessageBytes returns the canonical byte sequence covered by the
// transaction's signature.
func (tx *Transaction) MessageBytes() ([]byte, error) {
	return rlp.EncodeToBytes(message{
		From:  tx.From,
		Keys:  tx.Keys,
		Data:  tx.Data,
		Nonce: tx.Nonce,
	})
}

// Sign computes and sets the transaction's signature using the given key.
// The key's public half must match the transaction's From address.
func Sign(tx *Transaction, key ed25519.PrivateKey) error {
	msg, err := tx.MessageBytes()
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	copy(tx.Signature[:], ed25519.Sign(key, msg))
	return nil
}

// verifySignature checks that the transaction's signature covers its message
// bytes under the fee payer's public key.
func verifySignature(tx *Transaction) bool {
	msg, err := tx.MessageBytes()
	if err != nil {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(tx.From[:]), msg, tx.Signature[:])
}

// Instruction payload layout interpreted by the executor, matching the
// system-program transfer shape: a little-endian uint32 tag followed by a
// little-endian uint64 amount. Every other payload is accepted opaquely.
const (
	transferTag        = 2
	transferTagSize    = 4
	transferAmountSize = 8
)

// transfer is the canonical decoded form of a balance-moving instruction.
type transfer struct {
	to     common.Address
	amount uint64
}

// decodeTransfer inspects the instruction payload and extracts a transfer if
// the payload has the transfer shape. Non-transfer payloads decode to nil
// without error; they produce no balance effect but still consume a nonce.
func decodeTransfer(tx *Transaction) (*transfer, error) {
	if len(tx.Data) < transferTagSize {
		return nil, nil
	}
	if binary.LittleEndian.Uint32(tx.Data[:transferTagSize]) != transferTag {
		return nil, nil
	}
	if len(tx.Data) < transferTagSize+transferAmountSize {
		return nil, ErrMalformedInstruction
	}
	if len(tx.Keys) == 0 {
		// A transfer needs a recipient key.
		return nil, ErrMalformedInstruction
	}
	return &transfer{
		to:     tx.Keys[0],
		amount: binary.LittleEndian.Uint64(tx.Data[transferTagSize : transferTagSize+transferAmountSize]),
	}, nil
}

// TransferData encodes the instruction payload of a transfer of the given
// amount.
func TransferData(amount uint64) []byte {
	data := make([]byte, transferTagSize+transferAmountSize)
	binary.LittleEndian.PutUint32(data[:transferTagSize], transferTag)
	binary.LittleEndian.PutUint64(data[transferTagSize:], amount)
	return data
}
