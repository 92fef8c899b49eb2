package common

import (
	"fmt"

	"github.com/mr-tron/base58"
)

// Address is a 32-byte account identifier. For accounts controlled by a
// keypair it is the ed25519 public key of the owner.
type Address [32]byte

// Hash is a 32-byte digest, used for state commitments and leaf digests.
type Hash [32]byte

// Signature is a 64-byte ed25519 signature over a transaction's message bytes.
type Signature [64]byte

// SystemProgramID is the owner assigned to accounts that were never
// explicitly created. It is the all-zero address, rendered in base58 as
// "11111111111111111111111111111111".
var SystemProgramID = Address{}

func (a Address) String() string {
	return base58.Encode(a[:])
}

func (h Hash) String() string {
	return base58.Encode(h[:])
}

func (s Signature) String() string {
	return base58.Encode(s[:])
}

// AddressFromBase58 parses a base58-encoded 32-byte account identifier.
func AddressFromBase58(s string) (Address, error) {
	var a Address
	raw, err := base58.Decode(s)
	if err != nil {
		return a, fmt.Errorf("invalid address %q: %w", s, err)
	}
	if len(raw) != len(a) {
		return a, fmt.Errorf("invalid address %q: got %d bytes, want %d", s, len(raw), len(a))
	}
	copy(a[:], raw)
	return a, nil
}

// SignatureFromBase58 parses a base58-encoded 64-byte signature.
func SignatureFromBase58(s string) (Signature, error) {
	var sig Signature
	raw, err := base58.Decode(s)
	if err != nil {
		return sig, fmt.Errorf("invalid signature %q: %w", s, err)
	}
	if len(raw) != len(sig) {
		return sig, fmt.Errorf("invalid signature %q: got %d bytes, want %d", s, len(raw), len(sig))
	}
	copy(sig[:], raw)
	return sig, nil
}
