package ledger

import (
	"bytes"
	"sort"

	"golang.org/x/crypto/sha3"

	"github.com/heliolabs/rollup/common"
)

// leafDigest binds an account identifier to its encoded record. Leaf digests
// are cached per account and only recomputed when the record changes.
func leafDigest(id common.Address, blob []byte) common.Hash {
	hasher := sha3.New256()
	hasher.Write(id[:])
	hasher.Write(blob)
	var digest common.Hash
	hasher.Sum(digest[:0])
	return digest
}

// foldLeaves accumulates the state commitment by folding leaf digests in
// ascending identifier order. The result is a pure function of the set of
// (id, record) pairs, independent of insertion history or the enumeration
// order of the underlying container.
func foldLeaves(leaves map[common.Address]common.Hash) common.Hash {
	ids := make([]common.Address, 0, len(leaves))
	for id := range leaves {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return bytes.Compare(ids[i][:], ids[j][:]) < 0
	})

	hasher := sha3.New256()
	for _, id := range ids {
		digest := leaves[id]
		hasher.Write(digest[:])
	}
	var commitment common.Hash
	hasher.Sum(commitment[:0])
	return commitment
}
