package executor

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/heliolabs/rollup/common"
)

func TestDecodeTransfer_RecognizesTransferPayload(t *testing.T) {
	require := require.New(t)
	tx := &Transaction{
		Keys: []common.Address{{0xbb}},
		Data: TransferData(1234),
	}
	transfer, err := decodeTransfer(tx)
	require.NoError(err)
	require.NotNil(transfer)
	require.Equal(uint64(1234), transfer.amount)
	require.Equal(common.Address{0xbb}, transfer.to)
}

func TestDecodeTransfer_OtherPayloadsAreOpaque(t *testing.T) {
	require := require.New(t)

	otherTag := make([]byte, 12)
	binary.LittleEndian.PutUint32(otherTag, 7)

	for _, data := range [][]byte{nil, {1, 2}, []byte("abc"), otherTag} {
		transfer, err := decodeTransfer(&Transaction{Data: data})
		require.NoError(err)
		require.Nil(transfer)
	}
}

func TestTransaction_SignatureCoversAllMessageFields(t *testing.T) {
	require := require.New(t)
	sender, key := newTestKey(t)

	tx := &Transaction{
		From:  sender,
		Keys:  []common.Address{{0xbb}},
		Data:  TransferData(10),
		Nonce: 1,
	}
	require.NoError(Sign(tx, key))
	require.True(verifySignature(tx))

	tampered := *tx
	tampered.Nonce = 2
	require.False(verifySignature(&tampered))

	tampered = *tx
	tampered.Keys = []common.Address{{0xcc}}
	require.False(verifySignature(&tampered))
}
