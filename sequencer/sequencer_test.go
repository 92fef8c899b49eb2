package sequencer

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/heliolabs/rollup/common"
	"github.com/heliolabs/rollup/executor"
	"github.com/heliolabs/rollup/settlement"
)

func makeTransactions(n int) []*executor.Transaction {
	txs := make([]*executor.Transaction, n)
	for i := range txs {
		txs[i] = &executor.Transaction{
			From:  common.Address{0xaa},
			Nonce: uint64(i + 1),
		}
	}
	return txs
}

func TestSequencer_BatchesPreserveArrivalOrder(t *testing.T) {
	require := require.New(t)
	ctrl := gomock.NewController(t)
	client := settlement.NewMockClient(ctrl)

	var forwarded []*executor.Transaction
	var sizes []int
	client.EXPECT().SubmitBatch(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, batch settlement.Batch) (settlement.Ref, error) {
			forwarded = append(forwarded, batch.Transactions...)
			sizes = append(sizes, len(batch.Transactions))
			return "ref", nil
		}).Times(3)

	seq := New(client, nil, Config{MaxBatchSize: 100}, nil)
	txs := makeTransactions(250)
	for _, tx := range txs {
		require.NoError(seq.Enqueue(tx))
	}

	for n := 0; n < 3; n++ {
		require.NoError(seq.flush(context.Background()))
	}

	require.Equal([]int{100, 100, 50}, sizes)
	require.Equal(txs, forwarded)
	require.Equal(0, seq.queue.size())
}

func TestSequencer_FlushOnEmptyQueueIsANoOp(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := settlement.NewMockClient(ctrl)

	seq := New(client, nil, Config{}, nil)
	require.NoError(t, seq.flush(context.Background()))
}

func TestSequencer_EnqueueRejectsWhenQueueIsFull(t *testing.T) {
	require := require.New(t)
	ctrl := gomock.NewController(t)
	client := settlement.NewMockClient(ctrl)

	seq := New(client, nil, Config{QueueCapacity: 2, MaxBatchSize: 100}, nil)
	require.NoError(seq.Enqueue(&executor.Transaction{Nonce: 1}))
	require.NoError(seq.Enqueue(&executor.Transaction{Nonce: 2}))
	require.ErrorIs(seq.Enqueue(&executor.Transaction{Nonce: 3}), ErrBackpressureExceeded)
}

func TestSequencer_FailedBatchIsRetriedInOrder(t *testing.T) {
	require := require.New(t)
	ctrl := gomock.NewController(t)
	client := settlement.NewMockClient(ctrl)

	var forwarded []*executor.Transaction
	failed := false
	client.EXPECT().SubmitBatch(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, batch settlement.Batch) (settlement.Ref, error) {
			if !failed {
				failed = true
				return "", settlement.ErrForwarding
			}
			forwarded = append(forwarded, batch.Transactions...)
			return "ref", nil
		}).Times(3)

	seq := New(client, nil, Config{MaxBatchSize: 2}, nil)
	txs := makeTransactions(4)
	for _, tx := range txs {
		require.NoError(seq.Enqueue(tx))
	}

	require.NoError(seq.flush(context.Background())) // fails, requeued
	require.NoError(seq.flush(context.Background()))
	require.NoError(seq.flush(context.Background()))

	require.Equal(txs, forwarded)
}

func TestSequencer_ExhaustedRetriesJournalTheBatchAndTurnFatal(t *testing.T) {
	require := require.New(t)
	ctrl := gomock.NewController(t)
	client := settlement.NewMockClient(ctrl)
	client.EXPECT().SubmitBatch(gomock.Any(), gomock.Any()).
		Return(settlement.Ref(""), settlement.ErrForwarding).Times(3)

	journalPath := filepath.Join(t.TempDir(), "journal.bin")
	seq := New(client, NewJournal(journalPath), Config{MaxBatchSize: 10, MaxRetries: 2}, nil)

	txs := makeTransactions(3)
	for _, tx := range txs {
		require.NoError(seq.Enqueue(tx))
	}

	require.NoError(seq.flush(context.Background()))
	require.NoError(seq.flush(context.Background()))
	err := seq.flush(context.Background())
	require.ErrorIs(err, ErrRetriesExhausted)

	// The batch must not be lost: it is persisted in arrival order.
	batches, err := ReadJournal(journalPath)
	require.NoError(err)
	require.Len(batches, 1)
	require.Len(batches[0].Transactions, 3)
	for i, tx := range batches[0].Transactions {
		require.Equal(txs[i].Nonce, tx.Nonce)
	}
}

func TestSequencer_QueueReachingBatchSizeTriggersImmediateFlush(t *testing.T) {
	require := require.New(t)
	ctrl := gomock.NewController(t)
	client := settlement.NewMockClient(ctrl)

	flushed := make(chan int, 1)
	client.EXPECT().SubmitBatch(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, batch settlement.Batch) (settlement.Ref, error) {
			flushed <- len(batch.Transactions)
			return "ref", nil
		})

	// The interval is far away; only the size trigger can flush this fast.
	seq := New(client, nil, Config{Interval: time.Hour, MaxBatchSize: 5}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go seq.Run(ctx)

	for _, tx := range makeTransactions(5) {
		require.NoError(seq.Enqueue(tx))
	}

	select {
	case size := <-flushed:
		require.Equal(5, size)
	case <-time.After(5 * time.Second):
		t.Fatal("size trigger did not flush")
	}

	cancel()
	require.NoError(<-seq.Done())
}

func TestSequencer_ShutdownDrainsRemainingTransactions(t *testing.T) {
	require := require.New(t)
	ctrl := gomock.NewController(t)
	client := settlement.NewMockClient(ctrl)

	var forwarded []*executor.Transaction
	client.EXPECT().SubmitBatch(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, batch settlement.Batch) (settlement.Ref, error) {
			forwarded = append(forwarded, batch.Transactions...)
			return "ref", nil
		}).Times(2)

	seq := New(client, nil, Config{Interval: time.Hour, MaxBatchSize: 4}, nil)
	txs := makeTransactions(7)
	for _, tx := range txs {
		require.NoError(seq.Enqueue(tx))
	}

	ctx, cancel := context.WithCancel(context.Background())
	go seq.Run(ctx)
	cancel()

	require.NoError(<-seq.Done())
	require.Equal(txs, forwarded)
}

func TestSequencer_ShutdownJournalsWhatCannotBeForwarded(t *testing.T) {
	require := require.New(t)
	ctrl := gomock.NewController(t)
	client := settlement.NewMockClient(ctrl)
	client.EXPECT().SubmitBatch(gomock.Any(), gomock.Any()).
		Return(settlement.Ref(""), settlement.ErrForwarding)

	journalPath := filepath.Join(t.TempDir(), "journal.bin")
	seq := New(client, NewJournal(journalPath), Config{Interval: time.Hour, MaxBatchSize: 10, ShutdownTimeout: time.Second}, nil)
	for _, tx := range makeTransactions(3) {
		require.NoError(seq.Enqueue(tx))
	}

	ctx, cancel := context.WithCancel(context.Background())
	go seq.Run(ctx)
	cancel()

	require.ErrorIs(<-seq.Done(), settlement.ErrForwarding)
	batches, err := ReadJournal(journalPath)
	require.NoError(err)
	require.Len(batches, 1)
	require.Len(batches[0].Transactions, 3)
}
