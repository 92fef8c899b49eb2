package sequencer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/heliolabs/rollup/settlement"
)

// Journal persists batches that could not be delivered to the settlement
// collaborator, so that already-executed transactions are never silently
// lost. Journaled batches are replayed out of band by an operator.
//
// The file format is a sequence of frames: a 4-byte big-endian length
// followed by the encoded batch.
type Journal struct {
	mu   sync.Mutex
	path string
}

func NewJournal(path string) *Journal {
	return &Journal{path: path}
}

func (j *Journal) Append(batch settlement.Batch) error {
	blob, err := settlement.EncodeBatch(batch)
	if err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	file, err := os.OpenFile(j.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open batch journal: %w", err)
	}
	var frame [4]byte
	binary.BigEndian.PutUint32(frame[:], uint32(len(blob)))
	_, err = file.Write(append(frame[:], blob...))
	return errors.Join(err, file.Close())
}

// ReadJournal loads all journaled batches, in the order they were appended.
func ReadJournal(path string) ([]settlement.Batch, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var batches []settlement.Batch
	for len(blob) > 0 {
		if len(blob) < 4 {
			return nil, io.ErrUnexpectedEOF
		}
		size := binary.BigEndian.Uint32(blob[:4])
		blob = blob[4:]
		if uint32(len(blob)) < size {
			return nil, io.ErrUnexpectedEOF
		}
		batch, err := settlement.DecodeBatch(blob[:size])
		if err != nil {
			return nil, err
		}
		batches = append(batches, batch)
		blob = blob[size:]
	}
	return batches, nil
}
