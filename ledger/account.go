package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/heliolabs/rollup/common"
)

// AccountRecord is the full state of a single account. Accounts are never
// deleted; a record may reach zero balance but remains addressable.
type AccountRecord struct {
	Balance    uint64
	Data       []byte
	Owner      common.Address
	Executable bool
	RentEpoch  uint64
}

// ZeroAccountRecord returns the implicit state of an account that is absent
// from both the cache and the durable layer: zero balance, no data, owned by
// the system program, not executable.
func ZeroAccountRecord() AccountRecord {
	return AccountRecord{Owner: common.SystemProgramID}
}

// recordVersion is the current schema version of the durable record
// encoding. Decoders reject versions they do not understand instead of
// misinterpreting the payload.
const recordVersion = 1

// storedRecord is the durable wire form of an AccountRecord. The leading
// version field allows the schema to evolve without a full migration.
type storedRecord struct {
	Version    uint8
	Balance    uint64
	Data       []byte
	Owner      common.Address
	Executable bool
	RentEpoch  uint64
}

func encodeRecord(record AccountRecord) ([]byte, error) {
	return rlp.EncodeToBytes(storedRecord{
		Version:    recordVersion,
		Balance:    record.Balance,
		Data:       record.Data,
		Owner:      record.Owner,
		Executable: record.Executable,
		RentEpoch:  record.RentEpoch,
	})
}

func decodeRecord(blob []byte) (AccountRecord, error) {
	var stored storedRecord
	if err := rlp.DecodeBytes(blob, &stored); err != nil {
		return AccountRecord{}, fmt.Errorf("failed to decode account record: %w", err)
	}
	if stored.Version != recordVersion {
		return AccountRecord{}, fmt.Errorf("unsupported account record version %d", stored.Version)
	}
	return AccountRecord{
		Balance:    stored.Balance,
		Data:       stored.Data,
		Owner:      stored.Owner,
		Executable: stored.Executable,
		RentEpoch:  stored.RentEpoch,
	}, nil
}
