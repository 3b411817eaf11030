package store

import (
	"encoding/binary"

	"github.com/fxamacker/cbor/v2"

	"parley/internal/domain"
)

// Backend is the raw key-value layer beneath Storage. It only ever sees
// encrypted records. Implementations keep the type, device and expiry
// indices consistent with the records in a single write.
type Backend interface {
	// Put writes rec and its index entries, replacing any record with the
	// same id.
	Put(rec domain.StoredKeyRecord) error
	// Get reports ok=false for a missing id.
	Get(id string) (domain.StoredKeyRecord, bool, error)
	// Delete removes a record and its index entries.
	Delete(id string) error
	// Clear removes every record. Metadata survives.
	Clear() error

	IDsByType(t domain.KeyType) ([]string, error)
	IDsByDevice(d domain.DeviceID) ([]string, error)
	// DeleteExpired removes the records whose expiry is at or before now
	// (Unix ns) and returns how many went. Finding and deleting them is one
	// atomic step, so a record rewritten concurrently with a later expiry
	// survives.
	DeleteExpired(now int64) (int, error)

	// GetMeta returns nil when key is absent.
	GetMeta(key string) ([]byte, error)
	PutMeta(key string, value []byte) error

	Close() error
}

func encodeRecord(rec domain.StoredKeyRecord) ([]byte, error) {
	return cbor.Marshal(rec)
}

func decodeRecord(b []byte) (domain.StoredKeyRecord, error) {
	var rec domain.StoredKeyRecord
	err := cbor.Unmarshal(b, &rec)
	return rec, err
}

// Index keys. The record id is always the suffix so a prefix scan yields ids.

func typeIndexPrefix(t domain.KeyType) []byte {
	return append([]byte(t), 0)
}

func typeIndexKey(t domain.KeyType, id string) []byte {
	return append(typeIndexPrefix(t), id...)
}

func deviceIndexPrefix(d domain.DeviceID) []byte {
	return binary.BigEndian.AppendUint32(nil, uint32(d))
}

func deviceIndexKey(d domain.DeviceID, id string) []byte {
	return append(deviceIndexPrefix(d), id...)
}

// expiryIndexKey sorts by expiry. Expiry times are positive Unix ns.
func expiryIndexKey(expiresAt int64, id string) []byte {
	return append(binary.BigEndian.AppendUint64(nil, uint64(expiresAt)), id...)
}

func expiryFromIndexKey(k []byte) (int64, string) {
	return int64(binary.BigEndian.Uint64(k[:8])), string(k[8:])
}
