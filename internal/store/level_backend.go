package store

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"parley/internal/domain"
)

// Key prefixes of the single leveldb keyspace.
var (
	levelRecordPrefix = []byte("r/")
	levelTypePrefix   = []byte("t/")
	levelDevicePrefix = []byte("d/")
	levelExpiryPrefix = []byte("e/")
	levelMetaPrefix   = []byte("m/")
)

// LevelBackend keeps records in a goleveldb database.
type LevelBackend struct {
	db *leveldb.DB

	// wmu serialises record writes, which read the old index entries
	// before writing the batch.
	wmu sync.Mutex
}

// OpenLevel opens or creates the database directory at path.
func OpenLevel(path string) (*LevelBackend, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	return &LevelBackend{db: db}, nil
}

// NewMemoryBackend returns a LevelBackend that lives in memory only.
func NewMemoryBackend() (*LevelBackend, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, err
	}
	return &LevelBackend{db: db}, nil
}

// Put writes rec and its index entries in one batch.
func (b *LevelBackend) Put(rec domain.StoredKeyRecord) error {
	raw, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	b.wmu.Lock()
	defer b.wmu.Unlock()
	batch := new(leveldb.Batch)
	if err := b.unindex(batch, rec.ID); err != nil {
		return err
	}
	batch.Put(prefixed(levelRecordPrefix, []byte(rec.ID)), raw)
	batch.Put(prefixed(levelTypePrefix, typeIndexKey(rec.Type, rec.ID)), nil)
	batch.Put(prefixed(levelDevicePrefix, deviceIndexKey(rec.DeviceID, rec.ID)), nil)
	if rec.ExpiresAt != 0 {
		batch.Put(prefixed(levelExpiryPrefix, expiryIndexKey(rec.ExpiresAt, rec.ID)), nil)
	}
	return b.db.Write(batch, nil)
}

// Get reads one record.
func (b *LevelBackend) Get(id string) (domain.StoredKeyRecord, bool, error) {
	raw, err := b.db.Get(prefixed(levelRecordPrefix, []byte(id)), nil)
	if err == leveldb.ErrNotFound {
		return domain.StoredKeyRecord{}, false, nil
	}
	if err != nil {
		return domain.StoredKeyRecord{}, false, err
	}
	rec, err := decodeRecord(raw)
	if err != nil {
		return domain.StoredKeyRecord{}, false, err
	}
	return rec, true, nil
}

// Delete removes a record and its index entries.
func (b *LevelBackend) Delete(id string) error {
	b.wmu.Lock()
	defer b.wmu.Unlock()
	batch := new(leveldb.Batch)
	if err := b.unindex(batch, id); err != nil {
		return err
	}
	batch.Delete(prefixed(levelRecordPrefix, []byte(id)))
	return b.db.Write(batch, nil)
}

// Clear removes every record and index entry. Metadata survives.
func (b *LevelBackend) Clear() error {
	b.wmu.Lock()
	defer b.wmu.Unlock()
	batch := new(leveldb.Batch)
	for _, p := range [][]byte{levelRecordPrefix, levelTypePrefix, levelDevicePrefix, levelExpiryPrefix} {
		iter := b.db.NewIterator(util.BytesPrefix(p), nil)
		for iter.Next() {
			batch.Delete(append([]byte(nil), iter.Key()...))
		}
		iter.Release()
		if err := iter.Error(); err != nil {
			return err
		}
	}
	return b.db.Write(batch, nil)
}

// IDsByType lists the ids of one record type.
func (b *LevelBackend) IDsByType(t domain.KeyType) ([]string, error) {
	return b.scan(prefixed(levelTypePrefix, typeIndexPrefix(t)))
}

// IDsByDevice lists the ids of one device.
func (b *LevelBackend) IDsByDevice(d domain.DeviceID) ([]string, error) {
	return b.scan(prefixed(levelDevicePrefix, deviceIndexPrefix(d)))
}

// DeleteExpired removes expired records in one batch under the write lock.
func (b *LevelBackend) DeleteExpired(now int64) (int, error) {
	b.wmu.Lock()
	defer b.wmu.Unlock()

	var ids []string
	iter := b.db.NewIterator(util.BytesPrefix(levelExpiryPrefix), nil)
	for iter.Next() {
		at, id := expiryFromIndexKey(iter.Key()[len(levelExpiryPrefix):])
		if at > now {
			break
		}
		ids = append(ids, id)
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return 0, err
	}

	batch := new(leveldb.Batch)
	for _, id := range ids {
		if err := b.unindex(batch, id); err != nil {
			return 0, err
		}
		batch.Delete(prefixed(levelRecordPrefix, []byte(id)))
	}
	if err := b.db.Write(batch, nil); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// GetMeta returns a metadata value, or nil.
func (b *LevelBackend) GetMeta(key string) ([]byte, error) {
	v, err := b.db.Get(prefixed(levelMetaPrefix, []byte(key)), nil)
	if err == leveldb.ErrNotFound {
		return nil, nil
	}
	return v, err
}

// PutMeta writes a metadata value.
func (b *LevelBackend) PutMeta(key string, value []byte) error {
	return b.db.Put(prefixed(levelMetaPrefix, []byte(key)), value, nil)
}

// Close closes the database.
func (b *LevelBackend) Close() error { return b.db.Close() }

func (b *LevelBackend) scan(prefix []byte) ([]string, error) {
	var ids []string
	iter := b.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()
	for iter.Next() {
		ids = append(ids, string(iter.Key()[len(prefix):]))
	}
	return ids, iter.Error()
}

func (b *LevelBackend) unindex(batch *leveldb.Batch, id string) error {
	old, ok, err := b.Get(id)
	if err != nil || !ok {
		return err
	}
	batch.Delete(prefixed(levelTypePrefix, typeIndexKey(old.Type, id)))
	batch.Delete(prefixed(levelDevicePrefix, deviceIndexKey(old.DeviceID, id)))
	if old.ExpiresAt != 0 {
		batch.Delete(prefixed(levelExpiryPrefix, expiryIndexKey(old.ExpiresAt, id)))
	}
	return nil
}

func prefixed(prefix, key []byte) []byte {
	out := make([]byte, 0, len(prefix)+len(key))
	out = append(out, prefix...)
	return append(out, key...)
}

// Compile-time assertion that LevelBackend implements Backend.
var _ Backend = (*LevelBackend)(nil)
