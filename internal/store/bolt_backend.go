package store

import (
	"bytes"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"parley/internal/domain"
)

const (
	recordsBucket     = "records"
	typeIndexBucket   = "idx-type"
	deviceIndexBucket = "idx-device"
	expiryIndexBucket = "idx-expiry"
	metaBucket        = "meta"
)

var recordBuckets = []string{recordsBucket, typeIndexBucket, deviceIndexBucket, expiryIndexBucket}

// BoltBackend keeps records in a bbolt file.
type BoltBackend struct {
	db *bolt.DB
}

// OpenBolt opens or creates the database at path.
func OpenBolt(path string) (*BoltBackend, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range append(recordBuckets, metaBucket) {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltBackend{db: db}, nil
}

// Put writes rec and its index entries in one transaction.
func (b *BoltBackend) Put(rec domain.StoredKeyRecord) error {
	raw, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		if err := boltUnindex(tx, rec.ID); err != nil {
			return err
		}
		if err := tx.Bucket([]byte(recordsBucket)).Put([]byte(rec.ID), raw); err != nil {
			return err
		}
		if err := tx.Bucket([]byte(typeIndexBucket)).Put(typeIndexKey(rec.Type, rec.ID), []byte{}); err != nil {
			return err
		}
		if err := tx.Bucket([]byte(deviceIndexBucket)).Put(deviceIndexKey(rec.DeviceID, rec.ID), []byte{}); err != nil {
			return err
		}
		if rec.ExpiresAt != 0 {
			return tx.Bucket([]byte(expiryIndexBucket)).Put(expiryIndexKey(rec.ExpiresAt, rec.ID), []byte{})
		}
		return nil
	})
}

// Get reads one record.
func (b *BoltBackend) Get(id string) (domain.StoredKeyRecord, bool, error) {
	var (
		rec domain.StoredKeyRecord
		ok  bool
	)
	err := b.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte(recordsBucket)).Get([]byte(id))
		if raw == nil {
			return nil
		}
		var err error
		rec, err = decodeRecord(raw)
		ok = err == nil
		return err
	})
	return rec, ok, err
}

// Delete removes a record and its index entries.
func (b *BoltBackend) Delete(id string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		if err := boltUnindex(tx, id); err != nil {
			return err
		}
		return tx.Bucket([]byte(recordsBucket)).Delete([]byte(id))
	})
}

// Clear recreates the record and index buckets.
func (b *BoltBackend) Clear() error {
	return b.db.Update(func(tx *bolt.Tx) error {
		for _, name := range recordBuckets {
			if err := tx.DeleteBucket([]byte(name)); err != nil {
				return err
			}
			if _, err := tx.CreateBucket([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
}

// IDsByType lists the ids of one record type.
func (b *BoltBackend) IDsByType(t domain.KeyType) ([]string, error) {
	return b.scan(typeIndexBucket, typeIndexPrefix(t))
}

// IDsByDevice lists the ids of one device.
func (b *BoltBackend) IDsByDevice(d domain.DeviceID) ([]string, error) {
	return b.scan(deviceIndexBucket, deviceIndexPrefix(d))
}

// DeleteExpired removes expired records in a single transaction.
func (b *BoltBackend) DeleteExpired(now int64) (int, error) {
	var n int
	err := b.db.Update(func(tx *bolt.Tx) error {
		var ids []string
		c := tx.Bucket([]byte(expiryIndexBucket)).Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			at, id := expiryFromIndexKey(k)
			if at > now {
				break
			}
			ids = append(ids, id)
		}
		for _, id := range ids {
			if err := boltUnindex(tx, id); err != nil {
				return err
			}
			if err := tx.Bucket([]byte(recordsBucket)).Delete([]byte(id)); err != nil {
				return err
			}
		}
		n = len(ids)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// GetMeta returns a copy of a metadata value, or nil.
func (b *BoltBackend) GetMeta(key string) ([]byte, error) {
	var out []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket([]byte(metaBucket)).Get([]byte(key)); v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	return out, err
}

// PutMeta writes a metadata value.
func (b *BoltBackend) PutMeta(key string, value []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(metaBucket)).Put([]byte(key), value)
	})
}

// Close closes the database file.
func (b *BoltBackend) Close() error { return b.db.Close() }

// scan collects the id suffixes of all keys under prefix.
func (b *BoltBackend) scan(bucket string, prefix []byte) ([]string, error) {
	var ids []string
	err := b.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(bucket)).Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			ids = append(ids, string(k[len(prefix):]))
		}
		return nil
	})
	return ids, err
}

// boltUnindex drops the index entries of the record currently stored as id.
func boltUnindex(tx *bolt.Tx, id string) error {
	raw := tx.Bucket([]byte(recordsBucket)).Get([]byte(id))
	if raw == nil {
		return nil
	}
	old, err := decodeRecord(raw)
	if err != nil {
		return err
	}
	if err := tx.Bucket([]byte(typeIndexBucket)).Delete(typeIndexKey(old.Type, id)); err != nil {
		return err
	}
	if err := tx.Bucket([]byte(deviceIndexBucket)).Delete(deviceIndexKey(old.DeviceID, id)); err != nil {
		return err
	}
	if old.ExpiresAt != 0 {
		return tx.Bucket([]byte(expiryIndexBucket)).Delete(expiryIndexKey(old.ExpiresAt, id))
	}
	return nil
}

// Compile-time assertion that BoltBackend implements Backend.
var _ Backend = (*BoltBackend)(nil)
