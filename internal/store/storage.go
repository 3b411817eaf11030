package store

import (
	"crypto/sha256"
	"crypto/subtle"
	"sync"
	"time"

	"github.com/pkg/errors"

	"parley/internal/crypto/aead"
	"parley/internal/crypto/kdf"
	"parley/internal/domain"
	"parley/internal/util/memzero"
)

const (
	// MasterKeySalt is the fixed salt of the master key derivation.
	MasterKeySalt = "parley/storage/master-key"

	masterKeyInfo = "parley/storage"
	masterKeySize = 32

	metaVerifier = "verifier"
	metaKDF      = "kdf"
)

// Storage is the encrypted key store. Every record is sealed under a master
// key derived from the user secret, with a fresh IV and the record id as
// associated data.
type Storage struct {
	mu        sync.RWMutex
	backend   Backend
	suite     aead.Suite
	masterKey []byte
	now       func() time.Time
}

// Option configures Storage.
type Option func(*Storage)

// WithSuite selects the record cipher. The default is ChaCha20-Poly1305.
func WithSuite(s aead.Suite) Option {
	return func(st *Storage) { st.suite = s }
}

// WithClock overrides the time source used for expiry.
func WithClock(now func() time.Time) Option {
	return func(st *Storage) { st.now = now }
}

// Open unlocks backend with secret. The first unlock of an empty backend
// records a verifier; later unlocks with a different secret fail with
// domain.ErrInvalidCredential and leave nothing unlocked.
func Open(backend Backend, strategy kdf.Strategy, secret []byte, opts ...Option) (*Storage, error) {
	mk, err := strategy.DeriveKey(secret, []byte(MasterKeySalt), []byte(masterKeyInfo), masterKeySize)
	if err != nil {
		return nil, errors.Wrap(err, "master key")
	}
	sum := sha256.Sum256(mk)

	stored, err := backend.GetMeta(metaVerifier)
	if err != nil {
		memzero.Zero(mk)
		return nil, err
	}
	name, err := backend.GetMeta(metaKDF)
	if err != nil {
		memzero.Zero(mk)
		return nil, err
	}

	switch {
	case stored == nil:
		if err := backend.PutMeta(metaKDF, []byte(strategy.Name())); err != nil {
			memzero.Zero(mk)
			return nil, err
		}
		if err := backend.PutMeta(metaVerifier, sum[:]); err != nil {
			memzero.Zero(mk)
			return nil, err
		}
	case name != nil && string(name) != strategy.Name():
		memzero.Zero(mk)
		return nil, errors.Wrapf(domain.ErrInvalidCredential, "storage was created with %s", name)
	case subtle.ConstantTimeCompare(stored, sum[:]) != 1:
		memzero.Zero(mk)
		return nil, domain.ErrInvalidCredential
	}

	s := &Storage{
		backend:   backend,
		suite:     aead.ChaCha20Poly1305,
		masterKey: mk,
		now:       time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Lock wipes the master key. Every later call fails with
// domain.ErrStorageLocked.
func (s *Storage) Lock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	memzero.Zero(s.masterKey)
	s.masterKey = nil
}

// Close locks the store and closes the backend.
func (s *Storage) Close() error {
	s.Lock()
	return s.backend.Close()
}

// Store encrypts and writes rec, replacing any record with the same id.
func (s *Storage) Store(rec domain.KeyRecord) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.masterKey == nil {
		return domain.ErrStorageLocked
	}
	if rec.ID == "" {
		return errors.New("store: empty record id")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}

	iv, sealed, err := aead.Seal(s.suite, s.masterKey, rec.Data, []byte(rec.ID))
	if err != nil {
		return err
	}
	body, tag, err := aead.SplitTag(sealed)
	if err != nil {
		return err
	}
	stored := domain.StoredKeyRecord{
		ID:         rec.ID,
		Type:       rec.Type,
		Ciphertext: body,
		IV:         iv,
		Tag:        tag,
		DeviceID:   rec.DeviceID,
		CreatedAt:  rec.CreatedAt.UnixNano(),
	}
	if !rec.ExpiresAt.IsZero() {
		stored.ExpiresAt = rec.ExpiresAt.UnixNano()
	}
	return errors.Wrapf(s.backend.Put(stored), "store %s", rec.ID)
}

// Get returns the decrypted record. Missing and expired records report
// ok=false.
func (s *Storage) Get(id string) (domain.KeyRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.masterKey == nil {
		return domain.KeyRecord{}, false, domain.ErrStorageLocked
	}
	stored, ok, err := s.backend.Get(id)
	if err != nil || !ok {
		return domain.KeyRecord{}, false, err
	}
	return s.open(id, stored)
}

// Delete removes a record. Deleting a missing record is not an error.
func (s *Storage) Delete(id string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.masterKey == nil {
		return domain.ErrStorageLocked
	}
	return s.backend.Delete(id)
}

// Clear removes every record.
func (s *Storage) Clear() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.masterKey == nil {
		return domain.ErrStorageLocked
	}
	return s.backend.Clear()
}

// SweepExpired deletes records that expired at or before now and returns
// how many were removed.
func (s *Storage) SweepExpired(now time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.masterKey == nil {
		return 0, domain.ErrStorageLocked
	}
	n, err := s.backend.DeleteExpired(now.UnixNano())
	return n, errors.Wrap(err, "sweep")
}

// ListByType returns the live records of one type.
func (s *Storage) ListByType(t domain.KeyType) ([]domain.KeyRecord, error) {
	return s.list(func() ([]string, error) { return s.backend.IDsByType(t) })
}

// ListByDevice returns the live records of one device.
func (s *Storage) ListByDevice(d domain.DeviceID) ([]domain.KeyRecord, error) {
	return s.list(func() ([]string, error) { return s.backend.IDsByDevice(d) })
}

func (s *Storage) list(ids func() ([]string, error)) ([]domain.KeyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.masterKey == nil {
		return nil, domain.ErrStorageLocked
	}
	all, err := ids()
	if err != nil {
		return nil, err
	}
	out := make([]domain.KeyRecord, 0, len(all))
	for _, id := range all {
		stored, ok, err := s.backend.Get(id)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		rec, ok, err := s.open(id, stored)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

// open decrypts stored, binding it to the id it was requested under.
// Callers hold s.mu.
func (s *Storage) open(id string, stored domain.StoredKeyRecord) (domain.KeyRecord, bool, error) {
	now := s.now().UnixNano()
	if stored.ExpiresAt != 0 && now >= stored.ExpiresAt {
		return domain.KeyRecord{}, false, nil
	}
	data, err := aead.Open(s.suite, s.masterKey, stored.IV, aead.JoinTag(stored.Ciphertext, stored.Tag), []byte(id))
	if err != nil {
		return domain.KeyRecord{}, false, errors.Wrapf(err, "record %s", id)
	}
	rec := domain.KeyRecord{
		ID:        id,
		Type:      stored.Type,
		Data:      data,
		DeviceID:  stored.DeviceID,
		CreatedAt: time.Unix(0, stored.CreatedAt),
	}
	if stored.ExpiresAt != 0 {
		rec.ExpiresAt = time.Unix(0, stored.ExpiresAt)
	}
	return rec, true, nil
}

// Compile-time assertion that Storage implements domain.KeyStorage.
var _ domain.KeyStorage = (*Storage)(nil)
