package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"

	"parley/internal/domain"
)

// Default pre-key lifetimes.
const (
	DefaultSignedPreKeyTTL  = 7 * 24 * time.Hour
	DefaultOneTimePreKeyTTL = 30 * 24 * time.Hour
)

// PreKeyStore persists signed and one-time pre-keys of the local device.
// Signed pre-keys and one-time pre-keys expire after their TTL.
type PreKeyStore struct {
	kv         domain.KeyStorage
	device     domain.DeviceID
	signedTTL  time.Duration
	oneTimeTTL time.Duration
	now        func() time.Time

	mu sync.Mutex // serialises ConsumeOneTimePreKey
}

// NewPreKeyStore returns a PreKeyStore for device. A zero TTL selects the
// default.
func NewPreKeyStore(kv domain.KeyStorage, device domain.DeviceID, signedTTL, oneTimeTTL time.Duration) *PreKeyStore {
	if signedTTL <= 0 {
		signedTTL = DefaultSignedPreKeyTTL
	}
	if oneTimeTTL <= 0 {
		oneTimeTTL = DefaultOneTimePreKeyTTL
	}
	return &PreKeyStore{
		kv:         kv,
		device:     device,
		signedTTL:  signedTTL,
		oneTimeTTL: oneTimeTTL,
		now:        time.Now,
	}
}

func (s *PreKeyStore) signedID(id domain.SignedPreKeyID) string {
	return fmt.Sprintf("signed-prekey-%d-%s", s.device, id)
}

func (s *PreKeyStore) oneTimeID(id domain.OneTimePreKeyID) string {
	return fmt.Sprintf("prekey-%d-%s", s.device, id)
}

func (s *PreKeyStore) currentID() string {
	return fmt.Sprintf("signed-prekey-current-%d", s.device)
}

// SaveSignedPreKey stores a signed pre-key.
func (s *PreKeyStore) SaveSignedPreKey(spk domain.SignedPreKey) error {
	created := spk.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	return save(s.kv, domain.KeyRecord{
		ID:        s.signedID(spk.ID),
		Type:      domain.KeyTypeSignedPreKey,
		DeviceID:  s.device,
		CreatedAt: created,
		ExpiresAt: created.Add(s.signedTTL),
	}, spk)
}

// LoadSignedPreKey retrieves a signed pre-key by id.
func (s *PreKeyStore) LoadSignedPreKey(id domain.SignedPreKeyID) (domain.SignedPreKey, bool, error) {
	var spk domain.SignedPreKey
	ok, err := load(s.kv, s.signedID(id), &spk)
	return spk, ok, err
}

// SaveOneTimePreKeys stores the given one-time pre-key pairs. Pairs without
// a creation time are stamped now; the others keep their original expiry.
func (s *PreKeyStore) SaveOneTimePreKeys(pairs []domain.OneTimePreKeyPair) error {
	now := s.now()
	for _, p := range pairs {
		if p.CreatedAt.IsZero() {
			p.CreatedAt = now
		}
		err := save(s.kv, domain.KeyRecord{
			ID:        s.oneTimeID(p.ID),
			Type:      domain.KeyTypePreKey,
			DeviceID:  s.device,
			CreatedAt: p.CreatedAt,
			ExpiresAt: p.CreatedAt.Add(s.oneTimeTTL),
		}, p)
		if err != nil {
			return err
		}
	}
	return nil
}

// ConsumeOneTimePreKey removes and returns a single one-time pre-key.
func (s *PreKeyStore) ConsumeOneTimePreKey(id domain.OneTimePreKeyID) (domain.OneTimePreKeyPair, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var p domain.OneTimePreKeyPair
	ok, err := load(s.kv, s.oneTimeID(id), &p)
	if err != nil || !ok {
		return domain.OneTimePreKeyPair{}, false, err
	}
	if err := s.kv.Delete(s.oneTimeID(id)); err != nil {
		return domain.OneTimePreKeyPair{}, false, err
	}
	return p, true, nil
}

// ListOneTimePreKeyPublics returns the public halves of the live one-time
// pre-keys, ordered by id.
func (s *PreKeyStore) ListOneTimePreKeyPublics() ([]domain.OneTimePreKeyPublic, error) {
	recs, err := s.kv.ListByType(domain.KeyTypePreKey)
	if err != nil {
		return nil, err
	}
	out := make([]domain.OneTimePreKeyPublic, 0, len(recs))
	for _, rec := range recs {
		if rec.DeviceID != s.device {
			continue
		}
		var p domain.OneTimePreKeyPair
		if err := cbor.Unmarshal(rec.Data, &p); err != nil {
			return nil, errors.Wrapf(err, "decode %s", rec.ID)
		}
		out = append(out, domain.OneTimePreKeyPublic{ID: p.ID, Pub: p.Pub})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SetCurrentSignedPreKeyID records which signed pre-key is current.
func (s *PreKeyStore) SetCurrentSignedPreKeyID(id domain.SignedPreKeyID) error {
	return save(s.kv, domain.KeyRecord{
		ID:       s.currentID(),
		Type:     domain.KeyTypeMeta,
		DeviceID: s.device,
	}, id)
}

// CurrentSignedPreKeyID returns the current signed pre-key id.
func (s *PreKeyStore) CurrentSignedPreKeyID() (domain.SignedPreKeyID, bool, error) {
	var id domain.SignedPreKeyID
	ok, err := load(s.kv, s.currentID(), &id)
	if err != nil || !ok || id == "" {
		return "", false, err
	}
	return id, true, nil
}

// Compile-time assertion that PreKeyStore implements domain.PreKeyStore.
var _ domain.PreKeyStore = (*PreKeyStore)(nil)
