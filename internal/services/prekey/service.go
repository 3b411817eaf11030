package prekey

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"parley/internal/crypto"
	"parley/internal/domain"
)

// ErrNoSignedPreKey is returned when no current signed pre-key exists yet.
var ErrNoSignedPreKey = errors.Wrap(domain.ErrNotFound, "no signed prekey available")

// Service manages prekey pairs and builds the public bundle.
type Service struct {
	ids domain.IdentityStore
	ps  domain.PreKeyStore
	dir domain.Directory
	now func() time.Time
}

// New returns a prekey service. dir may be nil when bundles are never
// published from this process.
func New(ids domain.IdentityStore, ps domain.PreKeyStore, dir domain.Directory) *Service {
	return &Service{ids: ids, ps: ps, dir: dir, now: time.Now}
}

// GenerateAndStorePreKeys creates a signed-prekey pair and n one-time pairs.
// It also marks the new signed-prekey as current.
func (s *Service) GenerateAndStorePreKeys(n int) (domain.X25519Public, []domain.X25519Public, error) {
	if n < 0 {
		return domain.X25519Public{}, nil, errors.Errorf("negative one-time prekey count %d", n)
	}
	id, err := s.ids.LoadIdentity()
	if err != nil {
		return domain.X25519Public{}, nil, err
	}
	now := s.now()

	// Signed prekey
	pair, err := crypto.NewKeyPair()
	if err != nil {
		return domain.X25519Public{}, nil, err
	}
	spk := domain.SignedPreKey{
		ID:        domain.SignedPreKeyID(fmt.Sprintf("spk-%d", now.UnixNano())),
		Pair:      pair,
		Signature: crypto.SignEd25519(id.EdPriv, pair.Pub[:]),
		CreatedAt: now,
	}
	if err := s.ps.SaveSignedPreKey(spk); err != nil {
		return domain.X25519Public{}, nil, err
	}
	if err := s.ps.SetCurrentSignedPreKeyID(spk.ID); err != nil {
		return domain.X25519Public{}, nil, err
	}

	// One-time prekeys
	pairs := make([]domain.OneTimePreKeyPair, 0, n)
	publics := make([]domain.X25519Public, 0, n)
	for i := 0; i < n; i++ {
		priv, pub, err := crypto.GenerateX25519()
		if err != nil {
			return domain.X25519Public{}, nil, err
		}
		opkID := domain.OneTimePreKeyID(fmt.Sprintf("opk-%d-%d", now.UnixNano(), i))
		pairs = append(pairs, domain.OneTimePreKeyPair{ID: opkID, Priv: priv, Pub: pub})
		publics = append(publics, pub)
	}
	if err := s.ps.SaveOneTimePreKeys(pairs); err != nil {
		return domain.X25519Public{}, nil, err
	}
	return spk.Pair.Pub, publics, nil
}

// LoadPreKeyBundle builds the public bundle from the current signed-prekey and
// the remaining one-time prekeys.
func (s *Service) LoadPreKeyBundle(profile domain.Profile) (domain.PreKeyBundle, error) {
	id, err := s.ids.LoadIdentity()
	if err != nil {
		return domain.PreKeyBundle{}, err
	}

	spkID, ok, err := s.ps.CurrentSignedPreKeyID()
	if err != nil {
		return domain.PreKeyBundle{}, err
	}
	if !ok {
		return domain.PreKeyBundle{}, ErrNoSignedPreKey
	}
	spk, found, err := s.ps.LoadSignedPreKey(spkID)
	if err != nil {
		return domain.PreKeyBundle{}, err
	}
	if !found {
		// The current pointer outlived an expired signed prekey.
		return domain.PreKeyBundle{}, ErrNoSignedPreKey
	}

	oneTime, err := s.ps.ListOneTimePreKeyPublics()
	if err != nil {
		return domain.PreKeyBundle{}, err
	}

	return domain.PreKeyBundle{
		Username:              profile.Username,
		DeviceID:              profile.DeviceID,
		IdentityKey:           id.XPub,
		SigningKey:            id.EdPub,
		SignedPreKeyID:        spk.ID,
		SignedPreKey:          spk.Pair.Pub,
		SignedPreKeySignature: spk.Signature,
		OneTimePreKeys:        oneTime,
		CreatedAt:             s.now().Unix(),
	}, nil
}

// PublishPreKeyBundle builds the bundle and uploads it to the directory.
func (s *Service) PublishPreKeyBundle(ctx context.Context, profile domain.Profile) (domain.PreKeyBundle, error) {
	if s.dir == nil {
		return domain.PreKeyBundle{}, errors.New("no directory configured")
	}
	b, err := s.LoadPreKeyBundle(profile)
	if err != nil {
		return domain.PreKeyBundle{}, err
	}
	if err := s.dir.PublishPreKeyBundle(ctx, b); err != nil {
		return domain.PreKeyBundle{}, errors.Wrap(err, "publish prekey bundle")
	}
	return b, nil
}

// Compile-time assertion that Service implements domain.PreKeyService.
var _ domain.PreKeyService = (*Service)(nil)
