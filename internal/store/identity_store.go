package store

import (
	"fmt"

	"github.com/pkg/errors"

	"parley/internal/domain"
)

// IdentityStore persists the identity of the local device.
type IdentityStore struct {
	kv     domain.KeyStorage
	device domain.DeviceID
}

// NewIdentityStore returns an IdentityStore for device.
func NewIdentityStore(kv domain.KeyStorage, device domain.DeviceID) *IdentityStore {
	return &IdentityStore{kv: kv, device: device}
}

func (s *IdentityStore) id() string { return fmt.Sprintf("identity-%d", s.device) }

// SaveIdentity writes the identity.
func (s *IdentityStore) SaveIdentity(id domain.Identity) error {
	return save(s.kv, domain.KeyRecord{
		ID:       s.id(),
		Type:     domain.KeyTypeIdentity,
		DeviceID: s.device,
	}, id)
}

// LoadIdentity reads the identity, or domain.ErrNotFound.
func (s *IdentityStore) LoadIdentity() (domain.Identity, error) {
	var id domain.Identity
	ok, err := load(s.kv, s.id(), &id)
	if err != nil {
		return domain.Identity{}, err
	}
	if !ok {
		return domain.Identity{}, errors.Wrap(domain.ErrNotFound, "identity")
	}
	return id, nil
}

// Compile-time assertion that IdentityStore implements domain.IdentityStore.
var _ domain.IdentityStore = (*IdentityStore)(nil)
