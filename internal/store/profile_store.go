package store

import (
	"parley/internal/domain"
)

const profileID = "profile"

// ProfileStore persists the local account profile.
type ProfileStore struct {
	kv domain.KeyStorage
}

// NewProfileStore returns a ProfileStore.
func NewProfileStore(kv domain.KeyStorage) *ProfileStore {
	return &ProfileStore{kv: kv}
}

// SaveProfile stores or replaces the profile.
func (s *ProfileStore) SaveProfile(p domain.Profile) error {
	return save(s.kv, domain.KeyRecord{
		ID:       profileID,
		Type:     domain.KeyTypeProfile,
		DeviceID: p.DeviceID,
	}, p)
}

// LoadProfile retrieves the profile.
func (s *ProfileStore) LoadProfile() (domain.Profile, bool, error) {
	var p domain.Profile
	ok, err := load(s.kv, profileID, &p)
	return p, ok, err
}

// Compile-time assertion that ProfileStore implements domain.ProfileStore.
var _ domain.ProfileStore = (*ProfileStore)(nil)
