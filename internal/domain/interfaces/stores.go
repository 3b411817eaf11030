package interfaces

import (
	"context"
	"time"

	domaintypes "parley/internal/domain/types"
)

// KeyStorage is the encrypted key-value store every typed store builds on.
// Records are encrypted on write and decrypted on read; expired records read
// as absent.
type KeyStorage interface {
	Store(record domaintypes.KeyRecord) error
	Get(id string) (domaintypes.KeyRecord, bool, error)
	Delete(id string) error
	Clear() error
	SweepExpired(now time.Time) (int, error)
	ListByType(keyType domaintypes.KeyType) ([]domaintypes.KeyRecord, error)
	ListByDevice(device domaintypes.DeviceID) ([]domaintypes.KeyRecord, error)
}

// IdentityStore persists the long-term identity of the local device.
type IdentityStore interface {
	SaveIdentity(id domaintypes.Identity) error
	LoadIdentity() (domaintypes.Identity, error)
}

// PreKeyStore manages signed and one-time pre-keys of the local device.
type PreKeyStore interface {
	// Signed pre-key
	SaveSignedPreKey(spk domaintypes.SignedPreKey) error
	LoadSignedPreKey(id domaintypes.SignedPreKeyID) (domaintypes.SignedPreKey, bool, error)

	// One-time pre-keys
	SaveOneTimePreKeys(pairs []domaintypes.OneTimePreKeyPair) error
	ConsumeOneTimePreKey(id domaintypes.OneTimePreKeyID) (domaintypes.OneTimePreKeyPair, bool, error)
	ListOneTimePreKeyPublics() ([]domaintypes.OneTimePreKeyPublic, error)

	// Current signed pre-key selection
	SetCurrentSignedPreKeyID(id domaintypes.SignedPreKeyID) error
	CurrentSignedPreKeyID() (domaintypes.SignedPreKeyID, bool, error)
}

// SessionRepository persists ratchet sessions keyed by (peer, device).
type SessionRepository interface {
	LoadSession(ctx context.Context, key domaintypes.SessionKey) (domaintypes.Session, bool, error)
	SaveSession(ctx context.Context, session domaintypes.Session) error
	DeleteSession(ctx context.Context, key domaintypes.SessionKey) error
	ListSessions(ctx context.Context) ([]domaintypes.SessionKey, error)
}

// ProfileStore persists the local account profile.
type ProfileStore interface {
	SaveProfile(profile domaintypes.Profile) error
	LoadProfile() (domaintypes.Profile, bool, error)
}
