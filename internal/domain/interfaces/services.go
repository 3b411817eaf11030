package interfaces

import (
	"context"

	domaintypes "parley/internal/domain/types"
)

// IdentityService creates, retrieves, and inspects your identity keys.
type IdentityService interface {
	GenerateIdentity() (domaintypes.Identity, domaintypes.Fingerprint, error)
	LoadIdentity() (domaintypes.Identity, error)
	FingerprintIdentity() (domaintypes.Fingerprint, error)
}

// PreKeyService generates and assembles your pre-key bundles.
type PreKeyService interface {
	GenerateAndStorePreKeys(count int) (
		domaintypes.X25519Public,
		[]domaintypes.X25519Public,
		error,
	)
	LoadPreKeyBundle(profile domaintypes.Profile) (domaintypes.PreKeyBundle, error)
	PublishPreKeyBundle(ctx context.Context, profile domaintypes.Profile) (domaintypes.PreKeyBundle, error)
}

// SessionService establishes, looks up and tears down ratchet sessions.
type SessionService interface {
	InitiateSession(ctx context.Context, key domaintypes.SessionKey) (domaintypes.Session, error)
	GetSession(ctx context.Context, key domaintypes.SessionKey) (domaintypes.Session, bool, error)
	ListSessions(ctx context.Context) ([]domaintypes.SessionKey, error)
	TeardownSession(ctx context.Context, key domaintypes.SessionKey) error
}

// MessageService encrypts, sends, fetches and decrypts messages.
type MessageService interface {
	Encrypt(
		ctx context.Context,
		to domaintypes.SessionKey,
		plaintext []byte,
	) (domaintypes.EncryptedMessage, error)
	Decrypt(ctx context.Context, msg domaintypes.EncryptedMessage) (domaintypes.DecryptedMessage, error)
	SendMessage(
		ctx context.Context,
		to domaintypes.SessionKey,
		plaintext []byte,
	) (domaintypes.EncryptedMessage, error)
	ReceiveMessages(ctx context.Context, limit int) ([]domaintypes.DecryptedMessage, error)
}
