package domain

import "github.com/pkg/errors"

// Errors shared across packages. Callers branch on them with errors.Is; the
// returned errors usually wrap one of these with more context.
var (
	// ErrKeyDerivation reports unsupported KDF parameters or output lengths.
	ErrKeyDerivation = errors.New("key derivation failed")

	// ErrSignatureVerification aborts a handshake whose signed pre-key does
	// not verify against the publishing identity.
	ErrSignatureVerification = errors.New("signature verification failed")

	// ErrSkippedKeyNotFound means an old message has no cached key left.
	// Only that message is lost; the session stays usable.
	ErrSkippedKeyNotFound = errors.New("skipped message key not found")

	// ErrDecryption reports an authentication failure. The message is dropped.
	ErrDecryption = errors.New("message authentication failed")

	// ErrRatchetNotInitialized reports use of a chain that was never seeded.
	ErrRatchetNotInitialized = errors.New("ratchet chain not initialized")

	// ErrInvalidCredential is returned when storage is unlocked with the
	// wrong secret.
	ErrInvalidCredential = errors.New("invalid credential")

	// ErrSessionNotFound means no handshake has been run with the peer device.
	ErrSessionNotFound = errors.New("session not found")

	// ErrMessageTooLarge is returned for plaintexts the padding cannot frame.
	ErrMessageTooLarge = errors.New("message too large")

	// ErrMaxSkipExceeded rejects headers that would skip too many keys.
	ErrMaxSkipExceeded = errors.New("too many skipped messages")

	// ErrStorageLocked is returned after the storage master key was wiped.
	ErrStorageLocked = errors.New("storage is locked")

	// ErrUnknownStrategy is returned for unknown KDF, hash or cipher names.
	ErrUnknownStrategy = errors.New("unknown strategy")

	// ErrNotFound is returned by lookups that found nothing.
	ErrNotFound = errors.New("not found")
)
