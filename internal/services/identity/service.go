package identity

import (
	"unicode"

	"github.com/pkg/errors"

	"parley/internal/crypto"
	"parley/internal/domain"
)

const (
	// minPassphraseLength defines the minimum number of characters required for a passphrase.
	minPassphraseLength = 12
)

var (
	// ErrWeakPassphrase is returned when the passphrase fails the strength policy.
	ErrWeakPassphrase = errors.Errorf(
		"passphrase is too weak (must be at least %d characters and include upper, lower, "+
			"number, and symbol)",
		minPassphraseLength,
	)
)

// Service manages identity key creation and access using a backing store.
//
// The identity contains:
//   - X25519 key pair for Diffie-Hellman (X3DH and Double Ratchet).
//   - Ed25519 key pair for signing (for example, signing the Signed Pre-Key).
//
// The store is expected to be unlocked already; the storage secret is
// checked once, when the storage is opened.
type Service struct {
	store domain.IdentityStore
}

// New returns an identity service backed by the given store.
func New(s domain.IdentityStore) *Service { return &Service{store: s} }

// GenerateIdentity creates a new identity, saves it and returns it plus a
// short fingerprint of the X25519 public key.
func (s *Service) GenerateIdentity() (domain.Identity, domain.Fingerprint, error) {
	id, err := crypto.NewIdentity()
	if err != nil {
		return domain.Identity{}, "", errors.Wrap(err, "generate identity")
	}
	if err := s.store.SaveIdentity(id); err != nil {
		return domain.Identity{}, "", err
	}
	return id, crypto.Fingerprint(id.XPub.Slice()), nil
}

// LoadIdentity returns the local identity.
func (s *Service) LoadIdentity() (domain.Identity, error) {
	return s.store.LoadIdentity()
}

// FingerprintIdentity returns a short fingerprint of the local X25519 public key.
func (s *Service) FingerprintIdentity() (domain.Fingerprint, error) {
	id, err := s.store.LoadIdentity()
	if err != nil {
		return "", err
	}
	return crypto.Fingerprint(id.XPub.Slice()), nil
}

// CheckPassphrase enforces the strength policy on a new storage secret.
func CheckPassphrase(passphrase string) error {
	if !isSecurePassphrase(passphrase) {
		return ErrWeakPassphrase
	}
	return nil
}

// isSecurePassphrase enforces a basic strength policy.
func isSecurePassphrase(passphrase string) bool {
	var hasUpper, hasLower, hasDigit, hasSymbol bool
	if len([]rune(passphrase)) < minPassphraseLength {
		return false
	}
	for _, r := range passphrase {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r), unicode.IsSymbol(r):
			hasSymbol = true
		}
	}
	return hasUpper && hasLower && hasDigit && hasSymbol
}

// Compile-time assertion that Service implements domain.IdentityService.
var _ domain.IdentityService = (*Service)(nil)
