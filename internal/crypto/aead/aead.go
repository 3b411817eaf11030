// Package aead seals and opens messages and records with an authenticated
// cipher under a fresh random 96-bit nonce.
//
// Two suites are available by name: chacha20-poly1305 (default) and aes-gcm.
// Any authentication failure is reported as domain.ErrDecryption.
package aead

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"

	"parley/internal/domain"
)

const (
	// NonceSize is the IV length of every suite.
	NonceSize = 12
	// TagSize is the authentication tag length of every suite.
	TagSize = 16
)

// Suite names.
const (
	NameChaCha20Poly1305 = "chacha20-poly1305"
	NameAESGCM           = "aes-gcm"
)

// Suite builds an AEAD for a key.
type Suite interface {
	Name() string
	// CheckKeySize reports whether n is a valid key length.
	CheckKeySize(n int) error
	New(key []byte) (cipher.AEAD, error)
}

type chachaSuite struct{}

func (chachaSuite) Name() string { return NameChaCha20Poly1305 }

func (chachaSuite) CheckKeySize(n int) error {
	if n != chacha20poly1305.KeySize {
		return errors.Errorf("%s: key is %d bytes, want %d", NameChaCha20Poly1305, n, chacha20poly1305.KeySize)
	}
	return nil
}

func (chachaSuite) New(key []byte) (cipher.AEAD, error) { return chacha20poly1305.New(key) }

type aesGCMSuite struct{}

func (aesGCMSuite) Name() string { return NameAESGCM }

func (aesGCMSuite) CheckKeySize(n int) error {
	switch n {
	case 16, 24, 32:
		return nil
	}
	return errors.Errorf("%s: key is %d bytes, want 16, 24 or 32", NameAESGCM, n)
}

func (aesGCMSuite) New(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

var (
	// ChaCha20Poly1305 is the default suite.
	ChaCha20Poly1305 Suite = chachaSuite{}
	// AESGCM is AES in Galois/Counter mode.
	AESGCM Suite = aesGCMSuite{}
)

// Lookup returns the suite registered under name. An empty name selects the
// default suite.
func Lookup(name string) (Suite, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", NameChaCha20Poly1305, "chacha20poly1305":
		return ChaCha20Poly1305, nil
	case NameAESGCM, "aes-256-gcm", "aesgcm":
		return AESGCM, nil
	default:
		return nil, errors.Wrapf(domain.ErrUnknownStrategy, "cipher %q", name)
	}
}

// NewIV returns a fresh random nonce.
func NewIV() ([]byte, error) {
	iv := make([]byte, NonceSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, err
	}
	return iv, nil
}

// Seal encrypts plaintext under key with a fresh random IV. The returned
// ciphertext carries the tag as its last TagSize bytes.
func Seal(s Suite, key, plaintext, ad []byte) (iv, ciphertext []byte, err error) {
	if iv, err = NewIV(); err != nil {
		return nil, nil, err
	}
	if ciphertext, err = SealIV(s, key, iv, plaintext, ad); err != nil {
		return nil, nil, err
	}
	return iv, ciphertext, nil
}

// SealIV encrypts plaintext under a caller-chosen IV. Callers use it when the
// IV must be known before sealing, for example because it is part of ad.
// The IV must never repeat for a key.
func SealIV(s Suite, key, iv, plaintext, ad []byte) ([]byte, error) {
	if err := s.CheckKeySize(len(key)); err != nil {
		return nil, err
	}
	if len(iv) != NonceSize {
		return nil, errors.Errorf("%s: iv is %d bytes, want %d", s.Name(), len(iv), NonceSize)
	}
	a, err := s.New(key)
	if err != nil {
		return nil, errors.Wrap(err, s.Name())
	}
	return a.Seal(nil, iv, plaintext, ad), nil
}

// Open authenticates and decrypts ciphertext.
func Open(s Suite, key, iv, ciphertext, ad []byte) ([]byte, error) {
	if err := s.CheckKeySize(len(key)); err != nil {
		return nil, err
	}
	if len(iv) != NonceSize {
		return nil, errors.Wrapf(domain.ErrDecryption, "iv is %d bytes", len(iv))
	}
	if len(ciphertext) < TagSize {
		return nil, errors.Wrap(domain.ErrDecryption, "ciphertext shorter than tag")
	}
	a, err := s.New(key)
	if err != nil {
		return nil, errors.Wrap(err, s.Name())
	}
	pt, err := a.Open(nil, iv, ciphertext, ad)
	if err != nil {
		return nil, errors.Wrap(domain.ErrDecryption, s.Name())
	}
	return pt, nil
}

// SplitTag separates the trailing tag from a sealed ciphertext.
func SplitTag(sealed []byte) (body, tag []byte, err error) {
	if len(sealed) < TagSize {
		return nil, nil, errors.Wrap(domain.ErrDecryption, "ciphertext shorter than tag")
	}
	cut := len(sealed) - TagSize
	return sealed[:cut], sealed[cut:], nil
}

// JoinTag is the inverse of SplitTag.
func JoinTag(body, tag []byte) []byte {
	out := make([]byte, 0, len(body)+len(tag))
	out = append(out, body...)
	return append(out, tag...)
}
