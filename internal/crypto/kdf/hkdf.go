package kdf

import (
	"hash"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/crypto/hkdf"

	"parley/internal/domain"
)

// HKDF is the extract-and-expand strategy.
type HKDF struct {
	hash     func() hash.Hash
	hashName string
	max      int
}

// NewHKDF returns an HKDF strategy over the named hash.
func NewHKDF(hashName string) (*HKDF, error) {
	h, canonical, err := HashFunc(hashName)
	if err != nil {
		return nil, err
	}
	return &HKDF{hash: h, hashName: canonical, max: 255 * h().Size()}, nil
}

// Name implements Strategy.
func (h *HKDF) Name() string { return NameHKDF }

// HashName returns the canonical hash name.
func (h *HKDF) HashName() string { return h.hashName }

// DeriveKey implements Strategy. A nil salt means a hash-length zero salt.
func (h *HKDF) DeriveKey(ikm, salt, info []byte, length int) ([]byte, error) {
	if err := checkLength("hkdf", length, h.max); err != nil {
		return nil, err
	}
	out := make([]byte, length)
	if _, err := io.ReadFull(hkdf.New(h.hash, ikm, salt, info), out); err != nil {
		return nil, errors.Wrapf(domain.ErrKeyDerivation, "hkdf: %v", err)
	}
	return out, nil
}

var _ Strategy = (*HKDF)(nil)
