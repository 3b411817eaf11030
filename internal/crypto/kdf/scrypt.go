package kdf

import (
	"github.com/pkg/errors"
	"golang.org/x/crypto/scrypt"

	"parley/internal/domain"
)

// Tunables for scrypt key derivation.
const (
	DefaultScryptN = 1 << 15
	DefaultScryptR = 8
	DefaultScryptP = 1
)

// Scrypt is a memory-hard password hashing strategy.
type Scrypt struct {
	n, r, p int
}

// NewScrypt returns a scrypt strategy. Zero arguments select defaults.
func NewScrypt(n, r, p int) (*Scrypt, error) {
	if n == 0 {
		n = DefaultScryptN
	}
	if r == 0 {
		r = DefaultScryptR
	}
	if p == 0 {
		p = DefaultScryptP
	}
	if n <= 1 || n&(n-1) != 0 {
		return nil, errors.Wrapf(domain.ErrKeyDerivation, "scrypt: N=%d must be a power of two > 1", n)
	}
	return &Scrypt{n: n, r: r, p: p}, nil
}

// Name implements Strategy.
func (s *Scrypt) Name() string { return NameScrypt }

// DeriveKey implements Strategy.
func (s *Scrypt) DeriveKey(ikm, salt, info []byte, length int) ([]byte, error) {
	if err := checkLength("scrypt", length, 0); err != nil {
		return nil, err
	}
	out, err := scrypt.Key(ikm, saltWithInfo(salt, info), s.n, s.r, s.p, length)
	if err != nil {
		return nil, errors.Wrapf(domain.ErrKeyDerivation, "scrypt: %v", err)
	}
	return out, nil
}

var _ Strategy = (*Scrypt)(nil)
