package kdf

import (
	"hash"

	"github.com/pkg/errors"
	"golang.org/x/crypto/pbkdf2"

	"parley/internal/domain"
)

// PBKDF2 is the iterated-hash strategy.
type PBKDF2 struct {
	hash       func() hash.Hash
	hashName   string
	iterations int
	max        int
}

// NewPBKDF2 returns a PBKDF2 strategy with the given hash and iteration count.
func NewPBKDF2(hashName string, iterations int) (*PBKDF2, error) {
	if iterations < 1 {
		return nil, errors.Wrapf(domain.ErrKeyDerivation, "pbkdf2: %d iterations", iterations)
	}
	h, canonical, err := HashFunc(hashName)
	if err != nil {
		return nil, err
	}
	return &PBKDF2{
		hash:       h,
		hashName:   canonical,
		iterations: iterations,
		max:        int(min(uint64(1<<32-1)*uint64(h().Size()), uint64(maxInt))),
	}, nil
}

const maxInt = int(^uint(0) >> 1)

// Name implements Strategy.
func (p *PBKDF2) Name() string { return NamePBKDF2 }

// Iterations returns the configured iteration count.
func (p *PBKDF2) Iterations() int { return p.iterations }

// DeriveKey implements Strategy. ikm is the password; info is appended to salt.
func (p *PBKDF2) DeriveKey(ikm, salt, info []byte, length int) ([]byte, error) {
	if err := checkLength("pbkdf2", length, p.max); err != nil {
		return nil, err
	}
	return pbkdf2.Key(ikm, saltWithInfo(salt, info), p.iterations, length, p.hash), nil
}

var _ Strategy = (*PBKDF2)(nil)
