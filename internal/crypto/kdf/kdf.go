package kdf

import (
	"strings"

	"github.com/pkg/errors"

	"parley/internal/domain"
)

// Strategy derives fixed-length key material.
type Strategy interface {
	// Name returns the registry name of the strategy.
	Name() string
	// DeriveKey returns exactly length bytes derived from ikm, salt and info.
	DeriveKey(ikm, salt, info []byte, length int) ([]byte, error)
}

// Registry names.
const (
	NameHKDF     = "HKDF"
	NamePBKDF2   = "PBKDF2"
	NameArgon2id = "ARGON2ID"
	NameScrypt   = "SCRYPT"
)

// Params configures a strategy built by New. Fields irrelevant to the chosen
// strategy are ignored.
type Params struct {
	Hash       string // HKDF, PBKDF2
	Iterations int    // PBKDF2 iterations, Argon2id passes

	MemoryKiB uint32 // Argon2id
	Threads   uint8  // Argon2id

	N, R, P int // scrypt
}

// New builds the strategy registered under name (case-insensitive).
func New(name string, p Params) (Strategy, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case NameHKDF:
		return NewHKDF(p.Hash)
	case NamePBKDF2:
		return NewPBKDF2(p.Hash, p.Iterations)
	case NameArgon2id:
		return NewArgon2id(uint32(p.Iterations), p.MemoryKiB, p.Threads)
	case NameScrypt:
		return NewScrypt(p.N, p.R, p.P)
	default:
		return nil, errors.Wrapf(domain.ErrUnknownStrategy, "kdf %q", name)
	}
}

// Names lists the registered strategy names.
func Names() []string {
	return []string{NameHKDF, NamePBKDF2, NameArgon2id, NameScrypt}
}

func checkLength(name string, length, max int) error {
	if length <= 0 || (max > 0 && length > max) {
		return errors.Wrapf(domain.ErrKeyDerivation, "%s: output length %d unsupported", name, length)
	}
	return nil
}

// saltWithInfo returns salt || info in a fresh slice.
func saltWithInfo(salt, info []byte) []byte {
	out := make([]byte, 0, len(salt)+len(info))
	out = append(out, salt...)
	return append(out, info...)
}
