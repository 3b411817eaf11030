package kdf

import (
	"crypto/sha256"
	"crypto/sha512"
	"hash"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/crypto/sha3"

	"parley/internal/domain"
)

// Hash names accepted by HKDF and PBKDF2.
const (
	HashSHA256   = "SHA-256"
	HashSHA512   = "SHA-512"
	HashSHA3_256 = "SHA3-256"
)

// HashFunc resolves a hash by name. An empty name selects SHA-256.
func HashFunc(name string) (func() hash.Hash, string, error) {
	switch strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(name), "_", "-")) {
	case "", HashSHA256, "SHA256":
		return sha256.New, HashSHA256, nil
	case HashSHA512, "SHA512":
		return sha512.New, HashSHA512, nil
	case HashSHA3_256, "SHA3256":
		return sha3.New256, HashSHA3_256, nil
	default:
		return nil, "", errors.Wrapf(domain.ErrUnknownStrategy, "hash %q", name)
	}
}
