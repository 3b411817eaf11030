package kdf

import (
	"github.com/pkg/errors"
	"golang.org/x/crypto/argon2"

	"parley/internal/domain"
)

// Default Argon2id cost, matching the parameters used for key-encryption keys.
const (
	DefaultArgon2Time      = 1
	DefaultArgon2MemoryKiB = 64 * 1024
	DefaultArgon2Threads   = 4
)

// Argon2id is a memory-hard password hashing strategy.
type Argon2id struct {
	time, memory uint32
	threads      uint8
}

// NewArgon2id returns an Argon2id strategy. Zero arguments select defaults.
func NewArgon2id(time, memoryKiB uint32, threads uint8) (*Argon2id, error) {
	if time == 0 {
		time = DefaultArgon2Time
	}
	if memoryKiB == 0 {
		memoryKiB = DefaultArgon2MemoryKiB
	}
	if threads == 0 {
		threads = DefaultArgon2Threads
	}
	return &Argon2id{time: time, memory: memoryKiB, threads: threads}, nil
}

// Name implements Strategy.
func (a *Argon2id) Name() string { return NameArgon2id }

// DeriveKey implements Strategy. Argon2 tags shorter than 4 bytes are invalid.
func (a *Argon2id) DeriveKey(ikm, salt, info []byte, length int) ([]byte, error) {
	if length < 4 || uint64(length) > 1<<32-1 {
		return nil, errors.Wrapf(domain.ErrKeyDerivation, "argon2id: output length %d unsupported", length)
	}
	return argon2.IDKey(ikm, saltWithInfo(salt, info), a.time, a.memory, a.threads, uint32(length)), nil
}

var _ Strategy = (*Argon2id)(nil)
