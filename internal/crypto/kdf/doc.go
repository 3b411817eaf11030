// Package kdf defines the key-derivation capability the protocol depends on
// and its interchangeable backends.
//
// Every Strategy is pure and deterministic: the same (ikm, salt, info,
// length) always yields the same length bytes. Unsupported lengths or
// parameters fail with domain.ErrKeyDerivation; output is never truncated or
// padded to fit.
//
// Backends
//
//   - HKDF: RFC 5869 extract-and-expand over a configurable hash.
//   - PBKDF2: iterated HMAC over a configurable hash.
//   - Argon2id and scrypt: memory-hard password hashing, used to derive the
//     storage master key.
//
// The password-based backends have no separate info input, so info is
// appended to the salt to keep context labels distinct.
package kdf
