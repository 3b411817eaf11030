// Package crypto exposes the asymmetric primitives used by Parley.
//
// Contents
//
//   - X25519 key generation, clamping and Diffie–Hellman (GenerateX25519,
//     NewKeyPair, PublicX25519, DH)
//   - Ed25519 key generation, signing and verification (GenerateEd25519,
//     SignEd25519, VerifyEd25519) and identity creation (NewIdentity)
//   - Short public-key fingerprints for display/logging (Fingerprint)
//
// Symmetric pieces live in the kdf, aead and padding subpackages.
//
// # Notes
//
// All functions return fixed-size array types defined in internal/domain to
// avoid accidental reallocations. Callers should treat returned secrets as
// sensitive and wipe them with memzero.Zero when practical.
package crypto
