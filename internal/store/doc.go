// Package store provides encrypted persistence for parley's key material.
//
// Storage seals every record under a master key derived from the user secret
// through a kdf.Strategy. Each record gets a fresh IV and is bound to its id
// as associated data, so a ciphertext moved under another id fails to open.
// A SHA-256 verifier of the master key detects a wrong secret on Open.
//
// Records sit on a Backend:
//   - BoltBackend (bbolt): records plus type, device and expiry index buckets
//   - LevelBackend (goleveldb): prefixed keys written in batches; also used
//     in memory through NewMemoryBackend
//
// Typed stores build on Storage:
//   - IdentityStore: identity-<device>
//   - PreKeyStore: signed-prekey-<device>-<id>, prekey-<device>-<id>
//   - SessionStore: session-<peer>-<device>
//   - ProfileStore: profile
//
// All types are safe for concurrent use.
package store
