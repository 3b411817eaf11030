// Package identity manages creation and loading of the local identity.
//
// It generates X25519 and Ed25519 key pairs, persists them via the
// domain.IdentityStore and enforces the passphrase policy applied to new
// storage secrets.
package identity
