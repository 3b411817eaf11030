// Package x3dh implements the X3DH key agreement used to bootstrap a Double
// Ratchet session between two devices.
//
// # Overview
//
// A responder publishes a pre-key bundle:
//   - Identity key (X25519) and signing key (Ed25519)
//   - Signed pre-key (X25519) and its Ed25519 signature
//   - Optional one-time pre-keys (X25519)
//
// Both sides feed the same DH transcript through a kdf.Strategy with a zero
// salt and the "ParleyX3DH" label and split the 64-byte output into a root key
// and an initial chain key.
//
// # Flows
//
// Initiator:
//  1. Verify the signed pre-key signature.
//  2. Generate an ephemeral X25519 key pair.
//  3. Compute DH(EKa, SPKb) || DH(IKa, SPKb) || DH(EKa, IKb) [|| DH(EKa, OPKb)].
//  4. Derive the root key and chain key.
//  5. Attach the resulting PreKeyMessage to messages until the peer replies.
//
// Responder:
//  1. Re-verify its own signed pre-key.
//  2. Look up the signed pre-key and consume the one-time pre-key named by
//     the PreKeyMessage.
//  3. Compute the mirrored transcript and derive the same keys.
//
// # Errors
//
// domain.ErrSignatureVerification aborts the handshake. domain.ErrNotFound is
// returned when the pre-keys named by a message are not the ones supplied.
//
// # Notes
//
// Without a one-time pre-key the handshake runs in 3-DH mode; Result.Mode
// tells callers which mode was used.
package x3dh
