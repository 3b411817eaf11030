// Package session establishes and tracks ratchet sessions with peer devices.
//
// Manager runs the X3DH handshake as initiator or responder, seeds the
// Double Ratchet from it and persists the result in a domain.SessionRepository.
// Sessions are addressed by (peer, device) and each has its own lock; Do is
// the single entry point for changing a session and commits atomically.
package session
