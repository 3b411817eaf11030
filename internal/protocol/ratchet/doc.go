// Package ratchet implements the Double Ratchet with an optional third chain.
//
// A root key and two message chains (send and receive) evolve per message
// through a kdf.Strategy, so message keys are forward secure. When the peer
// presents a new ratchet public key both sides mix a fresh DH output into the
// root key. With the triple ratchet enabled, a third chain per direction is
// advanced alongside and mixed into every message key.
//
// Out-of-order messages are tolerated through a bounded cache of skipped
// message keys. When the cache is full the key with the smallest counter is
// evicted first.
//
// Concurrency: a Ratchet is NOT safe for concurrent use. Callers must
// serialise access per session.
package ratchet
