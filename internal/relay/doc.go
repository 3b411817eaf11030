// Package relay connects parley clients through an untrusted middleman.
//
// The relay stores published pre-key bundles and queues encrypted messages
// for recipients until they fetch and acknowledge them. It never sees
// plaintext or private keys.
//
// HTTP is the client used against a remote relay. It retries network errors
// and 5xx responses with exponential backoff and maps 404 to
// domain.ErrNotFound. Server is the matching handler run by cmd/relay.
//
// MemoryDirectory and Bus are in-process implementations of the same roles.
// Server is built on them, and tests use them to connect several clients
// without a network.
package relay
