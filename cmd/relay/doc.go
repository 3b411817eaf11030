// Package main runs the in-memory HTTP relay used by parley during development
// and tests. It stores published pre-key bundles and queues encrypted messages
// for recipients until they fetch them.
//
// HTTP API
//
//	PUT /prekey/{user}/{device}
//	    Store a device's PreKeyBundle. The bundle signature is verified and
//	    the path must match the bundle's username and device.
//
//	GET /prekey/{user}/{device}
//	    Return the bundle with at most one one-time pre-key. The returned
//	    one-time pre-key is removed so it is never handed out twice.
//
//	POST /msg/{user}
//	    Enqueue an EncryptedMessage destined to {user}. If Timestamp is zero,
//	    the server fills it with the current Unix time.
//
//	GET /msg/{user}?limit=N
//	    Return up to N queued messages for {user}. A missing or zero limit
//	    returns the whole queue.
//
//	POST /msg/{user}/ack { "count": N }
//	    Drop the first N queued messages for {user}.
//
// Behaviour
//
//   - All state is held in memory and lost on process exit.
//   - Responses are JSON. Unknown users and devices answer 404, bundles
//     with a bad signature 400.
//   - Every request is logged with method, path, status, bytes and duration.
//   - With --metrics-listen the relay serves Prometheus metrics at /metrics.
//
// The relay never sees plaintext or private keys; it only stores ciphertext
// and public bundles.
package main
