// Package prekey generates the device's signed pre-key and one-time pre-keys,
// assembles the public bundle from the store and publishes it to a directory.
//
// Every generation rotates the signed pre-key; older ones stay in the store
// until they expire so late handshakes against them still succeed.
package prekey
