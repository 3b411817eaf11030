// Package message encrypts, sends, fetches and decrypts messages.
//
// Every message is sealed by the Double Ratchet of the session with the peer
// device and bound to both endpoints through its associated data. Pre-key
// messages bootstrap the responder's session on first contact.
package message
