package types

import (
	"fmt"
	"strconv"
)

// Username represents a directory-registered identity.
type Username string

// String returns the string form of the username.
func (u Username) String() string { return string(u) }

// DeviceID distinguishes the devices of one user.
type DeviceID uint32

// String returns the decimal form of the device id.
func (d DeviceID) String() string { return strconv.FormatUint(uint64(d), 10) }

// Fingerprint is a short identifier for public keys presented to users.
type Fingerprint string

// String returns the string form of the fingerprint.
func (f Fingerprint) String() string { return string(f) }

// SignedPreKeyID uniquely identifies a signed pre-key.
type SignedPreKeyID string

// String returns the string form of the identifier.
func (id SignedPreKeyID) String() string { return string(id) }

// OneTimePreKeyID uniquely identifies a one-time pre-key.
type OneTimePreKeyID string

// String returns the string form of the identifier.
func (id OneTimePreKeyID) String() string { return string(id) }

// MessageID identifies an EncryptedMessage on the wire.
type MessageID string

// String returns the string form of the message identifier.
func (id MessageID) String() string { return string(id) }

// SessionKey addresses one ratchet session: a peer user on one of their devices.
type SessionKey struct {
	Peer   Username `cbor:"1,keyasint" json:"peer"`
	Device DeviceID `cbor:"2,keyasint" json:"device"`
}

// String returns "peer-device", the form used in storage record ids.
func (k SessionKey) String() string { return fmt.Sprintf("%s-%d", k.Peer, k.Device) }
