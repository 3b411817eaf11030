package types

import "time"

// SignedPreKey is the full (private+public) signed pre-key stored locally.
type SignedPreKey struct {
	ID        SignedPreKeyID `cbor:"1,keyasint" json:"id"`
	Pair      KeyPair        `cbor:"2,keyasint" json:"pair"`
	Signature []byte         `cbor:"3,keyasint" json:"signature"`
	CreatedAt time.Time      `cbor:"4,keyasint" json:"created_at"`
}

// OneTimePreKeyPair is the full (private+public) one-time pre-key stored locally.
type OneTimePreKeyPair struct {
	ID   OneTimePreKeyID `cbor:"1,keyasint" json:"id"`
	Priv X25519Private   `cbor:"2,keyasint" json:"priv"`
	Pub  X25519Public    `cbor:"3,keyasint" json:"pub"`
	// CreatedAt fixes the expiry; a pre-key put back after a failed
	// handshake keeps it.
	CreatedAt time.Time `cbor:"4,keyasint" json:"created_at"`
}

// OneTimePreKeyPublic is only the public half (sent in bundles).
type OneTimePreKeyPublic struct {
	ID  OneTimePreKeyID `json:"id"`
	Pub X25519Public    `json:"pub"`
}

// PreKeyBundle is the set of public keys a device publishes to the directory.
//
// A bundle handed to an initiator carries at most one one-time pre-key; the
// directory removes it once served. A bundle being published may carry many.
type PreKeyBundle struct {
	Username              Username              `json:"username"`
	DeviceID              DeviceID              `json:"device_id"`
	IdentityKey           X25519Public          `json:"identity_key"`
	SigningKey            Ed25519Public         `json:"signing_key"`
	SignedPreKeyID        SignedPreKeyID        `json:"signed_pre_key_id"`
	SignedPreKey          X25519Public          `json:"signed_pre_key"`
	SignedPreKeySignature []byte                `json:"signed_pre_key_signature"`
	OneTimePreKeys        []OneTimePreKeyPublic `json:"one_time_pre_keys,omitempty"`
	CreatedAt             int64                 `json:"created_at"`
}

// PreKeyMessage carries the X3DH handshake parameters in the initiator's
// messages until the responder answers.
type PreKeyMessage struct {
	InitiatorIdentityKey X25519Public    `cbor:"1,keyasint" json:"initiator_identity_key"`
	InitiatorSigningKey  Ed25519Public   `cbor:"2,keyasint" json:"initiator_signing_key"`
	EphemeralKey         X25519Public    `cbor:"3,keyasint" json:"ephemeral_key"`
	SignedPreKeyID       SignedPreKeyID  `cbor:"4,keyasint" json:"signed_pre_key_id"`
	OneTimePreKeyID      OneTimePreKeyID `cbor:"5,keyasint" json:"one_time_pre_key_id,omitempty"`
}
