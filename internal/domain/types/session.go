package types

import "time"

// HandshakeMode records how many DH outputs went into X3DH.
type HandshakeMode string

const (
	// HandshakeThreeDH was run without a one-time pre-key.
	HandshakeThreeDH HandshakeMode = "3DH"
	// HandshakeFourDH included a one-time pre-key.
	HandshakeFourDH HandshakeMode = "4DH"
)

// Session is the persisted ratchet session with one peer device.
type Session struct {
	Key             SessionKey     `cbor:"1,keyasint" json:"key"`
	PeerIdentityKey X25519Public   `cbor:"2,keyasint" json:"peer_identity_key"`
	PeerSigningKey  Ed25519Public  `cbor:"3,keyasint" json:"peer_signing_key"`
	Mode            HandshakeMode  `cbor:"4,keyasint" json:"mode"`
	Initiator       bool           `cbor:"5,keyasint" json:"initiator"`
	PendingPreKey   *PreKeyMessage `cbor:"6,keyasint,omitempty" json:"pending_pre_key,omitempty"`
	State           RatchetState   `cbor:"7,keyasint" json:"state"`
	CreatedAt       time.Time      `cbor:"8,keyasint" json:"created_at"`
	LastUsed        time.Time      `cbor:"9,keyasint" json:"last_used"`
}
