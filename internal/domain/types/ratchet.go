package types

import "encoding/binary"

// RatchetHeader is sent alongside every ciphertext.
type RatchetHeader struct {
	DiffieHellmanPublicKey X25519Public `cbor:"1,keyasint" json:"dh_pub"`
	MessageIndex           uint32       `cbor:"2,keyasint" json:"n"`
	PreviousChainLength    uint32       `cbor:"3,keyasint" json:"pn"`
	IV                     []byte       `cbor:"4,keyasint" json:"iv"`
}

// Bytes returns the canonical encoding used as associated data:
// dh_pub || be32(n) || be32(pn) || iv.
func (h RatchetHeader) Bytes() []byte {
	out := make([]byte, 0, 32+8+len(h.IV))
	out = append(out, h.DiffieHellmanPublicKey[:]...)
	out = binary.BigEndian.AppendUint32(out, h.MessageIndex)
	out = binary.BigEndian.AppendUint32(out, h.PreviousChainLength)
	return append(out, h.IV...)
}

// SkippedKey is a still-valid message key for a message not yet received.
type SkippedKey struct {
	PeerDiffieHellman X25519Public `cbor:"1,keyasint" json:"peer_dh"`
	MessageIndex      uint32       `cbor:"2,keyasint" json:"n"`
	MessageKey        []byte       `cbor:"3,keyasint" json:"mk"`
	Sequence          uint64       `cbor:"4,keyasint" json:"seq"`
}

// RatchetState contains all fields the Double Ratchet needs to track.
//
// The triple chain keys are empty unless the triple ratchet is enabled.
type RatchetState struct {
	RootKey                 []byte       `cbor:"1,keyasint" json:"root_key"`
	DiffieHellmanSelf       KeyPair      `cbor:"2,keyasint" json:"dh_self"`
	PeerDiffieHellmanPublic X25519Public `cbor:"3,keyasint" json:"peer_dh_pub"`
	SendChainKey            []byte       `cbor:"4,keyasint,omitempty" json:"send_ck,omitempty"`
	ReceiveChainKey         []byte       `cbor:"5,keyasint,omitempty" json:"recv_ck,omitempty"`
	TripleSendChainKey      []byte       `cbor:"6,keyasint,omitempty" json:"send_ckt,omitempty"`
	TripleReceiveChainKey   []byte       `cbor:"7,keyasint,omitempty" json:"recv_ckt,omitempty"`
	SendMessageIndex        uint32       `cbor:"8,keyasint" json:"ns"`
	ReceiveMessageIndex     uint32       `cbor:"9,keyasint" json:"nr"`
	PreviousChainLength     uint32       `cbor:"10,keyasint" json:"pn"`
	SkippedKeys             []SkippedKey `cbor:"11,keyasint,omitempty" json:"skipped_keys,omitempty"`
	SkipSequence            uint64       `cbor:"12,keyasint" json:"skip_seq"`
}
