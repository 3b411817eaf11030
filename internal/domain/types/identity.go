package types

// Identity holds your long-term X25519 and Ed25519 keys.
//
// The Ed25519 half signs pre-keys; the X25519 half takes part in X3DH.
type Identity struct {
	XPub   X25519Public   `cbor:"1,keyasint" json:"xpub"`
	XPriv  X25519Private  `cbor:"2,keyasint" json:"xpriv"`
	EdPub  Ed25519Public  `cbor:"3,keyasint" json:"edpub"`
	EdPriv Ed25519Private `cbor:"4,keyasint" json:"edpriv"`
}

// Public returns the identity with its private halves cleared.
func (id Identity) Public() Identity {
	return Identity{XPub: id.XPub, EdPub: id.EdPub}
}
