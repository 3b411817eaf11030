package types

import "time"

// KeyType tags what a stored record holds.
type KeyType string

const (
	KeyTypeIdentity     KeyType = "identity"
	KeyTypePreKey       KeyType = "prekey"
	KeyTypeSignedPreKey KeyType = "signed-prekey"
	KeyTypeSession      KeyType = "session"
	KeyTypeProfile      KeyType = "profile"
	KeyTypeMeta         KeyType = "meta"
)

// KeyRecord is the plaintext view of a stored record.
type KeyRecord struct {
	ID        string
	Type      KeyType
	Data      []byte
	DeviceID  DeviceID
	CreatedAt time.Time
	ExpiresAt time.Time // zero means no expiry
}

// Expired reports whether the record has expired at now.
func (r KeyRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// StoredKeyRecord is the encrypted-at-rest form of a KeyRecord. Times are
// Unix nanoseconds.
type StoredKeyRecord struct {
	ID         string   `cbor:"1,keyasint"`
	Type       KeyType  `cbor:"2,keyasint"`
	Ciphertext []byte   `cbor:"3,keyasint"`
	IV         []byte   `cbor:"4,keyasint"`
	Tag        []byte   `cbor:"5,keyasint"`
	DeviceID   DeviceID `cbor:"6,keyasint"`
	CreatedAt  int64    `cbor:"7,keyasint"`
	ExpiresAt  int64    `cbor:"8,keyasint,omitempty"`
}
