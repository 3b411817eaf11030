package types

// Profile identifies the local account: who we are, which device this is and
// which relay we publish to.
type Profile struct {
	Username Username `cbor:"1,keyasint" json:"username"`
	DeviceID DeviceID `cbor:"2,keyasint" json:"device_id"`
	RelayURL string   `cbor:"3,keyasint" json:"relay_url"`
}
