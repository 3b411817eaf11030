package types

// MessageType tells the receiver whether a message bootstraps a session.
type MessageType int

const (
	// MessageTypeWhisper is an ordinary ratchet message.
	MessageTypeWhisper MessageType = 1
	// MessageTypePreKey carries a PreKeyMessage for session bootstrap.
	MessageTypePreKey MessageType = 3
)

// String returns a short name for logs.
func (t MessageType) String() string {
	switch t {
	case MessageTypeWhisper:
		return "whisper"
	case MessageTypePreKey:
		return "prekey"
	default:
		return "unknown"
	}
}

// EncryptedMessage is the wire-format envelope exchanged through the transport.
// Byte slices are base64-encoded automatically by encoding/json.
type EncryptedMessage struct {
	ID           MessageID      `json:"id"`
	SenderID     Username       `json:"sender_id"`
	SenderDevice DeviceID       `json:"sender_device_id"`
	RecipientID  Username       `json:"recipient_id"`
	DeviceID     DeviceID       `json:"device_id"`
	Type         MessageType    `json:"message_type"`
	Header       RatchetHeader  `json:"header"`
	Ciphertext   []byte         `json:"ciphertext"`
	PreKey       *PreKeyMessage `json:"pre_key,omitempty"`
	Timestamp    int64          `json:"timestamp"`
	IsDummy      bool           `json:"is_dummy,omitempty"`
}

// SessionKey returns the key of the sender's session as seen by the recipient.
func (m EncryptedMessage) SessionKey() SessionKey {
	return SessionKey{Peer: m.SenderID, Device: m.SenderDevice}
}

// DecryptedMessage is what MessageService returns after a successful decrypt.
type DecryptedMessage struct {
	ID           MessageID `json:"id"`
	SenderID     Username  `json:"sender_id"`
	SenderDevice DeviceID  `json:"sender_device_id"`
	RecipientID  Username  `json:"recipient_id"`
	Plaintext    []byte    `json:"plaintext"`
	Timestamp    int64     `json:"timestamp"`
}
