package domain

import (
	interfaces "parley/internal/domain/interfaces"
	types "parley/internal/domain/types"
)

// Type aliases expose domain types from the types subpackage for compact imports.
type (
	Username            = types.Username
	DeviceID            = types.DeviceID
	Fingerprint         = types.Fingerprint
	SignedPreKeyID      = types.SignedPreKeyID
	OneTimePreKeyID     = types.OneTimePreKeyID
	MessageID           = types.MessageID
	SessionKey          = types.SessionKey
	X25519Public        = types.X25519Public
	X25519Private       = types.X25519Private
	Ed25519Public       = types.Ed25519Public
	Ed25519Private      = types.Ed25519Private
	KeyPair             = types.KeyPair
	Identity            = types.Identity
	Profile             = types.Profile
	SignedPreKey        = types.SignedPreKey
	OneTimePreKeyPair   = types.OneTimePreKeyPair
	OneTimePreKeyPublic = types.OneTimePreKeyPublic
	PreKeyBundle        = types.PreKeyBundle
	PreKeyMessage       = types.PreKeyMessage
	MessageType         = types.MessageType
	EncryptedMessage    = types.EncryptedMessage
	DecryptedMessage    = types.DecryptedMessage
	RatchetHeader       = types.RatchetHeader
	SkippedKey          = types.SkippedKey
	RatchetState        = types.RatchetState
	HandshakeMode       = types.HandshakeMode
	Session             = types.Session
	KeyType             = types.KeyType
	KeyRecord           = types.KeyRecord
	StoredKeyRecord     = types.StoredKeyRecord
)

const (
	MessageTypeWhisper  = types.MessageTypeWhisper
	MessageTypePreKey   = types.MessageTypePreKey
	HandshakeThreeDH    = types.HandshakeThreeDH
	HandshakeFourDH     = types.HandshakeFourDH
	KeyTypeIdentity     = types.KeyTypeIdentity
	KeyTypePreKey       = types.KeyTypePreKey
	KeyTypeSignedPreKey = types.KeyTypeSignedPreKey
	KeyTypeSession      = types.KeyTypeSession
	KeyTypeProfile      = types.KeyTypeProfile
	KeyTypeMeta         = types.KeyTypeMeta
)

// Interface aliases expose domain interfaces from the interfaces subpackage.
type (
	KeyStorage        = interfaces.KeyStorage
	IdentityStore     = interfaces.IdentityStore
	PreKeyStore       = interfaces.PreKeyStore
	SessionRepository = interfaces.SessionRepository
	ProfileStore      = interfaces.ProfileStore
	Directory         = interfaces.Directory
	Transport         = interfaces.Transport
	Mailbox           = interfaces.Mailbox
	MessageHandler    = interfaces.MessageHandler
	IdentityService   = interfaces.IdentityService
	PreKeyService     = interfaces.PreKeyService
	SessionService    = interfaces.SessionService
	MessageService    = interfaces.MessageService
)
