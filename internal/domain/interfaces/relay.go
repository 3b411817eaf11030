package interfaces

import (
	"context"

	domaintypes "parley/internal/domain/types"
)

// Directory publishes and serves pre-key bundles.
type Directory interface {
	PublishPreKeyBundle(ctx context.Context, bundle domaintypes.PreKeyBundle) error
	FetchPreKeyBundle(
		ctx context.Context,
		username domaintypes.Username,
		device domaintypes.DeviceID,
	) (domaintypes.PreKeyBundle, error)
}

// Transport delivers envelopes. Ordering and reliability are not assumed.
type Transport interface {
	Send(ctx context.Context, msg domaintypes.EncryptedMessage) error
}

// MessageHandler is the onMessage callback a push transport invokes.
type MessageHandler func(ctx context.Context, msg domaintypes.EncryptedMessage) error

// Mailbox is a store-and-forward queue polled by the recipient.
type Mailbox interface {
	FetchMessages(
		ctx context.Context,
		username domaintypes.Username,
		limit int,
	) ([]domaintypes.EncryptedMessage, error)
	AckMessages(ctx context.Context, username domaintypes.Username, count int) error
}
