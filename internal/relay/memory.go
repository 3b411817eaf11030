package relay

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"parley/internal/domain"
	"parley/internal/protocol/x3dh"
)

// MemoryDirectory is an in-process pre-key directory. Published bundles are
// verified; each fetch hands out and removes at most one one-time pre-key.
type MemoryDirectory struct {
	mu      sync.Mutex
	bundles map[domain.SessionKey]domain.PreKeyBundle
}

// NewMemoryDirectory returns an empty directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{bundles: make(map[domain.SessionKey]domain.PreKeyBundle)}
}

// PublishPreKeyBundle stores b, replacing any bundle of the same device.
func (d *MemoryDirectory) PublishPreKeyBundle(ctx context.Context, b domain.PreKeyBundle) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.Username == "" {
		return errors.New("bundle without username")
	}
	if err := x3dh.VerifyBundle(b); err != nil {
		return err
	}
	b.OneTimePreKeys = append([]domain.OneTimePreKeyPublic(nil), b.OneTimePreKeys...)
	d.mu.Lock()
	d.bundles[domain.SessionKey{Peer: b.Username, Device: b.DeviceID}] = b
	d.mu.Unlock()
	return nil
}

// FetchPreKeyBundle returns the bundle of a device with its first remaining
// one-time pre-key, which is removed.
func (d *MemoryDirectory) FetchPreKeyBundle(
	ctx context.Context,
	user domain.Username,
	device domain.DeviceID,
) (domain.PreKeyBundle, error) {
	if err := ctx.Err(); err != nil {
		return domain.PreKeyBundle{}, err
	}
	key := domain.SessionKey{Peer: user, Device: device}
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.bundles[key]
	if !ok {
		return domain.PreKeyBundle{}, errors.Wrapf(domain.ErrNotFound, "prekey bundle %s", key)
	}
	out := b
	out.OneTimePreKeys = nil
	if len(b.OneTimePreKeys) > 0 {
		out.OneTimePreKeys = []domain.OneTimePreKeyPublic{b.OneTimePreKeys[0]}
		b.OneTimePreKeys = b.OneTimePreKeys[1:]
		d.bundles[key] = b
	}
	return out, nil
}

// Remaining reports how many one-time pre-keys a device has left.
func (d *MemoryDirectory) Remaining(user domain.Username, device domain.DeviceID) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.bundles[domain.SessionKey{Peer: user, Device: device}].OneTimePreKeys)
}

// Bus is an in-process transport and mailbox. Messages for a recipient with
// subscribed handlers are pushed to them; all others are queued until fetched
// and acknowledged.
type Bus struct {
	mu       sync.Mutex
	handlers map[domain.SessionKey][]domain.MessageHandler
	queues   map[domain.Username][]domain.EncryptedMessage
	now      func() time.Time
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[domain.SessionKey][]domain.MessageHandler),
		queues:   make(map[domain.Username][]domain.EncryptedMessage),
		now:      time.Now,
	}
}

// Subscribe registers h for messages addressed to (user, device). The
// returned function removes it.
func (b *Bus) Subscribe(user domain.Username, device domain.DeviceID, h domain.MessageHandler) func() {
	key := domain.SessionKey{Peer: user, Device: device}
	b.mu.Lock()
	idx := len(b.handlers[key])
	b.handlers[key] = append(b.handlers[key], h)
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		hs := b.handlers[key]
		if idx < len(hs) {
			hs[idx] = nil
		}
	}
}

// Send pushes msg to the recipient's handlers, or queues it when nobody is
// subscribed. The first handler error is returned.
func (b *Bus) Send(ctx context.Context, msg domain.EncryptedMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = b.now().Unix()
	}
	key := domain.SessionKey{Peer: msg.RecipientID, Device: msg.DeviceID}

	b.mu.Lock()
	var hs []domain.MessageHandler
	for _, h := range b.handlers[key] {
		if h != nil {
			hs = append(hs, h)
		}
	}
	if len(hs) == 0 {
		b.queues[msg.RecipientID] = append(b.queues[msg.RecipientID], msg)
	}
	b.mu.Unlock()

	for _, h := range hs {
		if err := h(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

// FetchMessages returns up to limit queued messages without removing them.
// A limit of zero or less fetches everything.
func (b *Bus) FetchMessages(
	ctx context.Context,
	user domain.Username,
	limit int,
) ([]domain.EncryptedMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queues[user]
	if limit <= 0 || limit > len(q) {
		limit = len(q)
	}
	return append([]domain.EncryptedMessage(nil), q[:limit]...), nil
}

// AckMessages drops the first count queued messages.
func (b *Bus) AckMessages(ctx context.Context, user domain.Username, count int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queues[user]
	if count >= len(q) {
		delete(b.queues, user)
		return nil
	}
	if count > 0 {
		b.queues[user] = append([]domain.EncryptedMessage(nil), q[count:]...)
	}
	return nil
}

// Pending reports how many messages are queued for user.
func (b *Bus) Pending(user domain.Username) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queues[user])
}

var (
	_ domain.Directory = (*MemoryDirectory)(nil)
	_ domain.Transport = (*Bus)(nil)
	_ domain.Mailbox   = (*Bus)(nil)
)
