package message

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"parley/internal/domain"
	"parley/internal/metrics"
	"parley/internal/services/session"
)

// adPrefix versions the associated data bound to every message.
const adPrefix = "parley/v1"

// DefaultConcurrency bounds how many sessions ReceiveMessages decrypts at once.
const DefaultConcurrency = 8

var (
	// ErrDummyMessage is returned when asked to decrypt cover traffic.
	ErrDummyMessage = errors.New("dummy message")
	// ErrMisdirected is returned for messages addressed to another device.
	ErrMisdirected = errors.New("message addressed to another device")
)

// Service sends and receives messages using the Double Ratchet sessions held
// by a session.Manager.
//
// High-level flow:
//   - Send: encrypt under the session with the peer device. Until the peer
//     has replied, the message carries the X3DH parameters so the receiver
//     can bootstrap its side.
//   - Receive: fetch messages, bootstrap a session from the first pre-key
//     message of a peer device, decrypt each session's messages in order,
//     then ack the processed prefix of the mailbox.
type Service struct {
	self        domain.Profile
	sessions    *session.Manager
	transport   domain.Transport
	mailbox     domain.Mailbox
	metrics     *metrics.Metrics
	log         *zap.Logger
	now         func() time.Time
	concurrency int
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger; the service names it "message".
func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.log = l } }

// WithMetrics records message counters on m.
func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }

// WithConcurrency bounds how many sessions are decrypted in parallel.
func WithConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithClock replaces time.Now for message timestamps.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// New returns a message service for the local profile. transport and mailbox
// may be nil when the caller only uses Encrypt and Decrypt.
func New(
	self domain.Profile,
	sessions *session.Manager,
	transport domain.Transport,
	mailbox domain.Mailbox,
	opts ...Option,
) *Service {
	s := &Service{
		self:        self,
		sessions:    sessions,
		transport:   transport,
		mailbox:     mailbox,
		log:         zap.NewNop(),
		now:         time.Now,
		concurrency: DefaultConcurrency,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.New(nil)
	}
	s.log = s.log.Named("message")
	return s
}

// associatedData binds a message to its sender and recipient devices.
func associatedData(sender domain.Username, senderDevice domain.DeviceID, recipient domain.Username, device domain.DeviceID) []byte {
	out := make([]byte, 0, len(adPrefix)+len(sender)+len(recipient)+16)
	out = append(out, adPrefix...)
	out = binary.BigEndian.AppendUint32(out, uint32(len(sender)))
	out = append(out, sender...)
	out = binary.BigEndian.AppendUint32(out, uint32(senderDevice))
	out = binary.BigEndian.AppendUint32(out, uint32(len(recipient)))
	out = append(out, recipient...)
	return binary.BigEndian.AppendUint32(out, uint32(device))
}

// Encrypt seals plaintext for a peer device under the existing session.
func (s *Service) Encrypt(
	ctx context.Context,
	to domain.SessionKey,
	plaintext []byte,
) (domain.EncryptedMessage, error) {
	ad := associatedData(s.self.Username, s.self.DeviceID, to.Peer, to.Device)
	var msg domain.EncryptedMessage
	err := s.sessions.Do(ctx, to, func(c *session.Conversation) error {
		h, ct, err := c.Ratchet.Encrypt(plaintext, ad)
		if err != nil {
			return err
		}
		msg = domain.EncryptedMessage{
			ID:           domain.MessageID(uuid.NewString()),
			SenderID:     s.self.Username,
			SenderDevice: s.self.DeviceID,
			RecipientID:  to.Peer,
			DeviceID:     to.Device,
			Type:         domain.MessageTypeWhisper,
			Header:       h,
			Ciphertext:   ct,
			Timestamp:    s.now().Unix(),
		}
		if pk := c.Session.PendingPreKey; pk != nil {
			cp := *pk
			msg.Type = domain.MessageTypePreKey
			msg.PreKey = &cp
		}
		return nil
	})
	if err != nil {
		return domain.EncryptedMessage{}, err
	}
	s.metrics.MessageEncrypted()
	s.log.Debug("encrypted",
		zap.String("id", msg.ID.String()),
		zap.String("peer", to.Peer.String()),
		zap.Uint32("device", uint32(to.Device)),
		zap.Stringer("type", msg.Type),
		zap.Uint32("n", msg.Header.MessageIndex),
	)
	return msg, nil
}

// Decrypt opens msg. A pre-key message from a peer device without a session
// bootstraps one; the session is kept only if the message authenticates.
func (s *Service) Decrypt(ctx context.Context, msg domain.EncryptedMessage) (domain.DecryptedMessage, error) {
	out, err := s.decrypt(ctx, msg)
	if err != nil {
		s.metrics.DecryptFailed(err)
		s.log.Warn("decrypt failed",
			zap.String("id", msg.ID.String()),
			zap.String("peer", msg.SenderID.String()),
			zap.Uint32("device", uint32(msg.SenderDevice)),
			zap.String("reason", metrics.Reason(err)),
			zap.Error(err),
		)
		return domain.DecryptedMessage{}, err
	}
	s.metrics.MessageDecrypted()
	return out, nil
}

func (s *Service) decrypt(ctx context.Context, msg domain.EncryptedMessage) (domain.DecryptedMessage, error) {
	if msg.IsDummy {
		return domain.DecryptedMessage{}, ErrDummyMessage
	}
	if msg.RecipientID != s.self.Username || msg.DeviceID != s.self.DeviceID {
		return domain.DecryptedMessage{}, errors.Wrapf(ErrMisdirected, "%s-%d", msg.RecipientID, msg.DeviceID)
	}

	key := msg.SessionKey()
	ad := associatedData(msg.SenderID, msg.SenderDevice, msg.RecipientID, msg.DeviceID)
	var plaintext []byte
	open := func(c *session.Conversation) error {
		pt, err := c.Ratchet.Decrypt(msg.Header, msg.Ciphertext, ad)
		if err != nil {
			return err
		}
		// The peer has the session now; stop attaching the handshake.
		c.Session.PendingPreKey = nil
		plaintext = pt
		return nil
	}

	err := s.sessions.Do(ctx, key, open)
	if errors.Is(err, domain.ErrSessionNotFound) && msg.Type == domain.MessageTypePreKey && msg.PreKey != nil {
		err = s.sessions.Accept(ctx, key, *msg.PreKey, open)
	}
	if err != nil {
		return domain.DecryptedMessage{}, err
	}
	return domain.DecryptedMessage{
		ID:           msg.ID,
		SenderID:     msg.SenderID,
		SenderDevice: msg.SenderDevice,
		RecipientID:  msg.RecipientID,
		Plaintext:    plaintext,
		Timestamp:    msg.Timestamp,
	}, nil
}

// SendMessage encrypts plaintext for a peer device and hands it to the
// transport.
func (s *Service) SendMessage(
	ctx context.Context,
	to domain.SessionKey,
	plaintext []byte,
) (domain.EncryptedMessage, error) {
	if s.transport == nil {
		return domain.EncryptedMessage{}, errors.New("no transport configured")
	}
	msg, err := s.Encrypt(ctx, to, plaintext)
	if err != nil {
		return domain.EncryptedMessage{}, err
	}
	if err := s.transport.Send(ctx, msg); err != nil {
		return domain.EncryptedMessage{}, errors.Wrap(err, "send")
	}
	return msg, nil
}

// Handler returns the onMessage callback for push transports. Dummy messages
// are dropped before decryption; decrypted messages go to deliver.
func (s *Service) Handler(deliver func(domain.DecryptedMessage)) domain.MessageHandler {
	return func(ctx context.Context, msg domain.EncryptedMessage) error {
		if msg.IsDummy {
			s.log.Debug("dropped dummy message", zap.String("id", msg.ID.String()))
			return nil
		}
		out, err := s.Decrypt(ctx, msg)
		if err != nil {
			return err
		}
		if deliver != nil {
			deliver(out)
		}
		return nil
	}
}

// ReceiveMessages fetches up to limit queued messages and decrypts them.
//
// Sessions are processed concurrently; messages of one session are
// decrypted in mailbox order. A message counts as processed once it is
// decrypted or has failed for good (bad authentication, replay, unknown
// pre-key, dummy or misdirected). Only the prefix of processed messages is
// acked, so anything after a transient failure is fetched again next time.
func (s *Service) ReceiveMessages(ctx context.Context, limit int) ([]domain.DecryptedMessage, error) {
	if s.mailbox == nil {
		return nil, errors.New("no mailbox configured")
	}
	msgs, err := s.mailbox.FetchMessages(ctx, s.self.Username, limit)
	if err != nil {
		return nil, errors.Wrap(err, "fetch messages")
	}
	if len(msgs) == 0 {
		return nil, nil
	}

	type result struct {
		out       domain.DecryptedMessage
		ok        bool
		processed bool
		err       error
	}
	results := make([]result, len(msgs))

	order := make([]domain.SessionKey, 0)
	bySession := make(map[domain.SessionKey][]int)
	for i, m := range msgs {
		if m.IsDummy {
			results[i].processed = true
			continue
		}
		k := m.SessionKey()
		if _, ok := bySession[k]; !ok {
			order = append(order, k)
		}
		bySession[k] = append(bySession[k], i)
	}

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for _, k := range order {
		idx := bySession[k]
		g.Go(func() error {
			for _, i := range idx {
				out, err := s.Decrypt(ctx, msgs[i])
				switch {
				case err == nil:
					results[i] = result{out: out, ok: true, processed: true}
				case permanent(err):
					results[i] = result{processed: true, err: err}
				default:
					results[i] = result{err: err}
					return nil
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	var out []domain.DecryptedMessage
	var firstErr error
	prefix := len(msgs)
	for i, r := range results {
		if r.ok {
			out = append(out, r.out)
		}
		if !r.processed && prefix == len(msgs) {
			prefix = i
			firstErr = r.err
		}
	}
	if prefix > 0 {
		if err := s.mailbox.AckMessages(ctx, s.self.Username, prefix); err != nil {
			return out, errors.Wrap(err, "ack messages")
		}
	}
	s.log.Info("received",
		zap.Int("fetched", len(msgs)),
		zap.Int("decrypted", len(out)),
		zap.Int("acked", prefix),
	)
	return out, firstErr
}

// permanent reports whether retrying msg can never succeed.
func permanent(err error) bool {
	for _, target := range []error{
		domain.ErrDecryption,
		domain.ErrSkippedKeyNotFound,
		domain.ErrMaxSkipExceeded,
		domain.ErrSignatureVerification,
		domain.ErrSessionNotFound,
		domain.ErrRatchetNotInitialized,
		domain.ErrMessageTooLarge,
		domain.ErrNotFound,
		ErrDummyMessage,
		ErrMisdirected,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Compile-time assertion that Service implements domain.MessageService.
var _ domain.MessageService = (*Service)(nil)
