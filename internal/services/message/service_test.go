package message_test

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"parley/internal/crypto/kdf"
	"parley/internal/domain"
	"parley/internal/metrics"
	"parley/internal/protocol/ratchet"
	"parley/internal/relay"
	"parley/internal/services/identity"
	"parley/internal/services/message"
	"parley/internal/services/prekey"
	"parley/internal/services/session"
	"parley/internal/store"
)

// flakyRepo fails SaveSession for one peer while fail is set.
type flakyRepo struct {
	domain.SessionRepository
	peer domain.Username
	fail atomic.Bool
}

func (r *flakyRepo) SaveSession(ctx context.Context, s domain.Session) error {
	if r.fail.Load() && s.Key.Peer == r.peer {
		return errors.New("disk full")
	}
	return r.SessionRepository.SaveSession(ctx, s)
}

type client struct {
	key      domain.SessionKey
	sessions *session.Manager
	msgs     *message.Service
	repo     *flakyRepo
	reg      *prometheus.Registry
}

type network struct {
	dir *relay.MemoryDirectory
	bus *relay.Bus
}

func newNetwork() *network {
	return &network{dir: relay.NewMemoryDirectory(), bus: relay.NewBus()}
}

func (n *network) client(t *testing.T, user domain.Username, id domain.DeviceID) *client {
	t.Helper()
	ctx := context.Background()
	b, err := store.NewMemoryBackend()
	require.NoError(t, err)
	s, err := kdf.New(kdf.NameHKDF, kdf.Params{Hash: "SHA-256"})
	require.NoError(t, err)
	kv, err := store.Open(b, s, []byte("secret"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })

	profile := domain.Profile{Username: user, DeviceID: id}
	ids := store.NewIdentityStore(kv, id)
	ps := store.NewPreKeyStore(kv, id, 0, 0)
	_, _, err = identity.New(ids).GenerateIdentity()
	require.NoError(t, err)
	pre := prekey.New(ids, ps, n.dir)
	_, _, err = pre.GenerateAndStorePreKeys(4)
	require.NoError(t, err)
	_, err = pre.PublishPreKeyBundle(ctx, profile)
	require.NoError(t, err)

	c := &client{
		key:  domain.SessionKey{Peer: user, Device: id},
		repo: &flakyRepo{SessionRepository: store.NewSessionStore(kv, id)},
		reg:  prometheus.NewRegistry(),
	}
	mt := metrics.New(c.reg)
	log := zaptest.NewLogger(t)
	c.sessions, err = session.New(c.repo, ids, ps, n.dir, s, ratchet.DefaultConfig(),
		session.WithLogger(log), session.WithMetrics(mt))
	require.NoError(t, err)
	c.msgs = message.New(profile, c.sessions, n.bus, n.bus,
		message.WithLogger(log), message.WithMetrics(mt), message.WithConcurrency(2))
	return c
}

func plaintexts(msgs []domain.DecryptedMessage) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = string(m.Plaintext)
	}
	return out
}

func TestScenario_AliceAndBob(t *testing.T) {
	ctx := context.Background()
	n := newNetwork()
	alice := n.client(t, "alice", 1)
	bob := n.client(t, "bob", 1)

	_, err := alice.sessions.InitiateSession(ctx, bob.key)
	require.NoError(t, err)

	first, err := alice.msgs.SendMessage(ctx, bob.key, []byte("hello bob"))
	require.NoError(t, err)
	assert.Equal(t, domain.MessageTypePreKey, first.Type)
	require.NotNil(t, first.PreKey)
	assert.NotEmpty(t, first.ID)

	got, err := bob.msgs.ReceiveMessages(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"hello bob"}, plaintexts(got))
	assert.Equal(t, domain.Username("alice"), got[0].SenderID)
	assert.Zero(t, n.bus.Pending("bob"))

	_, err = bob.msgs.SendMessage(ctx, alice.key, []byte("hi alice"))
	require.NoError(t, err)
	got, err = alice.msgs.ReceiveMessages(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"hi alice"}, plaintexts(got))

	// Bob's reply ends the handshake phase: Alice ratchets to a new chain.
	second, err := alice.msgs.SendMessage(ctx, bob.key, []byte("how are you"))
	require.NoError(t, err)
	assert.Equal(t, domain.MessageTypeWhisper, second.Type)
	assert.Nil(t, second.PreKey)
	assert.Equal(t, uint32(0), second.Header.MessageIndex)
	assert.Equal(t, uint32(1), second.Header.PreviousChainLength)
	assert.NotEqual(t, first.Header.DiffieHellmanPublicKey, second.Header.DiffieHellmanPublicKey)

	got, err = bob.msgs.ReceiveMessages(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"how are you"}, plaintexts(got))

	count, err := testutil.GatherAndCount(bob.reg, "parley_sessions_established_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestDecrypt_OutOfOrderFirstContact(t *testing.T) {
	ctx := context.Background()
	n := newNetwork()
	alice := n.client(t, "alice", 1)
	bob := n.client(t, "bob", 1)
	_, err := alice.sessions.InitiateSession(ctx, bob.key)
	require.NoError(t, err)

	var sent []domain.EncryptedMessage
	for _, pt := range []string{"m0", "m1", "m2"} {
		m, err := alice.msgs.Encrypt(ctx, bob.key, []byte(pt))
		require.NoError(t, err)
		assert.Equal(t, domain.MessageTypePreKey, m.Type)
		sent = append(sent, m)
	}

	for _, i := range []int{2, 0, 1} {
		out, err := bob.msgs.Decrypt(ctx, sent[i])
		require.NoError(t, err)
		assert.Equal(t, sent[i].ID, out.ID)
		assert.Equal(t, []string{"m0", "m1", "m2"}[i], string(out.Plaintext))
	}

	// Replays find no key left.
	_, err = bob.msgs.Decrypt(ctx, sent[1])
	require.True(t, errors.Is(err, domain.ErrSkippedKeyNotFound), "got %v", err)
}

func TestDecrypt_TamperedMessageIsRejectedAndHarmless(t *testing.T) {
	ctx := context.Background()
	n := newNetwork()
	alice := n.client(t, "alice", 1)
	bob := n.client(t, "bob", 1)
	_, err := alice.sessions.InitiateSession(ctx, bob.key)
	require.NoError(t, err)

	m, err := alice.msgs.Encrypt(ctx, bob.key, []byte("secret"))
	require.NoError(t, err)

	bad := m
	bad.Ciphertext = append([]byte(nil), m.Ciphertext...)
	bad.Ciphertext[0] ^= 1
	_, err = bob.msgs.Decrypt(ctx, bad)
	require.True(t, errors.Is(err, domain.ErrDecryption), "got %v", err)

	// Rebinding to another sender breaks the associated data.
	spoofed := m
	spoofed.SenderDevice = 9
	_, err = bob.msgs.Decrypt(ctx, spoofed)
	require.Error(t, err)

	out, err := bob.msgs.Decrypt(ctx, m)
	require.NoError(t, err)
	assert.Equal(t, "secret", string(out.Plaintext))
}

func TestDecrypt_WhisperWithoutSession(t *testing.T) {
	ctx := context.Background()
	n := newNetwork()
	alice := n.client(t, "alice", 1)
	bob := n.client(t, "bob", 1)
	_, err := alice.sessions.InitiateSession(ctx, bob.key)
	require.NoError(t, err)

	m, err := alice.msgs.Encrypt(ctx, bob.key, []byte("x"))
	require.NoError(t, err)
	m.Type = domain.MessageTypeWhisper
	m.PreKey = nil
	_, err = bob.msgs.Decrypt(ctx, m)
	require.True(t, errors.Is(err, domain.ErrSessionNotFound), "got %v", err)
}

func TestDecrypt_DummyAndMisdirected(t *testing.T) {
	ctx := context.Background()
	n := newNetwork()
	bob := n.client(t, "bob", 1)

	_, err := bob.msgs.Decrypt(ctx, domain.EncryptedMessage{RecipientID: "bob", DeviceID: 1, IsDummy: true})
	require.True(t, errors.Is(err, message.ErrDummyMessage))

	_, err = bob.msgs.Decrypt(ctx, domain.EncryptedMessage{SenderID: "alice", RecipientID: "bob", DeviceID: 2})
	require.True(t, errors.Is(err, message.ErrMisdirected))
}

func TestHandler_DeliversAndDropsDummies(t *testing.T) {
	ctx := context.Background()
	n := newNetwork()
	alice := n.client(t, "alice", 1)
	bob := n.client(t, "bob", 1)

	var delivered []string
	unsubscribe := n.bus.Subscribe("bob", 1, bob.msgs.Handler(func(m domain.DecryptedMessage) {
		delivered = append(delivered, string(m.Plaintext))
	}))
	defer unsubscribe()

	_, err := alice.sessions.InitiateSession(ctx, bob.key)
	require.NoError(t, err)
	_, err = alice.msgs.SendMessage(ctx, bob.key, []byte("pushed"))
	require.NoError(t, err)
	require.NoError(t, n.bus.Send(ctx, domain.EncryptedMessage{
		ID: "cover", SenderID: "alice", RecipientID: "bob", DeviceID: 1, IsDummy: true,
	}))

	assert.Equal(t, []string{"pushed"}, delivered)
	assert.Zero(t, n.bus.Pending("bob"))
}

func TestReceiveMessages_ConcurrentSessionsAndDummies(t *testing.T) {
	ctx := context.Background()
	n := newNetwork()
	alice := n.client(t, "alice", 1)
	carol := n.client(t, "carol", 3)
	bob := n.client(t, "bob", 1)

	_, err := alice.sessions.InitiateSession(ctx, bob.key)
	require.NoError(t, err)
	_, err = carol.sessions.InitiateSession(ctx, bob.key)
	require.NoError(t, err)

	for i, pt := range []string{"a0", "c0", "a1", "c1", "a2"} {
		from := alice
		if pt[0] == 'c' {
			from = carol
		}
		_, err := from.msgs.SendMessage(ctx, bob.key, []byte(pt))
		require.NoError(t, err)
		if i == 2 {
			require.NoError(t, n.bus.Send(ctx, domain.EncryptedMessage{RecipientID: "bob", DeviceID: 1, IsDummy: true}))
		}
	}

	got, err := bob.msgs.ReceiveMessages(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"a0", "c0", "a1", "c1", "a2"}, plaintexts(got))
	assert.Zero(t, n.bus.Pending("bob"))

	keys, err := bob.sessions.ListSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.SessionKey{alice.key, carol.key}, keys)
}

func TestReceiveMessages_AcksOnlyProcessedPrefix(t *testing.T) {
	ctx := context.Background()
	n := newNetwork()
	alice := n.client(t, "alice", 1)
	carol := n.client(t, "carol", 1)
	bob := n.client(t, "bob", 1)

	_, err := alice.sessions.InitiateSession(ctx, bob.key)
	require.NoError(t, err)
	_, err = carol.sessions.InitiateSession(ctx, bob.key)
	require.NoError(t, err)

	for _, s := range []struct {
		from *client
		pt   string
	}{{carol, "c0"}, {alice, "a0"}, {carol, "c1"}} {
		_, err := s.from.msgs.SendMessage(ctx, bob.key, []byte(s.pt))
		require.NoError(t, err)
	}

	bob.repo.peer = "carol"
	bob.repo.fail.Store(true)
	got, err := bob.msgs.ReceiveMessages(ctx, 0)
	require.Error(t, err)
	assert.Equal(t, []string{"a0"}, plaintexts(got))
	assert.Equal(t, 3, n.bus.Pending("bob"))

	// Alice's message comes back as a replay and is dropped.
	bob.repo.fail.Store(false)
	got, err = bob.msgs.ReceiveMessages(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"c0", "c1"}, plaintexts(got))
	assert.Zero(t, n.bus.Pending("bob"))
}

func TestEncrypt_WithoutSession(t *testing.T) {
	n := newNetwork()
	alice := n.client(t, "alice", 1)
	_, err := alice.msgs.Encrypt(context.Background(), domain.SessionKey{Peer: "bob", Device: 1}, []byte("x"))
	require.True(t, errors.Is(err, domain.ErrSessionNotFound))
}
