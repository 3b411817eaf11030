package relay_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"parley/internal/crypto"
	"parley/internal/domain"
	"parley/internal/relay"
)

func newBundle(t *testing.T, user domain.Username, device domain.DeviceID, opks int) domain.PreKeyBundle {
	t.Helper()
	id, err := crypto.NewIdentity()
	require.NoError(t, err)
	spk, err := crypto.NewKeyPair()
	require.NoError(t, err)
	b := domain.PreKeyBundle{
		Username:              user,
		DeviceID:              device,
		IdentityKey:           id.XPub,
		SigningKey:            id.EdPub,
		SignedPreKeyID:        "spk-1",
		SignedPreKey:          spk.Pub,
		SignedPreKeySignature: crypto.SignEd25519(id.EdPriv, spk.Pub[:]),
	}
	for i := 0; i < opks; i++ {
		_, pub, err := crypto.GenerateX25519()
		require.NoError(t, err)
		b.OneTimePreKeys = append(b.OneTimePreKeys, domain.OneTimePreKeyPublic{
			ID:  domain.OneTimePreKeyID(string(rune('a' + i))),
			Pub: pub,
		})
	}
	return b
}

func newRelay(t *testing.T) *relay.HTTP {
	t.Helper()
	srv := httptest.NewServer(relay.NewServer(relay.NewMemoryDirectory(), relay.NewBus(), zaptest.NewLogger(t)))
	t.Cleanup(srv.Close)
	return relay.NewHTTP(srv.URL, relay.WithRetries(0))
}

func TestHTTP_PublishAndFetchPopsOneTimePreKeys(t *testing.T) {
	ctx := context.Background()
	c := newRelay(t)
	b := newBundle(t, "bob", 2, 2)
	require.NoError(t, c.PublishPreKeyBundle(ctx, b))

	first, err := c.FetchPreKeyBundle(ctx, "bob", 2)
	require.NoError(t, err)
	require.Len(t, first.OneTimePreKeys, 1)
	assert.Equal(t, b.OneTimePreKeys[0], first.OneTimePreKeys[0])
	assert.Equal(t, b.SignedPreKey, first.SignedPreKey)

	second, err := c.FetchPreKeyBundle(ctx, "bob", 2)
	require.NoError(t, err)
	require.Len(t, second.OneTimePreKeys, 1)
	assert.Equal(t, b.OneTimePreKeys[1], second.OneTimePreKeys[0])

	third, err := c.FetchPreKeyBundle(ctx, "bob", 2)
	require.NoError(t, err)
	assert.Empty(t, third.OneTimePreKeys)
}

func TestHTTP_FetchUnknownIsNotFound(t *testing.T) {
	c := newRelay(t)
	_, err := c.FetchPreKeyBundle(context.Background(), "nobody", 1)
	require.True(t, errors.Is(err, domain.ErrNotFound), "got %v", err)
}

func TestHTTP_PublishRejectsBadSignature(t *testing.T) {
	c := newRelay(t)
	b := newBundle(t, "bob", 1, 0)
	b.SignedPreKeySignature[0] ^= 1

	err := c.PublishPreKeyBundle(context.Background(), b)
	var serr *relay.StatusError
	require.True(t, errors.As(err, &serr), "got %v", err)
	assert.Equal(t, http.StatusBadRequest, serr.Code)
}

func TestHTTP_MailboxFetchAndAck(t *testing.T) {
	ctx := context.Background()
	c := newRelay(t)
	for _, id := range []domain.MessageID{"m0", "m1", "m2"} {
		require.NoError(t, c.Send(ctx, domain.EncryptedMessage{ID: id, SenderID: "alice", RecipientID: "bob"}))
	}

	got, err := c.FetchMessages(ctx, "bob", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, domain.MessageID("m0"), got[0].ID)
	assert.NotZero(t, got[0].Timestamp)

	require.NoError(t, c.AckMessages(ctx, "bob", 1))
	got, err = c.FetchMessages(ctx, "bob", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, domain.MessageID("m1"), got[0].ID)
	assert.Equal(t, domain.MessageID("m2"), got[1].ID)

	empty, err := c.FetchMessages(ctx, "carol", 0)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestHTTP_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := relay.NewHTTP(srv.URL, relay.WithRetries(3), relay.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, c.Send(context.Background(), domain.EncryptedMessage{RecipientID: "bob"}))
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTP_ClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := relay.NewHTTP(srv.URL, relay.WithRetries(5))
	err := c.Send(context.Background(), domain.EncryptedMessage{RecipientID: "bob"})
	var serr *relay.StatusError
	require.True(t, errors.As(err, &serr), "got %v", err)
	assert.Equal(t, http.StatusBadRequest, serr.Code)
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTP_GivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := relay.NewHTTP(srv.URL, relay.WithRetries(2))
	err := c.AckMessages(context.Background(), "bob", 1)
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestBus_PushesToSubscribersAndQueuesOtherwise(t *testing.T) {
	ctx := context.Background()
	bus := relay.NewBus()

	var got []domain.MessageID
	unsubscribe := bus.Subscribe("bob", 1, func(_ context.Context, m domain.EncryptedMessage) error {
		got = append(got, m.ID)
		return nil
	})

	require.NoError(t, bus.Send(ctx, domain.EncryptedMessage{ID: "pushed", RecipientID: "bob", DeviceID: 1}))
	require.NoError(t, bus.Send(ctx, domain.EncryptedMessage{ID: "other-device", RecipientID: "bob", DeviceID: 2}))
	assert.Equal(t, []domain.MessageID{"pushed"}, got)
	assert.Equal(t, 1, bus.Pending("bob"))

	unsubscribe()
	require.NoError(t, bus.Send(ctx, domain.EncryptedMessage{ID: "queued", RecipientID: "bob", DeviceID: 1}))
	assert.Len(t, got, 1)
	assert.Equal(t, 2, bus.Pending("bob"))

	require.NoError(t, bus.AckMessages(ctx, "bob", 5))
	assert.Zero(t, bus.Pending("bob"))
}

func TestBus_HandlerErrorIsReturned(t *testing.T) {
	bus := relay.NewBus()
	boom := errors.New("boom")
	bus.Subscribe("bob", 1, func(context.Context, domain.EncryptedMessage) error { return boom })
	err := bus.Send(context.Background(), domain.EncryptedMessage{RecipientID: "bob", DeviceID: 1})
	assert.Equal(t, boom, err)
}

func TestMemoryDirectory_Remaining(t *testing.T) {
	ctx := context.Background()
	dir := relay.NewMemoryDirectory()
	require.NoError(t, dir.PublishPreKeyBundle(ctx, newBundle(t, "bob", 1, 3)))
	assert.Equal(t, 3, dir.Remaining("bob", 1))
	_, err := dir.FetchPreKeyBundle(ctx, "bob", 1)
	require.NoError(t, err)
	assert.Equal(t, 2, dir.Remaining("bob", 1))
}
