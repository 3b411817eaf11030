package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"parley/internal/crypto"
	"parley/internal/domain"
	"parley/internal/store"
)

func openMemory(t *testing.T) *store.Storage {
	t.Helper()
	b, err := store.NewMemoryBackend()
	require.NoError(t, err)
	st, err := store.Open(b, hkdf(t), []byte("pw"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestIdentityStore(t *testing.T) {
	kv := openMemory(t)
	ids := store.NewIdentityStore(kv, 7)

	_, err := ids.LoadIdentity()
	require.True(t, errors.Is(err, domain.ErrNotFound))

	id, err := crypto.NewIdentity()
	require.NoError(t, err)
	require.NoError(t, ids.SaveIdentity(id))

	got, err := ids.LoadIdentity()
	require.NoError(t, err)
	require.Equal(t, id, got)

	recs, err := kv.ListByType(domain.KeyTypeIdentity)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, "identity-7", recs[0].ID)

	_, err = store.NewIdentityStore(kv, 8).LoadIdentity()
	require.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestPreKeyStore(t *testing.T) {
	kv := openMemory(t)
	pks := store.NewPreKeyStore(kv, 1, 0, 0)

	pair, err := crypto.NewKeyPair()
	require.NoError(t, err)
	created := time.Now().Truncate(time.Millisecond)
	spk := domain.SignedPreKey{ID: "spk-1", Pair: pair, Signature: []byte("sig"), CreatedAt: created}
	require.NoError(t, pks.SaveSignedPreKey(spk))
	require.NoError(t, pks.SetCurrentSignedPreKeyID(spk.ID))

	got, ok, err := pks.LoadSignedPreKey("spk-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, spk.Pair, got.Pair)
	require.True(t, created.Equal(got.CreatedAt))

	rec, ok, err := kv.Get("signed-prekey-1-spk-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, rec.ExpiresAt.Equal(created.Add(store.DefaultSignedPreKeyTTL)))

	cur, ok, err := pks.CurrentSignedPreKeyID()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, domain.SignedPreKeyID("spk-1"), cur)

	var pairs []domain.OneTimePreKeyPair
	for _, id := range []domain.OneTimePreKeyID{"opk-b", "opk-a"} {
		kp, err := crypto.NewKeyPair()
		require.NoError(t, err)
		pairs = append(pairs, domain.OneTimePreKeyPair{ID: id, Priv: kp.Priv, Pub: kp.Pub})
	}
	require.NoError(t, pks.SaveOneTimePreKeys(pairs))

	pubs, err := pks.ListOneTimePreKeyPublics()
	require.NoError(t, err)
	require.Len(t, pubs, 2)
	require.Equal(t, domain.OneTimePreKeyID("opk-a"), pubs[0].ID)
	require.Equal(t, pairs[1].Pub, pubs[0].Pub)

	p, ok, err := pks.ConsumeOneTimePreKey("opk-b")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, pairs[0].ID, p.ID)
	require.Equal(t, pairs[0].Priv, p.Priv)
	require.Equal(t, pairs[0].Pub, p.Pub)
	require.False(t, p.CreatedAt.IsZero())
	_, ok, err = pks.ConsumeOneTimePreKey("opk-b")
	require.NoError(t, err)
	require.False(t, ok, "one-time pre-keys are single use")

	pubs, err = pks.ListOneTimePreKeyPublics()
	require.NoError(t, err)
	require.Len(t, pubs, 1)

	// Another device sharing the storage sees none of these.
	other := store.NewPreKeyStore(kv, 2, 0, 0)
	pubs, err = other.ListOneTimePreKeyPublics()
	require.NoError(t, err)
	require.Empty(t, pubs)
	_, ok, err = other.CurrentSignedPreKeyID()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPreKeyStore_RestoredOneTimePreKeyKeepsExpiry(t *testing.T) {
	kv := openMemory(t)
	pks := store.NewPreKeyStore(kv, 1, 0, time.Hour)

	kp, err := crypto.NewKeyPair()
	require.NoError(t, err)
	created := time.Now().Add(-30 * time.Minute)
	require.NoError(t, pks.SaveOneTimePreKeys([]domain.OneTimePreKeyPair{
		{ID: "opk-1", Priv: kp.Priv, Pub: kp.Pub, CreatedAt: created},
	}))

	p, ok, err := pks.ConsumeOneTimePreKey("opk-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, created.Equal(p.CreatedAt))

	// Putting it back, as a failed handshake does, must not extend its life.
	require.NoError(t, pks.SaveOneTimePreKeys([]domain.OneTimePreKeyPair{p}))
	rec, ok, err := kv.Get("prekey-1-opk-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, rec.ExpiresAt.Equal(created.Add(time.Hour)), "expires %v", rec.ExpiresAt)
	require.True(t, rec.CreatedAt.Equal(created))
}

func TestSessionStore(t *testing.T) {
	ctx := context.Background()
	kv := openMemory(t)
	repo := store.NewSessionStore(kv, 1)

	key := domain.SessionKey{Peer: "bob", Device: 2}
	_, ok, err := repo.LoadSession(ctx, key)
	require.NoError(t, err)
	require.False(t, ok)

	sess := domain.Session{
		Key:       key,
		Mode:      domain.HandshakeFourDH,
		Initiator: true,
		State: domain.RatchetState{
			RootKey:             []byte{1, 2, 3},
			SendChainKey:        []byte{4, 5, 6},
			SendMessageIndex:    3,
			PreviousChainLength: 1,
			SkippedKeys: []domain.SkippedKey{
				{PeerDiffieHellman: domain.X25519Public{9}, MessageIndex: 2, MessageKey: []byte{7}, Sequence: 0},
			},
			SkipSequence: 1,
		},
	}
	require.NoError(t, repo.SaveSession(ctx, sess))
	require.NoError(t, repo.SaveSession(ctx, domain.Session{Key: domain.SessionKey{Peer: "alice", Device: 1}}))

	got, ok, err := repo.LoadSession(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, sess.State, got.State)
	require.Equal(t, domain.HandshakeFourDH, got.Mode)
	require.False(t, got.LastUsed.IsZero())

	_, ok, err = kv.Get("session-bob-2")
	require.NoError(t, err)
	require.True(t, ok)

	keys, err := repo.ListSessions(ctx)
	require.NoError(t, err)
	require.Equal(t, []domain.SessionKey{{Peer: "alice", Device: 1}, {Peer: "bob", Device: 2}}, keys)

	require.NoError(t, repo.DeleteSession(ctx, key))
	_, ok, err = repo.LoadSession(ctx, key)
	require.NoError(t, err)
	require.False(t, ok)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	require.ErrorIs(t, repo.SaveSession(cancelled, sess), context.Canceled)
}

func TestProfileStore(t *testing.T) {
	ps := store.NewProfileStore(openMemory(t))
	_, ok, err := ps.LoadProfile()
	require.NoError(t, err)
	require.False(t, ok)

	p := domain.Profile{Username: "alice", DeviceID: 3, RelayURL: "http://localhost:8080"}
	require.NoError(t, ps.SaveProfile(p))
	got, ok, err := ps.LoadProfile()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, p, got)
}
