package identity_test

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parley/internal/crypto"
	"parley/internal/crypto/kdf"
	"parley/internal/domain"
	"parley/internal/services/identity"
	"parley/internal/store"
)

func newStore(t *testing.T) *store.IdentityStore {
	t.Helper()
	b, err := store.NewMemoryBackend()
	require.NoError(t, err)
	s, err := kdf.New(kdf.NameHKDF, kdf.Params{Hash: "SHA-256"})
	require.NoError(t, err)
	kv, err := store.Open(b, s, []byte("secret"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })
	return store.NewIdentityStore(kv, 1)
}

func TestGenerateLoadFingerprint(t *testing.T) {
	svc := identity.New(newStore(t))

	_, err := svc.LoadIdentity()
	require.True(t, errors.Is(err, domain.ErrNotFound))

	id, fp, err := svc.GenerateIdentity()
	require.NoError(t, err)
	assert.False(t, id.XPub.IsZero())
	assert.Equal(t, crypto.Fingerprint(id.XPub.Slice()), fp)

	loaded, err := svc.LoadIdentity()
	require.NoError(t, err)
	assert.Equal(t, id, loaded)

	got, err := svc.FingerprintIdentity()
	require.NoError(t, err)
	assert.Equal(t, fp, got)
}

func TestGenerateIdentity_IsFreshEachTime(t *testing.T) {
	svc := identity.New(newStore(t))
	a, _, err := svc.GenerateIdentity()
	require.NoError(t, err)
	b, _, err := svc.GenerateIdentity()
	require.NoError(t, err)
	assert.NotEqual(t, a.XPub, b.XPub)

	loaded, err := svc.LoadIdentity()
	require.NoError(t, err)
	assert.Equal(t, b, loaded)
}

func TestCheckPassphrase(t *testing.T) {
	cases := []struct {
		pass string
		ok   bool
	}{
		{"Correct-Horse-9", true},
		{"short-A1", false},
		{"alllowercase-123", false},
		{"ALLUPPERCASE-123", false},
		{"NoDigitsHere-!!", false},
		{"NoSymbols12345", false},
	}
	for _, c := range cases {
		err := identity.CheckPassphrase(c.pass)
		if c.ok {
			assert.NoError(t, err, c.pass)
		} else {
			assert.Equal(t, identity.ErrWeakPassphrase, err, c.pass)
		}
	}
}
