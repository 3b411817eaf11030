package store_test

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"parley/internal/crypto/kdf"
	"parley/internal/domain"
	"parley/internal/store"
)

func hkdf(t *testing.T) kdf.Strategy {
	t.Helper()
	s, err := kdf.New(kdf.NameHKDF, kdf.Params{Hash: "SHA-256"})
	require.NoError(t, err)
	return s
}

type StorageSuite struct {
	suite.Suite
	newBackend func(t *testing.T) store.Backend

	backend store.Backend
	now     time.Time
	st      *store.Storage
}

func (s *StorageSuite) SetupTest() {
	s.backend = s.newBackend(s.T())
	s.now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	st, err := store.Open(s.backend, hkdf(s.T()), []byte("correct horse"), store.WithClock(func() time.Time { return s.now }))
	s.Require().NoError(err)
	s.st = st
}

func (s *StorageSuite) TearDownTest() {
	s.Require().NoError(s.st.Close())
}

func (s *StorageSuite) TestStoreGetDelete() {
	rec := domain.KeyRecord{ID: "identity-1", Type: domain.KeyTypeIdentity, Data: []byte("secret"), DeviceID: 1}
	s.Require().NoError(s.st.Store(rec))

	got, ok, err := s.st.Get("identity-1")
	s.Require().NoError(err)
	s.Require().True(ok)
	s.Equal([]byte("secret"), got.Data)
	s.Equal(domain.KeyTypeIdentity, got.Type)
	s.Equal(domain.DeviceID(1), got.DeviceID)
	s.True(got.CreatedAt.Equal(s.now))

	raw, ok, err := s.backend.Get("identity-1")
	s.Require().NoError(err)
	s.Require().True(ok)
	s.NotContains(string(raw.Ciphertext), "secret")
	s.Len(raw.IV, 12)
	s.Len(raw.Tag, 16)

	s.Require().NoError(s.st.Delete("identity-1"))
	_, ok, err = s.st.Get("identity-1")
	s.Require().NoError(err)
	s.False(ok)
	s.Require().NoError(s.st.Delete("identity-1"))
}

func (s *StorageSuite) TestOverwriteKeepsIndicesConsistent() {
	s.Require().NoError(s.st.Store(domain.KeyRecord{ID: "x", Type: domain.KeyTypePreKey, Data: []byte("1"), DeviceID: 1}))
	s.Require().NoError(s.st.Store(domain.KeyRecord{ID: "x", Type: domain.KeyTypeSession, Data: []byte("2"), DeviceID: 2}))

	pre, err := s.st.ListByType(domain.KeyTypePreKey)
	s.Require().NoError(err)
	s.Empty(pre)
	sess, err := s.st.ListByType(domain.KeyTypeSession)
	s.Require().NoError(err)
	s.Require().Len(sess, 1)
	s.Equal([]byte("2"), sess[0].Data)

	dev1, err := s.st.ListByDevice(1)
	s.Require().NoError(err)
	s.Empty(dev1)
	dev2, err := s.st.ListByDevice(2)
	s.Require().NoError(err)
	s.Len(dev2, 1)
}

func (s *StorageSuite) TestExpiryAndSweep() {
	s.Require().NoError(s.st.Store(domain.KeyRecord{ID: "old", Type: domain.KeyTypePreKey, Data: []byte("a"), ExpiresAt: s.now.Add(time.Hour)}))
	s.Require().NoError(s.st.Store(domain.KeyRecord{ID: "new", Type: domain.KeyTypePreKey, Data: []byte("b"), ExpiresAt: s.now.Add(48 * time.Hour)}))
	s.Require().NoError(s.st.Store(domain.KeyRecord{ID: "forever", Type: domain.KeyTypePreKey, Data: []byte("c")}))

	s.now = s.now.Add(2 * time.Hour)
	_, ok, err := s.st.Get("old")
	s.Require().NoError(err)
	s.False(ok, "expired records read as absent")

	live, err := s.st.ListByType(domain.KeyTypePreKey)
	s.Require().NoError(err)
	s.Len(live, 2)

	n, err := s.st.SweepExpired(s.now)
	s.Require().NoError(err)
	s.Equal(1, n)
	_, ok, err = s.backend.Get("old")
	s.Require().NoError(err)
	s.False(ok)

	n, err = s.st.SweepExpired(s.now.Add(72 * time.Hour))
	s.Require().NoError(err)
	s.Equal(1, n)
	_, ok, err = s.st.Get("forever")
	s.Require().NoError(err)
	s.True(ok)
}

func (s *StorageSuite) TestSweepKeepsRecordRewrittenDuringSweep() {
	for i := 0; i < 100; i++ {
		id := fmt.Sprintf("prekey-1-opk-%d", i)
		rec := domain.KeyRecord{ID: id, Type: domain.KeyTypePreKey, Data: []byte("k"), ExpiresAt: s.now.Add(-time.Minute)}
		s.Require().NoError(s.st.Store(rec))

		rec.ExpiresAt = s.now.Add(time.Hour)
		var (
			wg                 sync.WaitGroup
			storeErr, sweepErr error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			storeErr = s.st.Store(rec)
		}()
		go func() {
			defer wg.Done()
			_, sweepErr = s.st.SweepExpired(s.now)
		}()
		wg.Wait()
		s.Require().NoError(storeErr)
		s.Require().NoError(sweepErr)

		_, ok, err := s.st.Get(id)
		s.Require().NoError(err)
		s.Require().True(ok, "%s was rewritten with a later expiry and must survive the sweep", id)
	}
}

func (s *StorageSuite) TestSwappedRecordFailsToOpen() {
	s.Require().NoError(s.st.Store(domain.KeyRecord{ID: "session-alice-1", Type: domain.KeyTypeSession, Data: []byte("alice")}))
	s.Require().NoError(s.st.Store(domain.KeyRecord{ID: "session-mallory-1", Type: domain.KeyTypeSession, Data: []byte("mallory")}))

	raw, ok, err := s.backend.Get("session-mallory-1")
	s.Require().NoError(err)
	s.Require().True(ok)
	raw.ID = "session-alice-1"
	s.Require().NoError(s.backend.Put(raw))

	_, _, err = s.st.Get("session-alice-1")
	s.True(errors.Is(err, domain.ErrDecryption), "got %v", err)
}

func (s *StorageSuite) TestWrongCredential() {
	s.Require().NoError(s.st.Store(domain.KeyRecord{ID: "identity-1", Type: domain.KeyTypeIdentity, Data: []byte("secret")}))
	s.st.Lock()
	_, _, err := s.st.Get("identity-1")
	s.True(errors.Is(err, domain.ErrStorageLocked))

	_, err = store.Open(s.backend, hkdf(s.T()), []byte("wrong"))
	s.True(errors.Is(err, domain.ErrInvalidCredential))

	pb, err := kdf.New(kdf.NamePBKDF2, kdf.Params{Hash: "SHA-256", Iterations: 1})
	s.Require().NoError(err)
	_, err = store.Open(s.backend, pb, []byte("correct horse"))
	s.True(errors.Is(err, domain.ErrInvalidCredential))

	again, err := store.Open(s.backend, hkdf(s.T()), []byte("correct horse"))
	s.Require().NoError(err)
	got, ok, err := again.Get("identity-1")
	s.Require().NoError(err)
	s.Require().True(ok)
	s.Equal([]byte("secret"), got.Data)
}

func (s *StorageSuite) TestClear() {
	for _, id := range []string{"a", "b", "c"} {
		s.Require().NoError(s.st.Store(domain.KeyRecord{ID: id, Type: domain.KeyTypeSession, Data: []byte(id), ExpiresAt: s.now.Add(time.Hour)}))
	}
	s.Require().NoError(s.st.Clear())
	all, err := s.st.ListByType(domain.KeyTypeSession)
	s.Require().NoError(err)
	s.Empty(all)
	n, err := s.st.SweepExpired(s.now.Add(2 * time.Hour))
	s.Require().NoError(err)
	s.Zero(n)

	// The verifier survives a clear.
	s.st.Lock()
	_, err = store.Open(s.backend, hkdf(s.T()), []byte("wrong"))
	s.True(errors.Is(err, domain.ErrInvalidCredential))
}

func TestStorage_Level(t *testing.T) {
	suite.Run(t, &StorageSuite{newBackend: func(t *testing.T) store.Backend {
		b, err := store.NewMemoryBackend()
		require.NoError(t, err)
		return b
	}})
}

func TestStorage_Bolt(t *testing.T) {
	suite.Run(t, &StorageSuite{newBackend: func(t *testing.T) store.Backend {
		b, err := store.OpenBolt(filepath.Join(t.TempDir(), "keys.db"))
		require.NoError(t, err)
		return b
	}})
}

func TestStorage_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	for _, open := range []func() (store.Backend, error){
		func() (store.Backend, error) { return store.OpenBolt(filepath.Join(dir, "keys.db")) },
		func() (store.Backend, error) { return store.OpenLevel(filepath.Join(dir, "level")) },
	} {
		b, err := open()
		require.NoError(t, err)
		st, err := store.Open(b, hkdf(t), []byte("pw"))
		require.NoError(t, err)
		require.NoError(t, st.Store(domain.KeyRecord{ID: "k", Type: domain.KeyTypeProfile, Data: []byte("v")}))
		require.NoError(t, st.Close())

		b, err = open()
		require.NoError(t, err)
		_, err = store.Open(b, hkdf(t), []byte("nope"))
		require.True(t, errors.Is(err, domain.ErrInvalidCredential))
		st, err = store.Open(b, hkdf(t), []byte("pw"))
		require.NoError(t, err)
		rec, ok, err := st.Get("k")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, []byte("v"), rec.Data)
		require.NoError(t, st.Close())
	}
}
