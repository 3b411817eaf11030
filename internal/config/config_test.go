package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parley/internal/config"
	"parley/internal/crypto/aead"
	"parley/internal/domain"
	"parley/internal/protocol/ratchet"
)

func TestDefaults(t *testing.T) {
	cfg, err := config.Load(nil)
	require.NoError(t, err)
	assert.Equal(t, ratchet.DefaultConfig(), cfg.Ratchet())
	assert.Equal(t, config.BackendBolt, cfg.Storage.Backend)

	s, err := cfg.ProtocolKDF()
	require.NoError(t, err)
	assert.Equal(t, "HKDF", s.Name())
	suite, err := cfg.Suite()
	require.NoError(t, err)
	assert.Equal(t, aead.ChaCha20Poly1305, suite)
}

func TestLoad_OverridesAndDurations(t *testing.T) {
	cfg, err := config.Load([]byte(`
[device]
username = "alice"
device_id = 3

[relay]
url = "http://relay.example:8080"
timeout = "2s"

[protocol]
chain_key_update_frequency = 4
kdf = "pbkdf2"
kdf_hash = "SHA-512"
use_triple_ratchet = true
cipher = "aes-256-gcm"

[storage]
backend = "leveldb"
signed_prekey_ttl = "48h"
`))
	require.NoError(t, err)
	assert.Equal(t, domain.Profile{Username: "alice", DeviceID: 3, RelayURL: "http://relay.example:8080"}, cfg.LocalProfile())
	assert.Equal(t, 2*time.Second, cfg.Relay.Timeout.Duration)
	assert.Equal(t, 4, cfg.Ratchet().ChainKeyUpdateFrequency)
	assert.True(t, cfg.Ratchet().UseTripleRatchet)
	assert.Equal(t, 48*time.Hour, cfg.Storage.SignedPreKeyTTL.Duration)
	assert.Equal(t, 30*24*time.Hour, cfg.Storage.PreKeyTTL.Duration)

	s, err := cfg.ProtocolKDF()
	require.NoError(t, err)
	assert.Equal(t, "PBKDF2", s.Name())
	suite, err := cfg.Suite()
	require.NoError(t, err)
	assert.Equal(t, aead.AESGCM, suite)
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	_, err := config.Load([]byte("[protocol]\nmax_skipped = 3\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_skipped")
}

func TestValidate(t *testing.T) {
	cases := map[string]struct {
		toml string
		is   error
	}{
		"zero frequency":  {"[protocol]\nchain_key_update_frequency = 0\n", domain.ErrKeyDerivation},
		"negative length": {"[protocol]\nmessage_key_length = -1\n", domain.ErrKeyDerivation},
		"unknown kdf":     {"[protocol]\nkdf = \"md5\"\n", domain.ErrUnknownStrategy},
		"unknown hash":    {"[protocol]\nkdf_hash = \"SHA-1\"\n", domain.ErrUnknownStrategy},
		"unknown cipher":  {"[protocol]\ncipher = \"rot13\"\n", domain.ErrUnknownStrategy},
		"bad key size":    {"[protocol]\nmessage_key_length = 20\n", domain.ErrKeyDerivation},
		"unknown backend": {"[storage]\nbackend = \"sqlite\"\n", domain.ErrUnknownStrategy},
		"unknown profile": {"profile = \"turbo\"\n", domain.ErrUnknownStrategy},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := config.Load([]byte(c.toml))
			require.True(t, errors.Is(err, c.is), "got %v", err)
		})
	}
}

func TestProfiles(t *testing.T) {
	names := config.Profiles()
	assert.Equal(t, []string{
		"baseline", "compromise-recovery", "high-security", "low-memory",
		"network-disruption", "performance", "research",
	}, names)

	for _, n := range names {
		cfg := config.Default()
		require.NoError(t, cfg.ApplyProfile(n))
		require.NoError(t, cfg.Validate(), n)
	}

	cfg, err := config.Load([]byte("profile = \"High-Security\"\n[protocol]\nmax_skipped_message_keys = 7\n"))
	require.NoError(t, err)
	assert.Equal(t, "high-security", cfg.Profile)
	assert.Equal(t, 50, cfg.Protocol.MaxSkippedMessageKeys)
	assert.True(t, cfg.Protocol.UseTripleRatchet)
	assert.Equal(t, 4*time.Hour, cfg.Storage.PreKeyTTL.Duration)
}

func TestSaveAndLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), config.FileName)

	missing, err := config.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, config.Default(), missing)

	cfg := config.Default()
	cfg.Device.Username = "bob"
	cfg.Protocol.ChainKeyUpdateFrequency = 3
	cfg.Storage.SignedPreKeyTTL = config.Duration{Duration: 36 * time.Hour}
	require.NoError(t, cfg.Save(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := config.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
