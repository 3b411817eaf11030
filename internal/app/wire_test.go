package app_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"parley/internal/app"
	"parley/internal/config"
	"parley/internal/domain"
)

func settings(t *testing.T, backend string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Device.Username = "alice"
	cfg.Storage.Backend = backend
	cfg.Storage.KDF = "HKDF"
	cfg.Metrics.Textfile = filepath.Join(t.TempDir(), "parley.prom")
	return cfg
}

func TestNewWire_BothBackends(t *testing.T) {
	for _, backend := range []string{config.BackendBolt, config.BackendLevelDB} {
		t.Run(backend, func(t *testing.T) {
			home := t.TempDir()
			cfg := settings(t, backend)

			w, err := app.NewWire(app.Config{Home: home, Settings: cfg, Secret: []byte("pw"), Logger: zaptest.NewLogger(t)})
			require.NoError(t, err)
			assert.Equal(t, domain.Username("alice"), w.Profile.Username)

			_, fp, err := w.Identity.GenerateIdentity()
			require.NoError(t, err)
			_, _, err = w.PreKeys.GenerateAndStorePreKeys(2)
			require.NoError(t, err)
			require.NoError(t, w.Profiles.SaveProfile(w.Profile))
			require.NoError(t, w.Close())

			b, err := os.ReadFile(cfg.Metrics.Textfile)
			require.NoError(t, err)
			assert.True(t, strings.Contains(string(b), "parley_messages_encrypted_total"))

			// Wrong secret.
			_, err = app.NewWire(app.Config{Home: home, Settings: cfg, Secret: []byte("nope"), Logger: zaptest.NewLogger(t)})
			require.True(t, errors.Is(err, domain.ErrInvalidCredential), "got %v", err)

			w, err = app.NewWire(app.Config{Home: home, Settings: cfg, Secret: []byte("pw"), Logger: zaptest.NewLogger(t)})
			require.NoError(t, err)
			defer w.Close()
			got, err := w.Identity.FingerprintIdentity()
			require.NoError(t, err)
			assert.Equal(t, fp, got)
			p, ok, err := w.Profiles.LoadProfile()
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, w.Profile, p)

			keys, err := w.Sessions.ListSessions(context.Background())
			require.NoError(t, err)
			assert.Empty(t, keys)
		})
	}
}

func TestWire_Sweep(t *testing.T) {
	cfg := settings(t, config.BackendLevelDB)
	cfg.Storage.PreKeyTTL = config.Duration{Duration: time.Minute}
	w, err := app.NewWire(app.Config{Home: t.TempDir(), Settings: cfg, Secret: []byte("pw"), Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	defer w.Close()

	_, _, err = w.Identity.GenerateIdentity()
	require.NoError(t, err)
	_, _, err = w.PreKeys.GenerateAndStorePreKeys(3)
	require.NoError(t, err)

	n, err := w.Sweep(time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = w.Sweep(time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestNewLogger(t *testing.T) {
	l, err := app.NewLogger(config.Logging{Disable: true})
	require.NoError(t, err)
	assert.NotNil(t, l)

	_, err = app.NewLogger(config.Logging{Level: "loud"})
	require.Error(t, err)

	l, err = app.NewLogger(config.Logging{Level: "debug", Development: true})
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(-1))
}
