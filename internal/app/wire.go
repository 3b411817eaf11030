package app

import (
	"net/http"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"parley/internal/config"
	"parley/internal/domain"
	"parley/internal/metrics"
	"parley/internal/relay"
	"parley/internal/services/identity"
	messagesvc "parley/internal/services/message"
	prekeysvc "parley/internal/services/prekey"
	sessionsvc "parley/internal/services/session"
	"parley/internal/store"
)

// Wire bundles all stores, services, and clients for the CLI.
type Wire struct {
	Settings *config.Config
	Profile  domain.Profile
	Logger   *zap.Logger
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	Storage  *store.Storage
	Profiles *store.ProfileStore
	Identity *identity.Service
	PreKeys  *prekeysvc.Service
	Sessions *sessionsvc.Manager
	Messages *messagesvc.Service
	Relay    *relay.HTTP
}

// NewWire constructs the dependency graph from cfg and unlocks the storage.
func NewWire(cfg Config) (*Wire, error) {
	s := cfg.Settings
	if s == nil {
		s = config.Default()
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		var err error
		if logger, err = NewLogger(s.Logging); err != nil {
			return nil, err
		}
	}

	reg := prometheus.NewRegistry()
	mt := metrics.New(reg)

	// Encrypted key storage
	backend, err := openBackend(cfg.Home, s.Storage)
	if err != nil {
		return nil, err
	}
	storageKDF, err := s.StorageKDF()
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	st, err := store.Open(backend, storageKDF, cfg.Secret)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}

	profile := s.LocalProfile()
	device := profile.DeviceID
	ids := store.NewIdentityStore(st, device)
	prekeys := store.NewPreKeyStore(st, device, s.Storage.SignedPreKeyTTL.Duration, s.Storage.PreKeyTTL.Duration)
	sessions := store.NewSessionStore(st, device)

	// Relay client
	httpClient := cfg.HTTP
	if httpClient == nil {
		httpClient = &http.Client{Timeout: s.Relay.Timeout.Duration}
	}
	rc := relay.NewHTTP(s.Relay.URL,
		relay.WithHTTPClient(httpClient),
		relay.WithRetries(s.Relay.Retries),
		relay.WithLogger(logger.Named("relay")),
	)

	// High-level services
	protocolKDF, err := s.ProtocolKDF()
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	suite, err := s.Suite()
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	mgr, err := sessionsvc.New(sessions, ids, prekeys, rc, protocolKDF, s.Ratchet(),
		sessionsvc.WithLogger(logger),
		sessionsvc.WithMetrics(mt),
		sessionsvc.WithSuite(suite),
	)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	msgs := messagesvc.New(profile, mgr, rc, rc,
		messagesvc.WithLogger(logger),
		messagesvc.WithMetrics(mt),
	)

	logger.Debug("app wired",
		zap.String("backend", s.Storage.Backend),
		zap.String("kdf", protocolKDF.Name()),
		zap.String("cipher", suite.Name()),
		zap.String("profile", s.Profile),
	)
	return &Wire{
		Settings: s,
		Profile:  profile,
		Logger:   logger,
		Registry: reg,
		Metrics:  mt,
		Storage:  st,
		Profiles: store.NewProfileStore(st),
		Identity: identity.New(ids),
		PreKeys:  prekeysvc.New(ids, prekeys, rc),
		Sessions: mgr,
		Messages: msgs,
		Relay:    rc,
	}, nil
}

func openBackend(home string, c config.Storage) (store.Backend, error) {
	path := c.Path
	if !filepath.IsAbs(path) {
		path = filepath.Join(home, path)
	}
	switch c.Backend {
	case config.BackendLevelDB:
		return store.OpenLevel(path)
	case config.BackendBolt:
		return store.OpenBolt(path)
	default:
		return nil, errors.Errorf("unknown storage backend %q", c.Backend)
	}
}

// Sweep deletes expired records.
func (w *Wire) Sweep(now time.Time) (int, error) {
	n, err := w.Storage.SweepExpired(now)
	if err != nil {
		return 0, err
	}
	w.Metrics.RecordsSwept(n)
	if n > 0 {
		w.Logger.Info("swept expired records", zap.Int("count", n))
	}
	return n, nil
}

// Close wipes live sessions, locks and closes the storage and flushes the
// metrics textfile when one is configured.
func (w *Wire) Close() error {
	w.Sessions.Close()
	err := w.Storage.Close()
	if path := w.Settings.Metrics.Textfile; path != "" {
		if werr := prometheus.WriteToTextfile(path, w.Registry); werr != nil && err == nil {
			err = errors.Wrap(werr, "write metrics")
		}
	}
	_ = w.Logger.Sync()
	return err
}
