package session

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"parley/internal/crypto"
	"parley/internal/crypto/aead"
	"parley/internal/crypto/kdf"
	"parley/internal/domain"
	"parley/internal/metrics"
	"parley/internal/protocol/ratchet"
	"parley/internal/protocol/x3dh"
)

// Conversation is a session together with its live ratchet. Callers of Do
// receive a private copy; it replaces the stored session only when their
// function succeeds.
type Conversation struct {
	Session domain.Session
	Ratchet *ratchet.Ratchet
}

func (c *Conversation) clone() *Conversation {
	s := c.Session
	if c.Session.PendingPreKey != nil {
		pk := *c.Session.PendingPreKey
		s.PendingPreKey = &pk
	}
	s.State = domain.RatchetState{}
	return &Conversation{Session: s, Ratchet: c.Ratchet.Clone()}
}

func (c *Conversation) wipe() {
	if c != nil && c.Ratchet != nil {
		c.Ratchet.Wipe()
	}
}

// Manager owns the sessions of the local device.
//
// Each (peer, device) session has its own context-aware lock, so work on
// different sessions runs in parallel while work on one session is
// serialised. Every change goes through Do: the caller mutates a copy, the
// copy is persisted, and only then does it become the live session.
type Manager struct {
	repo    domain.SessionRepository
	ids     domain.IdentityStore
	prekeys domain.PreKeyStore
	dir     domain.Directory
	kdf     kdf.Strategy
	cfg     ratchet.Config
	suite   aead.Suite
	metrics *metrics.Metrics
	log     *zap.Logger

	mu     sync.Mutex
	locks  map[domain.SessionKey]*keyLock
	live   map[domain.SessionKey]*Conversation
	closed bool
}

// ErrClosed is returned by operations started after Close.
var ErrClosed = errors.New("session manager closed")

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger; the manager names it "session".
func WithLogger(l *zap.Logger) Option { return func(m *Manager) { m.log = l } }

// WithMetrics records handshakes and ratchet events on mt.
func WithMetrics(mt *metrics.Metrics) Option { return func(m *Manager) { m.metrics = mt } }

// WithSuite selects the AEAD suite used by new and restored ratchets.
func WithSuite(s aead.Suite) Option { return func(m *Manager) { m.suite = s } }

// New returns a Manager. dir may be nil on devices that only respond.
func New(
	repo domain.SessionRepository,
	ids domain.IdentityStore,
	prekeys domain.PreKeyStore,
	dir domain.Directory,
	strategy kdf.Strategy,
	cfg ratchet.Config,
	opts ...Option,
) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Manager{
		repo:    repo,
		ids:     ids,
		prekeys: prekeys,
		dir:     dir,
		kdf:     strategy,
		cfg:     cfg,
		suite:   aead.ChaCha20Poly1305,
		log:     zap.NewNop(),
		locks:   make(map[domain.SessionKey]*keyLock),
		live:    make(map[domain.SessionKey]*Conversation),
	}
	for _, o := range opts {
		o(m)
	}
	if m.metrics == nil {
		m.metrics = metrics.New(nil)
	}
	m.log = m.log.Named("session")
	// Fail early on a suite that cannot take the configured key length.
	if _, err := m.newRatchet(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) newRatchet() (*ratchet.Ratchet, error) {
	return ratchet.New(m.cfg, m.kdf, ratchet.WithObserver(m.metrics), ratchet.WithSuite(m.suite))
}

// Do runs fn on a copy of the session with key under the session lock. The
// copy is persisted and becomes the live session only if fn succeeds and
// ctx is still live; otherwise the session is left untouched.
func (m *Manager) Do(ctx context.Context, key domain.SessionKey, fn func(*Conversation) error) error {
	release, err := m.lock(ctx, key)
	if err != nil {
		return err
	}
	defer release()

	cur, err := m.load(ctx, key)
	if err != nil {
		return err
	}
	w := cur.clone()
	if err := fn(w); err != nil {
		w.wipe()
		return err
	}
	return m.commit(ctx, cur, w)
}

// load returns the live conversation, restoring it from the repository on
// first use. Callers hold the session lock.
func (m *Manager) load(ctx context.Context, key domain.SessionKey) (*Conversation, error) {
	m.mu.Lock()
	c, ok := m.live[key]
	m.mu.Unlock()
	if ok {
		return c, nil
	}

	sess, found, err := m.repo.LoadSession(ctx, key)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errors.Wrapf(domain.ErrSessionNotFound, "%s", key)
	}
	r, err := m.newRatchet()
	if err != nil {
		return nil, err
	}
	if err := r.Restore(sess.State); err != nil {
		return nil, errors.Wrapf(err, "restore session %s", key)
	}
	sess.State = domain.RatchetState{}
	c = &Conversation{Session: sess, Ratchet: r}

	m.mu.Lock()
	m.live[key] = c
	m.mu.Unlock()
	return c, nil
}

// commit persists w and swaps it in for old. Callers hold the session lock.
func (m *Manager) commit(ctx context.Context, old, w *Conversation) error {
	if err := ctx.Err(); err != nil {
		w.wipe()
		return err
	}
	w.Session.State = w.Ratchet.State()
	err := m.repo.SaveSession(ctx, w.Session)
	w.Session.State = domain.RatchetState{}
	if err != nil {
		w.wipe()
		return errors.Wrapf(err, "save session %s", w.Session.Key)
	}

	m.mu.Lock()
	m.live[w.Session.Key] = w
	m.mu.Unlock()
	if old != nil && old != w {
		old.wipe()
	}
	return nil
}

// InitiateSession runs X3DH as the initiator against the peer device's
// published bundle and stores the new session, replacing any existing one.
//
// Steps:
//  1. Load our own identity.
//  2. Fetch the peer's pre-key bundle from the directory (identity key,
//     signed pre-key and at most one one-time pre-key).
//  3. Verify the bundle and run X3DH.
//  4. Seed the ratchet as initiator and persist the session. Until the peer
//     replies, outgoing messages carry the handshake parameters.
func (m *Manager) InitiateSession(ctx context.Context, key domain.SessionKey) (domain.Session, error) {
	if m.dir == nil {
		return domain.Session{}, errors.New("no directory configured")
	}
	release, err := m.lock(ctx, key)
	if err != nil {
		return domain.Session{}, err
	}
	defer release()

	id, err := m.ids.LoadIdentity()
	if err != nil {
		return domain.Session{}, err
	}
	bundle, err := m.dir.FetchPreKeyBundle(ctx, key.Peer, key.Device)
	if err != nil {
		return domain.Session{}, errors.Wrapf(err, "fetch bundle of %s", key)
	}
	if bundle.Username != key.Peer || bundle.DeviceID != key.Device {
		return domain.Session{}, errors.Errorf("directory returned bundle of %s-%d for %s",
			bundle.Username, bundle.DeviceID, key)
	}

	res, err := x3dh.Initiate(m.kdf, id, bundle)
	if err != nil {
		return domain.Session{}, err
	}
	defer res.Wipe()

	r, err := m.newRatchet()
	if err != nil {
		return domain.Session{}, err
	}
	if err := r.InitAsInitiator(res.RootKey, res.ChainKey, res.Ephemeral, bundle.SignedPreKey); err != nil {
		return domain.Session{}, err
	}
	pk := res.PreKeyMessage(id)
	w := &Conversation{
		Session: domain.Session{
			Key:             key,
			PeerIdentityKey: bundle.IdentityKey,
			PeerSigningKey:  bundle.SigningKey,
			Mode:            res.Mode,
			Initiator:       true,
			PendingPreKey:   &pk,
		},
		Ratchet: r,
	}

	m.mu.Lock()
	old := m.live[key]
	m.mu.Unlock()
	if err := m.commit(ctx, old, w); err != nil {
		return domain.Session{}, err
	}

	m.metrics.SessionEstablished(res.Mode)
	m.log.Info("session initiated",
		zap.String("peer", key.Peer.String()),
		zap.Uint32("device", uint32(key.Device)),
		zap.String("mode", string(res.Mode)),
		zap.String("peer_fingerprint", crypto.Fingerprint(bundle.IdentityKey.Slice()).String()),
	)
	out := w.Session
	out.State = w.Ratchet.State()
	return out, nil
}

// Accept runs X3DH as the responder for a received pre-key message and
// hands the fresh conversation to fn, typically to decrypt the message that
// carried it. The session is stored, replacing any existing one, only if fn
// succeeds. On failure the consumed one-time pre-key is put back.
func (m *Manager) Accept(
	ctx context.Context,
	key domain.SessionKey,
	pk domain.PreKeyMessage,
	fn func(*Conversation) error,
) error {
	release, err := m.lock(ctx, key)
	if err != nil {
		return err
	}
	defer release()

	id, err := m.ids.LoadIdentity()
	if err != nil {
		return err
	}
	spk, ok, err := m.prekeys.LoadSignedPreKey(pk.SignedPreKeyID)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Wrapf(domain.ErrNotFound, "signed pre-key %q", pk.SignedPreKeyID)
	}

	var opk *domain.OneTimePreKeyPair
	if pk.OneTimePreKeyID != "" {
		p, ok, err := m.prekeys.ConsumeOneTimePreKey(pk.OneTimePreKeyID)
		if err != nil {
			return err
		}
		if !ok {
			return errors.Wrapf(domain.ErrNotFound, "one-time pre-key %q", pk.OneTimePreKeyID)
		}
		opk = &p
	}
	fail := func(err error) error {
		if opk != nil {
			if rerr := m.prekeys.SaveOneTimePreKeys([]domain.OneTimePreKeyPair{*opk}); rerr != nil {
				m.log.Warn("restore one-time pre-key", zap.String("id", opk.ID.String()), zap.Error(rerr))
			}
		}
		return err
	}

	res, err := x3dh.Respond(m.kdf, id, spk, opk, pk)
	if err != nil {
		return fail(err)
	}
	defer res.Wipe()

	r, err := m.newRatchet()
	if err != nil {
		return fail(err)
	}
	if err := r.InitAsResponder(res.RootKey, res.ChainKey, spk.Pair, pk.EphemeralKey); err != nil {
		return fail(err)
	}
	w := &Conversation{
		Session: domain.Session{
			Key:             key,
			PeerIdentityKey: pk.InitiatorIdentityKey,
			PeerSigningKey:  pk.InitiatorSigningKey,
			Mode:            res.Mode,
		},
		Ratchet: r,
	}
	if err := fn(w); err != nil {
		w.wipe()
		return fail(err)
	}

	m.mu.Lock()
	old := m.live[key]
	m.mu.Unlock()
	if err := m.commit(ctx, old, w); err != nil {
		return fail(err)
	}

	m.metrics.SessionEstablished(res.Mode)
	m.log.Info("session accepted",
		zap.String("peer", key.Peer.String()),
		zap.Uint32("device", uint32(key.Device)),
		zap.String("mode", string(res.Mode)),
		zap.String("peer_fingerprint", crypto.Fingerprint(pk.InitiatorIdentityKey.Slice()).String()),
	)
	return nil
}

// GetSession returns the stored session with a peer device.
func (m *Manager) GetSession(ctx context.Context, key domain.SessionKey) (domain.Session, bool, error) {
	release, err := m.lock(ctx, key)
	if err != nil {
		return domain.Session{}, false, err
	}
	defer release()
	return m.repo.LoadSession(ctx, key)
}

// ListSessions returns the keys of all stored sessions.
func (m *Manager) ListSessions(ctx context.Context) ([]domain.SessionKey, error) {
	return m.repo.ListSessions(ctx)
}

// TeardownSession deletes the session with a peer device and wipes its keys.
func (m *Manager) TeardownSession(ctx context.Context, key domain.SessionKey) error {
	release, err := m.lock(ctx, key)
	if err != nil {
		return err
	}
	defer release()

	if err := m.repo.DeleteSession(ctx, key); err != nil {
		return err
	}
	m.mu.Lock()
	c := m.live[key]
	delete(m.live, key)
	m.mu.Unlock()
	c.wipe()
	m.log.Info("session torn down", zap.String("peer", key.Peer.String()), zap.Uint32("device", uint32(key.Device)))
	return nil
}

// Close rejects new operations and wipes every live session. It waits for
// operations that already hold a session lock, so a session is never wiped
// while in use.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	for {
		m.mu.Lock()
		var key domain.SessionKey
		found := false
		for k := range m.live {
			key, found = k, true
			break
		}
		m.mu.Unlock()
		if !found {
			return
		}

		release, _ := m.acquire(context.Background(), key)
		m.mu.Lock()
		c := m.live[key]
		delete(m.live, key)
		m.mu.Unlock()
		c.wipe()
		release()
	}
}

// Compile-time assertion that Manager implements domain.SessionService.
var _ domain.SessionService = (*Manager)(nil)
