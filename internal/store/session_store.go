package store

import (
	"context"
	"sort"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"

	"parley/internal/domain"
)

// SessionStore is the persistent session repository. Sessions are stored as
// "session-<peer>-<device>" records owned by the local device.
type SessionStore struct {
	kv     domain.KeyStorage
	device domain.DeviceID
	now    func() time.Time
}

// NewSessionStore returns a SessionStore for the local device.
func NewSessionStore(kv domain.KeyStorage, device domain.DeviceID) *SessionStore {
	return &SessionStore{kv: kv, device: device, now: time.Now}
}

func sessionID(key domain.SessionKey) string { return "session-" + key.String() }

// LoadSession retrieves the session with a peer device.
func (s *SessionStore) LoadSession(ctx context.Context, key domain.SessionKey) (domain.Session, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.Session{}, false, err
	}
	var sess domain.Session
	ok, err := load(s.kv, sessionID(key), &sess)
	return sess, ok, err
}

// SaveSession writes sess and stamps LastUsed.
func (s *SessionStore) SaveSession(ctx context.Context, sess domain.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sess.LastUsed = s.now()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = sess.LastUsed
	}
	return save(s.kv, domain.KeyRecord{
		ID:        sessionID(sess.Key),
		Type:      domain.KeyTypeSession,
		DeviceID:  s.device,
		CreatedAt: sess.CreatedAt,
	}, sess)
}

// DeleteSession removes the session with a peer device.
func (s *SessionStore) DeleteSession(ctx context.Context, key domain.SessionKey) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.kv.Delete(sessionID(key))
}

// ListSessions returns the keys of all stored sessions, ordered.
func (s *SessionStore) ListSessions(ctx context.Context) ([]domain.SessionKey, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	recs, err := s.kv.ListByType(domain.KeyTypeSession)
	if err != nil {
		return nil, err
	}
	keys := make([]domain.SessionKey, 0, len(recs))
	for _, rec := range recs {
		if rec.DeviceID != s.device {
			continue
		}
		var sess struct {
			Key domain.SessionKey `cbor:"1,keyasint"`
		}
		if err := cbor.Unmarshal(rec.Data, &sess); err != nil {
			return nil, errors.Wrapf(err, "decode %s", rec.ID)
		}
		keys = append(keys, sess.Key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Peer != keys[j].Peer {
			return keys[i].Peer < keys[j].Peer
		}
		return keys[i].Device < keys[j].Device
	})
	return keys, nil
}

// Compile-time assertion that SessionStore implements domain.SessionRepository.
var _ domain.SessionRepository = (*SessionStore)(nil)
