package session

import (
	"context"

	"parley/internal/domain"
)

// keyLock is a mutex that can be abandoned when a context ends. refs counts
// holders and waiters so idle locks can be dropped from the table.
type keyLock struct {
	ch   chan struct{}
	refs int
}

// lock acquires the lock of key or returns ctx.Err(). Once the manager is
// closed it returns ErrClosed, also to callers that were already waiting.
func (m *Manager) lock(ctx context.Context, key domain.SessionKey) (func(), error) {
	release, err := m.acquire(ctx, key)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		release()
		return nil, ErrClosed
	}
	return release, nil
}

func (m *Manager) acquire(ctx context.Context, key domain.SessionKey) (func(), error) {
	m.mu.Lock()
	l, ok := m.locks[key]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		m.locks[key] = l
	}
	l.refs++
	m.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
		return func() {
			<-l.ch
			m.unref(key, l)
		}, nil
	case <-ctx.Done():
		m.unref(key, l)
		return nil, ctx.Err()
	}
}

func (m *Manager) unref(key domain.SessionKey, l *keyLock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(m.locks, key)
	}
}
