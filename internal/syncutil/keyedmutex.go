// Package syncutil provides per-key locking primitives.
package syncutil

import (
	"context"
	"sync"
)

// KeyedMutex holds one channel-based mutex per key. Entries exist only while
// a key is held or awaited, so memory tracks concurrency rather than the
// number of keys ever seen. Unlike a sharded pool, two distinct keys never
// contend, which matters when "is this key locked?" drives a scheduling
// decision.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

// keyLock is a mutex implemented via a buffered channel, allowing select{}
// with a context cancellation channel or a non-blocking attempt.
type keyLock struct {
	ch   chan struct{}
	refs int
}

// NewKeyedMutex creates an empty keyed mutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyLock)}
}

// LockContext acquires the mutex for key, respecting context cancellation.
// On success it returns an unlock function the caller MUST call.
func (m *KeyedMutex) LockContext(ctx context.Context, key string) (func(), error) {
	l := m.ref(key)
	select {
	case <-l.ch:
		return m.unlocker(key, l), nil
	case <-ctx.Done():
		m.unref(key, l)
		return nil, ctx.Err()
	}
}

// TryLock acquires the mutex for key only if it is free right now.
func (m *KeyedMutex) TryLock(key string) (func(), bool) {
	l := m.ref(key)
	select {
	case <-l.ch:
		return m.unlocker(key, l), true
	default:
		m.unref(key, l)
		return nil, false
	}
}

// Held reports whether key is currently locked. The answer is advisory:
// it may change as soon as the call returns.
func (m *KeyedMutex) Held(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[key]
	if !ok {
		return false
	}
	return len(l.ch) == 0
}

// Len returns the number of keys currently held or awaited.
func (m *KeyedMutex) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

func (m *KeyedMutex) ref(key string) *keyLock {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locks == nil {
		m.locks = make(map[string]*keyLock)
	}
	l, ok := m.locks[key]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		l.ch <- struct{}{} // Start unlocked.
		m.locks[key] = l
	}
	l.refs++
	return l
}

func (m *KeyedMutex) unref(key string, l *keyLock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(m.locks, key)
	}
}

func (m *KeyedMutex) unlocker(key string, l *keyLock) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			l.ch <- struct{}{}
			m.unref(key, l)
		})
	}
}
