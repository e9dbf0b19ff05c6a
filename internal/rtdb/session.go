package rtdb

import (
	"context"
	"sync"
)

// Session models one live client connection to the store. It exposes the
// connectivity signal and accepts on-disconnect writes: mutations the store
// applies by itself when the connection drops, whether or not any client
// code gets to run.
type Session struct {
	store *MemoryStore

	mu        sync.Mutex
	connected bool
	closed    bool
	hooks     []disconnectWrite
	watchers  []chan bool
}

type disconnectWrite struct {
	path  string
	value any
}

// OpenSession starts a connected session.
func (s *MemoryStore) OpenSession() *Session {
	return &Session{store: s, connected: true}
}

// Connected delivers the current connectivity state immediately, then every
// transition. Mirrors the ".info/connected" signal of hosted backends.
func (sess *Session) Connected() <-chan bool {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	ch := make(chan bool, 8)
	ch <- sess.connected
	sess.watchers = append(sess.watchers, ch)
	return ch
}

// OnDisconnectSet registers a write the store applies when the session
// closes. Registering the same path again replaces the pending write.
func (sess *Session) OnDisconnectSet(path string, value any) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.closed {
		return
	}
	for i, h := range sess.hooks {
		if h.path == path {
			sess.hooks[i].value = value
			return
		}
	}
	sess.hooks = append(sess.hooks, disconnectWrite{path: path, value: value})
}

// Close drops the connection: pending on-disconnect writes are applied and
// the connectivity signal goes false. Closing twice is a no-op.
func (sess *Session) Close() {
	sess.mu.Lock()
	if sess.closed {
		sess.mu.Unlock()
		return
	}
	sess.closed = true
	sess.connected = false
	hooks := sess.hooks
	sess.hooks = nil
	watchers := sess.watchers
	sess.mu.Unlock()

	for _, h := range hooks {
		_ = sess.store.Set(context.Background(), h.path, h.value)
	}
	for _, ch := range watchers {
		select {
		case ch <- false:
		default:
		}
	}
}
