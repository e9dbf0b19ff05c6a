// Package presence keeps a user's Online/Offline flag keyed to live
// connection state. Going offline is handled by a server-armed disconnect
// hook: the backend applies the Offline write itself when the connection
// drops, because a crashing or killed client never gets to run cleanup.
package presence

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"chatapp/internal/identity"
	"chatapp/internal/rtdb"
)

// ConnectionSignal reports live connectivity, current state first. The
// in-memory store's Session implements it.
type ConnectionSignal interface {
	Connected() <-chan bool
}

// DisconnectRegistrar accepts writes to apply server-side on disconnect.
type DisconnectRegistrar interface {
	OnDisconnectSet(path string, value any)
}

type Tracker struct {
	store rtdb.Store
	log   zerolog.Logger

	mu      sync.Mutex
	started bool
	stop    func()
}

func NewTracker(store rtdb.Store, log zerolog.Logger) *Tracker {
	return &Tracker{store: store, log: log.With().Str("component", "presence").Logger()}
}

// Start arms presence tracking for uid. Idempotent: repeated calls on a
// started tracker do nothing, so hooks are never armed twice. The guard
// lives on the tracker, not in package state, so independent trackers can
// be exercised in isolation.
func (t *Tracker) Start(ctx context.Context, uid string, signal ConnectionSignal, registrar DisconnectRegistrar) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		t.log.Debug().Str("uid", uid).Msg("presence already initialized")
		return
	}
	if uid == "" {
		t.log.Warn().Msg("cannot track presence without an authenticated user")
		return
	}
	t.started = true

	watchCtx, cancel := context.WithCancel(ctx)
	t.stop = cancel
	go t.watch(watchCtx, uid, signal, registrar)
}

// Stop tears down the connectivity watch. The armed disconnect hooks stay
// armed; they belong to the session, not the tracker.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stop != nil {
		t.stop()
		t.stop = nil
	}
	t.started = false
}

func (t *Tracker) watch(ctx context.Context, uid string, signal ConnectionSignal, registrar DisconnectRegistrar) {
	statusPath := "users/" + uid + "/status"
	lastSeenPath := "users/" + uid + "/lastSeen"
	connectivity := signal.Connected()

	for {
		select {
		case <-ctx.Done():
			return
		case connected, ok := <-connectivity:
			if !ok {
				return
			}
			if !connected {
				continue
			}
			// Online now; the store itself flips us Offline and stamps
			// lastSeen whenever this connection drops, for any reason.
			if err := t.store.Set(ctx, statusPath, identity.StatusOnline); err != nil {
				t.log.Error().Err(err).Str("uid", uid).Msg("failed to publish online status")
				continue
			}
			registrar.OnDisconnectSet(lastSeenPath, rtdb.ServerTimestamp)
			registrar.OnDisconnectSet(statusPath, identity.StatusOffline)
		}
	}
}
