// Package roster maintains the UI-facing ordered list of conversation
// summaries, reconciling live subscription snapshots with optimistic local
// mutations. While a delete is in flight, incoming snapshots may only add
// genuinely new conversations, never resurrect the one just removed.
package roster

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"chatapp/infrastructure"
	"chatapp/internal/conversation"
	"chatapp/internal/rtdb"
)

const userChatsRoot = "user-chats"

type Roster struct {
	store rtdb.Store
	log   zerolog.Logger

	mu         sync.Mutex
	items      []conversation.Summary
	deleting   bool
	removingID string
}

func NewRoster(store rtdb.Store, log zerolog.Logger) *Roster {
	return &Roster{store: store, log: log.With().Str("component", "roster").Logger()}
}

// Watch subscribes to the user's summaries and feeds every snapshot through
// the reconciler. Cancel via the returned func.
func (r *Roster) Watch(ctx context.Context, uid string) func() {
	raw, cancel := r.store.Subscribe(userChatsRoot + "/" + uid)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case snapshot, ok := <-raw:
				if !ok {
					return
				}
				r.ApplySnapshot(decodeSummaries(snapshot, r.log))
			}
		}
	}()
	return cancel
}

// ApplySnapshot reconciles a server snapshot into the local list.
//
// Normal mode replaces the list wholesale: entries with empty ids are
// dropped and the rest sorted by most recent message. While a delete is in
// flight the snapshot may be stale and still contain the optimistically
// removed entry, so only ids not already present are appended and existing
// entries are left alone.
func (r *Roster) ApplySnapshot(summaries []conversation.Summary) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.deleting {
		existing := make(map[string]struct{}, len(r.items))
		for _, item := range r.items {
			existing[item.ChatID] = struct{}{}
		}
		appended := false
		for _, summary := range summaries {
			if summary.ChatID == "" || summary.ChatID == r.removingID {
				continue
			}
			if _, ok := existing[summary.ChatID]; ok {
				continue
			}
			r.items = append(r.items, summary)
			appended = true
		}
		if appended {
			sortByRecency(r.items)
		}
		return
	}

	fresh := make([]conversation.Summary, 0, len(summaries))
	for _, summary := range summaries {
		if summary.ChatID == "" {
			continue
		}
		fresh = append(fresh, summary)
	}
	sortByRecency(fresh)
	r.items = fresh
}

// Delete removes the conversation at index optimistically, then issues the
// backend delete. On failure the entry is reinserted at its original index,
// or appended if the index is no longer valid, and the error surfaces to
// the caller. Only one delete may be in flight at a time.
func (r *Roster) Delete(ctx context.Context, uid string, index int) error {
	r.mu.Lock()
	if r.deleting {
		r.mu.Unlock()
		return infrastructure.ErrDeleteInFlight
	}
	if index < 0 || index >= len(r.items) {
		r.mu.Unlock()
		return infrastructure.ErrInvalidInput
	}
	r.deleting = true
	removed := r.items[index]
	r.removingID = removed.ChatID
	r.items = append(r.items[:index], r.items[index+1:]...)
	r.mu.Unlock()

	err := r.store.Delete(ctx, userChatsRoot+"/"+uid+"/"+removed.ChatID)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleting = false
	r.removingID = ""
	if err != nil {
		r.restoreAt(removed, index)
		r.log.Error().Err(err).Str("chatId", removed.ChatID).Msg("chat delete failed, entry restored")
		return err
	}
	return nil
}

// restoreAt reinserts a rolled-back entry at its original index, or appends
// when the list has shrunk past it in the meantime. Caller holds the lock.
func (r *Roster) restoreAt(removed conversation.Summary, index int) {
	if index <= len(r.items) {
		r.items = append(r.items, conversation.Summary{})
		copy(r.items[index+1:], r.items[index:])
		r.items[index] = removed
		return
	}
	r.items = append(r.items, removed)
}

// Deleting reports whether a delete is currently in flight; the UI uses it
// to disable further swipe gestures.
func (r *Roster) Deleting() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deleting
}

// Items returns a copy of the current list.
func (r *Roster) Items() []conversation.Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]conversation.Summary, len(r.items))
	copy(out, r.items)
	return out
}

// Filter returns the summaries whose peer name matches the query, resolving
// names through the supplied lookup. An empty query returns everything.
func (r *Roster) Filter(query, selfID string, peerName func(uid string) string) []conversation.Summary {
	items := r.Items()
	if query == "" {
		return items
	}
	needle := strings.ToLower(query)
	var out []conversation.Summary
	for _, item := range items {
		for _, participant := range item.Participants {
			if participant == selfID {
				continue
			}
			if strings.Contains(strings.ToLower(peerName(participant)), needle) {
				out = append(out, item)
				break
			}
		}
	}
	return out
}

func sortByRecency(items []conversation.Summary) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].LastMessageTime > items[j].LastMessageTime
	})
}

func decodeSummaries(snapshot any, log zerolog.Logger) []conversation.Summary {
	keys := rtdb.ChildKeys(snapshot)
	out := make([]conversation.Summary, 0, len(keys))
	for _, key := range keys {
		var summary conversation.Summary
		if err := rtdb.Decode(rtdb.Child(snapshot, key), &summary); err != nil {
			log.Warn().Err(err).Str("chatId", key).Msg("skipping undecodable summary")
			continue
		}
		out = append(out, summary)
	}
	return out
}
