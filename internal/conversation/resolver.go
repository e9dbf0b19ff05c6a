// Package conversation resolves chat identity: given two users, find the
// one conversation that may already exist between them, or create exactly
// one. Uniqueness of the pair is procedural (find-before-create), not a
// store constraint, so the scan step never falls back to creation on error.
package conversation

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"chatapp/infrastructure"
	"chatapp/internal/identity"
	"chatapp/internal/rtdb"
)

const (
	usersRoot     = "users"
	userChatsRoot = "user-chats"
	chatsRoot     = "chats"
)

// Summary is the denormalized per-participant view of a conversation. Two
// summaries exist per conversation, one under each participant; they agree
// on ChatID and Participants but each side tracks its own UnreadCount.
type Summary struct {
	ChatID          string   `json:"chatId"`
	Participants    []string `json:"participants"`
	LastMessage     string   `json:"lastMessage"`
	LastMessageTime int64    `json:"lastMessageTime"`
	UnreadCount     int      `json:"unreadCount"`
}

// Resolution is the terminal state of a resolve request.
type Resolution struct {
	ChatID  string
	Created bool
}

type Resolver struct {
	store rtdb.Store
	log   zerolog.Logger
}

func NewResolver(store rtdb.Store, log zerolog.Logger) *Resolver {
	return &Resolver{store: store, log: log.With().Str("component", "resolver").Logger()}
}

// Resolve walks the request through its stages: self-check by phone
// equality, scan of the requester's existing summaries, then creation of a
// fresh conversation with both denormalized summaries. Read failures
// surface as ErrLookupFailed and never degrade into creating a duplicate.
//
// Known gap: two users first-contacting each other concurrently can each
// pass the scan and create divergent chat ids for the same pair. The store
// offers no compare-and-swap to close this, so the race is accepted.
func (r *Resolver) Resolve(ctx context.Context, selfID, targetID string) (*Resolution, error) {
	if selfID == "" || targetID == "" {
		return nil, infrastructure.ErrInvalidInput
	}

	if err := r.selfCheck(ctx, selfID, targetID); err != nil {
		return nil, err
	}

	existing, err := r.scanExisting(ctx, selfID, targetID)
	if err != nil {
		return nil, err
	}
	if existing != "" {
		return &Resolution{ChatID: existing}, nil
	}

	chatID, err := r.create(ctx, selfID, targetID)
	if err != nil {
		return nil, err
	}
	return &Resolution{ChatID: chatID, Created: true}, nil
}

// Summaries returns the requester's own conversation summaries in key order.
func (r *Resolver) Summaries(ctx context.Context, uid string) ([]Summary, error) {
	snapshot, err := r.store.Get(ctx, userChatsRoot+"/"+uid)
	if err != nil {
		return nil, fmt.Errorf("%w: summaries for %s: %v", infrastructure.ErrLookupFailed, uid, err)
	}
	var summaries []Summary
	for _, chatID := range rtdb.ChildKeys(snapshot) {
		var summary Summary
		if err := rtdb.Decode(rtdb.Child(snapshot, chatID), &summary); err != nil {
			r.log.Warn().Err(err).Str("chatId", chatID).Msg("skipping undecodable summary")
			continue
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

func (r *Resolver) selfCheck(ctx context.Context, selfID, targetID string) error {
	selfSnapshot, err := r.store.Get(ctx, usersRoot+"/"+selfID)
	if err != nil {
		return fmt.Errorf("%w: own profile: %v", infrastructure.ErrLookupFailed, err)
	}
	targetSnapshot, err := r.store.Get(ctx, usersRoot+"/"+targetID)
	if err != nil {
		return fmt.Errorf("%w: target profile: %v", infrastructure.ErrLookupFailed, err)
	}
	var self, target identity.User
	if err := rtdb.Decode(selfSnapshot, &self); err != nil {
		return fmt.Errorf("decode own profile: %w", err)
	}
	if err := rtdb.Decode(targetSnapshot, &target); err != nil {
		return fmt.Errorf("decode target profile: %w", err)
	}
	if self.PhoneNumber != "" && self.PhoneNumber == target.PhoneNumber {
		return infrastructure.ErrSelfChatForbidden
	}
	return nil
}

// scanExisting walks the requester's summaries looking for the target in
// the participant set. First hit wins; by invariant there can be only one,
// and if a prior bug violated that, first-encountered is the accepted
// answer.
func (r *Resolver) scanExisting(ctx context.Context, selfID, targetID string) (string, error) {
	snapshot, err := r.store.Get(ctx, userChatsRoot+"/"+selfID)
	if err != nil {
		return "", fmt.Errorf("%w: scan chats of %s: %v", infrastructure.ErrLookupFailed, selfID, err)
	}
	for _, chatID := range rtdb.ChildKeys(snapshot) {
		var summary Summary
		if err := rtdb.Decode(rtdb.Child(snapshot, chatID), &summary); err != nil {
			continue
		}
		for _, participant := range summary.Participants {
			if participant == targetID {
				if summary.ChatID != "" {
					return summary.ChatID, nil
				}
				return chatID, nil
			}
		}
	}
	return "", nil
}

// create allocates a chat id and writes both summaries: unread 0 for the
// initiator, 1 reserved for the recipient's first message. The reservation
// is provisional; the message store finalizes it on first send. The two
// writes are independent; a failed second write is logged, not rolled
// back.
func (r *Resolver) create(ctx context.Context, selfID, targetID string) (string, error) {
	chatID, err := r.store.Push(ctx, chatsRoot)
	if err != nil {
		r.log.Warn().Err(err).Msg("push key allocation failed, using uuid")
		chatID = uuid.New().String()
	}

	participants := []string{selfID, targetID}
	own := Summary{ChatID: chatID, Participants: participants, UnreadCount: 0}
	peer := Summary{ChatID: chatID, Participants: participants, UnreadCount: 1}

	if err := r.store.Set(ctx, summaryPath(selfID, chatID), own); err != nil {
		return "", fmt.Errorf("create own summary: %w", err)
	}
	if err := r.store.Set(ctx, summaryPath(targetID, chatID), peer); err != nil {
		r.log.Error().Err(err).Str("chatId", chatID).Str("uid", targetID).
			Msg("peer summary write failed; sides will diverge until repaired")
	}
	return chatID, nil
}

// Repair reads both sides of a conversation and fixes divergence on the
// shared fields (chat id and participant set), leaving each side's unread
// count alone. It is the reconciliation pass for the eventually-consistent
// summary pair.
func (r *Resolver) Repair(ctx context.Context, chatID, selfID, peerID string) error {
	ownSnapshot, err := r.store.Get(ctx, summaryPath(selfID, chatID))
	if err != nil {
		return fmt.Errorf("%w: repair read own: %v", infrastructure.ErrLookupFailed, err)
	}
	peerSnapshot, err := r.store.Get(ctx, summaryPath(peerID, chatID))
	if err != nil {
		return fmt.Errorf("%w: repair read peer: %v", infrastructure.ErrLookupFailed, err)
	}
	if ownSnapshot == nil && peerSnapshot == nil {
		return infrastructure.ErrChatNotFound
	}

	var reference Summary
	source := ownSnapshot
	if source == nil {
		source = peerSnapshot
	}
	if err := rtdb.Decode(source, &reference); err != nil {
		return fmt.Errorf("decode summary for repair: %w", err)
	}
	shared := map[string]any{
		"chatId":          chatID,
		"participants":    reference.Participants,
		"lastMessage":     reference.LastMessage,
		"lastMessageTime": reference.LastMessageTime,
	}
	if ownSnapshot == nil {
		shared["unreadCount"] = 0
	}
	if err := r.store.Update(ctx, summaryPath(selfID, chatID), shared); err != nil {
		return fmt.Errorf("repair own summary: %w", err)
	}
	delete(shared, "unreadCount")
	if peerSnapshot == nil {
		shared["unreadCount"] = 0
	}
	if err := r.store.Update(ctx, summaryPath(peerID, chatID), shared); err != nil {
		return fmt.Errorf("repair peer summary: %w", err)
	}
	return nil
}

func summaryPath(uid, chatID string) string {
	return userChatsRoot + "/" + uid + "/" + chatID
}
