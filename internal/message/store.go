// Package message appends immutable messages to conversation timelines and
// keeps the two denormalized summaries in step: last message text and time
// on both sides, unread count on the recipient's side only. The summary
// writes are independent, not a transaction; a failed sibling write is
// logged and accepted as eventual inconsistency.
package message

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"chatapp/infrastructure"
	"chatapp/internal/conversation"
	"chatapp/internal/rtdb"
)

const (
	messagesRoot  = "messages"
	userChatsRoot = "user-chats"
	chatsRoot     = "chats"

	// imageSummaryText is what an image message shows as in the chat list.
	imageSummaryText = "📷 Image"
)

// Message types.
const (
	TypeText  = "TEXT"
	TypeImage = "IMAGE"
)

// Message is immutable once written except for the Read flag. Note the
// flag is stored but the mark-as-read flow deliberately operates at
// conversation granularity and never consults it.
type Message struct {
	ID         string `json:"id"`
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
	Text       string `json:"text,omitempty"`
	ImageURL   string `json:"imageUrl,omitempty"`
	Type       string `json:"type"`
	Timestamp  int64  `json:"timestamp"`
	Read       bool   `json:"isRead"`
}

type Store struct {
	store rtdb.Store
	log   zerolog.Logger
	now   func() time.Time
}

func NewStore(store rtdb.Store, log zerolog.Logger) *Store {
	return &Store{
		store: store,
		log:   log.With().Str("component", "messages").Logger(),
		now:   time.Now,
	}
}

// SendText appends a text message. An empty chatID creates the
// conversation on first send; the returned chat id is then the new one.
func (s *Store) SendText(ctx context.Context, chatID, senderID, receiverID, text string) (*Message, string, error) {
	if text == "" {
		return nil, chatID, infrastructure.ErrInvalidInput
	}
	msg := &Message{
		ID:         uuid.New().String(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Text:       text,
		Type:       TypeText,
		Timestamp:  s.now().UnixMilli(),
	}
	return s.send(ctx, chatID, msg, text)
}

// SendImage appends an image message by URL; the blob upload already
// happened at the storage boundary.
func (s *Store) SendImage(ctx context.Context, chatID, senderID, receiverID, imageURL string) (*Message, string, error) {
	if imageURL == "" {
		return nil, chatID, infrastructure.ErrInvalidInput
	}
	msg := &Message{
		ID:         uuid.New().String(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		ImageURL:   imageURL,
		Type:       TypeImage,
		Timestamp:  s.now().UnixMilli(),
	}
	return s.send(ctx, chatID, msg, imageSummaryText)
}

func (s *Store) send(ctx context.Context, chatID string, msg *Message, summaryText string) (*Message, string, error) {
	if msg.SenderID == "" || msg.ReceiverID == "" {
		return nil, chatID, infrastructure.ErrInvalidInput
	}

	if chatID == "" {
		fresh, err := s.createChat(ctx, msg, summaryText)
		if err != nil {
			return nil, "", err
		}
		chatID = fresh
	} else {
		s.updateSummaries(ctx, chatID, msg, summaryText)
	}

	if err := s.store.Set(ctx, messagesRoot+"/"+chatID+"/"+msg.ID, msg); err != nil {
		return nil, chatID, fmt.Errorf("append message: %w", err)
	}
	return msg, chatID, nil
}

// createChat finalizes a brand-new conversation in one go: both summaries
// written with the first message already reflected (unread 0 for the
// sender, 1 for the receiver).
func (s *Store) createChat(ctx context.Context, msg *Message, summaryText string) (string, error) {
	chatID, err := s.store.Push(ctx, chatsRoot)
	if err != nil {
		s.log.Warn().Err(err).Msg("push key allocation failed, using uuid")
		chatID = uuid.New().String()
	}

	participants := []string{msg.SenderID, msg.ReceiverID}
	own := conversation.Summary{
		ChatID: chatID, Participants: participants,
		LastMessage: summaryText, LastMessageTime: msg.Timestamp, UnreadCount: 0,
	}
	peer := conversation.Summary{
		ChatID: chatID, Participants: participants,
		LastMessage: summaryText, LastMessageTime: msg.Timestamp, UnreadCount: 1,
	}
	if err := s.store.Set(ctx, summaryPath(msg.SenderID, chatID), own); err != nil {
		return "", fmt.Errorf("create sender summary: %w", err)
	}
	if err := s.store.Set(ctx, summaryPath(msg.ReceiverID, chatID), peer); err != nil {
		s.log.Error().Err(err).Str("chatId", chatID).Msg("receiver summary write failed on create")
	}
	return chatID, nil
}

// updateSummaries refreshes last message text/time on both sides and bumps
// the receiver's unread count. The bump is read-modify-write, not an atomic
// increment: concurrent sends can under-count, a race the store's API gives
// us no primitive to close. A summary created by the resolver but never
// sent to (no last message time yet) takes the reserved count of 1 instead
// of an increment, so the first message is not counted twice.
func (s *Store) updateSummaries(ctx context.Context, chatID string, msg *Message, summaryText string) {
	shared := map[string]any{
		"chatId":          chatID,
		"lastMessage":     summaryText,
		"lastMessageTime": msg.Timestamp,
	}
	if err := s.store.Update(ctx, summaryPath(msg.SenderID, chatID), shared); err != nil {
		s.log.Error().Err(err).Str("chatId", chatID).Msg("sender summary update failed")
	}
	if err := s.store.Update(ctx, summaryPath(msg.ReceiverID, chatID), shared); err != nil {
		s.log.Error().Err(err).Str("chatId", chatID).Msg("receiver summary update failed")
	}

	unreadPath := summaryPath(msg.ReceiverID, chatID) + "/unreadCount"
	current, err := s.store.Get(ctx, unreadPath)
	if err != nil {
		s.log.Error().Err(err).Str("chatId", chatID).Msg("unread count read failed, skipping bump")
		return
	}
	next := rtdb.Int(current, 0) + 1
	if s.isFreshChat(ctx, chatID) {
		// The resolver already reserved a count of 1 for the first message.
		next = 1
	}
	if err := s.store.Set(ctx, unreadPath, next); err != nil {
		s.log.Error().Err(err).Str("chatId", chatID).Msg("unread count write failed")
	}
}

// isFreshChat reports whether no message has ever landed in the timeline,
// i.e. the summaries were just reserved by the resolver.
func (s *Store) isFreshChat(ctx context.Context, chatID string) bool {
	timeline, err := s.store.Get(ctx, messagesRoot+"/"+chatID)
	if err != nil {
		return false
	}
	return len(rtdb.ChildKeys(timeline)) == 0
}

// MarkAllRead zeroes the reader's own unread count. It touches nothing
// else: not the other side's summary, not individual message flags.
func (s *Store) MarkAllRead(ctx context.Context, chatID, readerID string) error {
	if chatID == "" || readerID == "" {
		return infrastructure.ErrInvalidInput
	}
	if err := s.store.Set(ctx, summaryPath(readerID, chatID)+"/unreadCount", 0); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

// Messages returns the full timeline sorted ascending by timestamp; equal
// timestamps keep key enumeration order. There is no server-assigned
// sequence number, so cross-device ties have no defined order beyond that.
func (s *Store) Messages(ctx context.Context, chatID string) ([]*Message, error) {
	snapshot, err := s.store.Get(ctx, messagesRoot+"/"+chatID)
	if err != nil {
		return nil, fmt.Errorf("%w: messages of %s: %v", infrastructure.ErrLookupFailed, chatID, err)
	}
	return decodeTimeline(snapshot, s.log), nil
}

// Subscribe delivers the full, re-sorted timeline on every mutation to the
// conversation. O(n) per update, accepted for one-to-one conversation
// sizes. Cancel via the returned func.
func (s *Store) Subscribe(ctx context.Context, chatID string) (<-chan []*Message, func()) {
	raw, cancel := s.store.Subscribe(messagesRoot + "/" + chatID)
	out := make(chan []*Message, 8)
	go func() {
		defer close(out)
		for snapshot := range raw {
			timeline := decodeTimeline(snapshot, s.log)
			select {
			case out <- timeline:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, cancel
}

func decodeTimeline(snapshot any, log zerolog.Logger) []*Message {
	keys := rtdb.ChildKeys(snapshot)
	timeline := make([]*Message, 0, len(keys))
	for _, key := range keys {
		var msg Message
		if err := rtdb.Decode(rtdb.Child(snapshot, key), &msg); err != nil {
			log.Warn().Err(err).Str("messageId", key).Msg("skipping undecodable message")
			continue
		}
		timeline = append(timeline, &msg)
	}
	sort.SliceStable(timeline, func(i, j int) bool {
		return timeline[i].Timestamp < timeline[j].Timestamp
	})
	return timeline
}

func summaryPath(uid, chatID string) string {
	return userChatsRoot + "/" + uid + "/" + chatID
}
