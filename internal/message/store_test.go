package message

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"chatapp/infrastructure"
	"chatapp/internal/conversation"
	"chatapp/internal/rtdb"
)

func newTestStore(t *testing.T) (*Store, *rtdb.MemoryStore) {
	t.Helper()
	backend := rtdb.NewMemoryStore()
	store := NewStore(backend, zerolog.Nop())
	var tick int64
	store.now = func() time.Time {
		tick++
		return time.UnixMilli(1700000000000 + tick)
	}
	return store, backend
}

func unread(t *testing.T, backend *rtdb.MemoryStore, uid, chatID string) int64 {
	t.Helper()
	v, err := backend.Get(context.Background(), "user-chats/"+uid+"/"+chatID+"/unreadCount")
	if err != nil {
		t.Fatal(err)
	}
	return rtdb.Int(v, -1)
}

func TestSendTextRejectsEmpty(t *testing.T) {
	store, _ := newTestStore(t)
	if _, _, err := store.SendText(context.Background(), "", "u1", "u2", ""); !errors.Is(err, infrastructure.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestFirstSendCreatesConversation(t *testing.T) {
	store, backend := newTestStore(t)
	ctx := context.Background()

	msg, chatID, err := store.SendText(ctx, "", "u1", "u2", "hello")
	if err != nil {
		t.Fatal(err)
	}
	if chatID == "" {
		t.Fatal("no chat id allocated")
	}
	if msg.Type != TypeText || msg.Timestamp == 0 {
		t.Fatalf("message not stamped: %+v", msg)
	}

	if got := unread(t, backend, "u1", chatID); got != 0 {
		t.Fatalf("sender unread = %d, want 0", got)
	}
	if got := unread(t, backend, "u2", chatID); got != 1 {
		t.Fatalf("receiver unread = %d, want 1", got)
	}

	own, _ := backend.Get(ctx, "user-chats/u1/"+chatID)
	if rtdb.String(rtdb.Child(own, "lastMessage"), "") != "hello" {
		t.Fatalf("sender summary: %v", own)
	}
}

func TestFirstSendIntoResolvedChatKeepsReservedUnread(t *testing.T) {
	store, backend := newTestStore(t)
	ctx := context.Background()

	// The conversation resolver has already reserved both summaries.
	resolver := conversation.NewResolver(backend, zerolog.Nop())
	mustSeedUsers(t, backend)
	res, err := resolver.Resolve(ctx, "u1", "u2")
	if err != nil {
		t.Fatal(err)
	}

	if _, _, err := store.SendText(ctx, res.ChatID, "u1", "u2", "hi"); err != nil {
		t.Fatal(err)
	}
	if got := unread(t, backend, "u2", res.ChatID); got != 1 {
		t.Fatalf("first message counted twice: unread = %d, want 1", got)
	}

	if _, _, err := store.SendText(ctx, res.ChatID, "u1", "u2", "still there?"); err != nil {
		t.Fatal(err)
	}
	if got := unread(t, backend, "u2", res.ChatID); got != 2 {
		t.Fatalf("second message not counted: unread = %d, want 2", got)
	}
}

func TestSendImageUsesSummaryMarker(t *testing.T) {
	store, backend := newTestStore(t)
	ctx := context.Background()

	_, chatID, err := store.SendImage(ctx, "", "u1", "u2", "https://cdn/img.png")
	if err != nil {
		t.Fatal(err)
	}
	summary, _ := backend.Get(ctx, "user-chats/u2/"+chatID)
	if rtdb.String(rtdb.Child(summary, "lastMessage"), "") != imageSummaryText {
		t.Fatalf("image summary = %v", summary)
	}
}

func TestMarkAllReadZeroesReaderOnly(t *testing.T) {
	store, backend := newTestStore(t)
	ctx := context.Background()

	_, chatID, err := store.SendText(ctx, "", "u1", "u2", "one")
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := store.SendText(ctx, chatID, "u2", "u1", "reply"); err != nil {
		t.Fatal(err)
	}
	// Both sides now have unread > 0 from each other's messages.
	if err := store.MarkAllRead(ctx, chatID, "u2"); err != nil {
		t.Fatal(err)
	}
	if got := unread(t, backend, "u2", chatID); got != 0 {
		t.Fatalf("reader unread = %d, want 0", got)
	}
	if got := unread(t, backend, "u1", chatID); got != 1 {
		t.Fatalf("other side unread = %d, must be untouched", got)
	}
}

func TestMessagesOrderedByTimestamp(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, chatID, err := store.SendText(ctx, "", "u1", "u2", "hi")
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := store.SendText(ctx, chatID, "u2", "u1", "yo"); err != nil {
		t.Fatal(err)
	}

	timeline, err := store.Messages(ctx, chatID)
	if err != nil {
		t.Fatal(err)
	}
	if len(timeline) != 2 {
		t.Fatalf("timeline has %d messages, want 2", len(timeline))
	}
	if timeline[0].Text != "hi" || timeline[1].Text != "yo" {
		t.Fatalf("wrong order: %q then %q", timeline[0].Text, timeline[1].Text)
	}
	if timeline[0].Timestamp >= timeline[1].Timestamp {
		t.Fatal("timestamps not increasing")
	}
}

func TestSubscribeDeliversResortedTimeline(t *testing.T) {
	store, _ := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, chatID, err := store.SendText(ctx, "", "u1", "u2", "first")
	if err != nil {
		t.Fatal(err)
	}

	updates, stop := store.Subscribe(ctx, chatID)
	defer stop()

	initial := <-updates
	if len(initial) != 1 || initial[0].Text != "first" {
		t.Fatalf("initial timeline: %+v", initial)
	}

	if _, _, err := store.SendText(ctx, chatID, "u2", "u1", "second"); err != nil {
		t.Fatal(err)
	}
	// The summary writes may deliver intermediate snapshots; drain until the
	// new message shows up.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case timeline := <-updates:
			if len(timeline) == 2 && timeline[1].Text == "second" {
				return
			}
		case <-deadline:
			t.Fatal("subscription never delivered the new message")
		}
	}
}

func TestSubscribeTerminatesOnCancel(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, chatID, err := store.SendText(ctx, "", "u1", "u2", "first")
	if err != nil {
		t.Fatal(err)
	}

	updates, stop := store.Subscribe(ctx, chatID)
	<-updates
	stop()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-updates:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("timeline channel never closed after cancel")
		}
	}
}

func mustSeedUsers(t *testing.T, backend *rtdb.MemoryStore) {
	t.Helper()
	ctx := context.Background()
	for uid, phoneNumber := range map[string]string{"u1": "+15551111111", "u2": "+15552222222"} {
		err := backend.Set(ctx, "users/"+uid, map[string]any{"uid": uid, "phoneNumber": phoneNumber})
		if err != nil {
			t.Fatal(err)
		}
	}
}
