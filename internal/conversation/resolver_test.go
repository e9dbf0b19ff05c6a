package conversation

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"chatapp/infrastructure"
	"chatapp/internal/rtdb"
)

func newTestResolver(t *testing.T) (*Resolver, *rtdb.MemoryStore) {
	t.Helper()
	store := rtdb.NewMemoryStore()
	ctx := context.Background()
	seed := map[string]map[string]any{
		"u1": {"uid": "u1", "phoneNumber": "+15551111111"},
		"u2": {"uid": "u2", "phoneNumber": "+15552222222"},
		"u3": {"uid": "u3", "phoneNumber": "+15551111111"}, // same phone as u1
	}
	for uid, profile := range seed {
		if err := store.Set(ctx, "users/"+uid, profile); err != nil {
			t.Fatal(err)
		}
	}
	return NewResolver(store, zerolog.Nop()), store
}

func TestResolveCreatesOnce(t *testing.T) {
	resolver, _ := newTestResolver(t)
	ctx := context.Background()

	first, err := resolver.Resolve(ctx, "u1", "u2")
	if err != nil {
		t.Fatal(err)
	}
	if !first.Created || first.ChatID == "" {
		t.Fatalf("first resolve should create, got %+v", first)
	}

	again, err := resolver.Resolve(ctx, "u1", "u2")
	if err != nil {
		t.Fatal(err)
	}
	if again.Created {
		t.Fatal("second resolve created a duplicate")
	}
	if again.ChatID != first.ChatID {
		t.Fatalf("second resolve found %q, want %q", again.ChatID, first.ChatID)
	}
}

func TestResolveFindsChatFromEitherSide(t *testing.T) {
	resolver, _ := newTestResolver(t)
	ctx := context.Background()

	created, err := resolver.Resolve(ctx, "u1", "u2")
	if err != nil {
		t.Fatal(err)
	}
	reversed, err := resolver.Resolve(ctx, "u2", "u1")
	if err != nil {
		t.Fatal(err)
	}
	if reversed.Created || reversed.ChatID != created.ChatID {
		t.Fatalf("reverse resolve got %+v, want existing %q", reversed, created.ChatID)
	}
}

func TestResolveRejectsSelfByPhone(t *testing.T) {
	resolver, _ := newTestResolver(t)
	// u3 shares u1's phone number under a different uid.
	if _, err := resolver.Resolve(context.Background(), "u1", "u3"); !errors.Is(err, infrastructure.ErrSelfChatForbidden) {
		t.Fatalf("err = %v, want ErrSelfChatForbidden", err)
	}
}

func TestResolveUnreadReservation(t *testing.T) {
	resolver, store := newTestResolver(t)
	ctx := context.Background()

	res, err := resolver.Resolve(ctx, "u1", "u2")
	if err != nil {
		t.Fatal(err)
	}

	own, _ := store.Get(ctx, "user-chats/u1/"+res.ChatID)
	if got := rtdb.Int(rtdb.Child(own, "unreadCount"), -1); got != 0 {
		t.Fatalf("initiator unread = %d, want 0", got)
	}
	peer, _ := store.Get(ctx, "user-chats/u2/"+res.ChatID)
	if got := rtdb.Int(rtdb.Child(peer, "unreadCount"), -1); got != 1 {
		t.Fatalf("recipient unread = %d, want reserved 1", got)
	}
}

func TestResolveLookupFailureNeverCreates(t *testing.T) {
	resolver := NewResolver(failingStore{}, zerolog.Nop())
	if _, err := resolver.Resolve(context.Background(), "u1", "u2"); !errors.Is(err, infrastructure.ErrLookupFailed) {
		t.Fatalf("err = %v, want ErrLookupFailed", err)
	}
}

func TestRepairRestoresMissingSide(t *testing.T) {
	resolver, store := newTestResolver(t)
	ctx := context.Background()

	res, err := resolver.Resolve(ctx, "u1", "u2")
	if err != nil {
		t.Fatal(err)
	}
	// Simulate the peer write having been lost.
	if err := store.Delete(ctx, "user-chats/u2/"+res.ChatID); err != nil {
		t.Fatal(err)
	}

	if err := resolver.Repair(ctx, res.ChatID, "u1", "u2"); err != nil {
		t.Fatal(err)
	}
	peer, _ := store.Get(ctx, "user-chats/u2/"+res.ChatID)
	if rtdb.String(rtdb.Child(peer, "chatId"), "") != res.ChatID {
		t.Fatalf("peer side not restored: %v", peer)
	}
}

func TestRepairUnknownChat(t *testing.T) {
	resolver, _ := newTestResolver(t)
	if err := resolver.Repair(context.Background(), "ghost", "u1", "u2"); !errors.Is(err, infrastructure.ErrChatNotFound) {
		t.Fatalf("err = %v, want ErrChatNotFound", err)
	}
}

type failingStore struct{}

var errStoreDown = errors.New("store down")

func (failingStore) Get(ctx context.Context, path string) (any, error) { return nil, errStoreDown }
func (failingStore) Set(ctx context.Context, path string, v any) error { return errStoreDown }
func (failingStore) Delete(ctx context.Context, path string) error     { return errStoreDown }
func (failingStore) Push(ctx context.Context, path string) (string, error) {
	return "", errStoreDown
}
func (failingStore) Update(ctx context.Context, path string, children map[string]any) error {
	return errStoreDown
}
func (failingStore) Subscribe(path string) (<-chan any, func()) {
	ch := make(chan any)
	close(ch)
	return ch, func() {}
}
