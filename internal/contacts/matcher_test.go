package contacts

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"chatapp/internal/identity"
	"chatapp/internal/rtdb"
)

type staticSource []DeviceContact

func (s staticSource) Contacts(ctx context.Context) ([]DeviceContact, error) {
	return s, nil
}

type stalledSource struct{}

func (stalledSource) Contacts(ctx context.Context) ([]DeviceContact, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func seedUser(t *testing.T, store *rtdb.MemoryStore, uid, username, phoneNumber string, indexed bool) {
	t.Helper()
	ctx := context.Background()
	err := store.Set(ctx, "users/"+uid, map[string]any{
		"uid": uid, "username": username, "phoneNumber": phoneNumber,
	})
	if err != nil {
		t.Fatal(err)
	}
	if indexed {
		key := ""
		for _, r := range phoneNumber {
			if r >= '0' && r <= '9' {
				key += string(r)
			}
		}
		if err := store.Set(ctx, "phone-to-users/"+key, uid); err != nil {
			t.Fatal(err)
		}
	}
}

func TestIndexFastPath(t *testing.T) {
	store := rtdb.NewMemoryStore()
	seedUser(t, store, "alice", "Alice", "+15551111111", true)

	source := staticSource{{ID: "c1", Name: "Alice Mobile", PhoneNumber: "555-111-1111"}}
	matcher := NewMatcher(store, source, zerolog.Nop())

	matches, err := matcher.FindRegisteredContacts(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 {
		t.Fatalf("matches = %v, want one", matches)
	}
	if matches[0].ID != "alice" || matches[0].Name != "Alice Mobile" {
		t.Fatalf("match joined wrong: %+v", matches[0])
	}
}

func TestDirectoryScanCatchesUnindexedFormats(t *testing.T) {
	store := rtdb.NewMemoryStore()
	// UK user stored internationally but absent from the phone index.
	seedUser(t, store, "nigel", "Nigel", "+447911123456", false)

	source := staticSource{{ID: "c1", Name: "Nigel", PhoneNumber: "07911 123456"}}
	matcher := NewMatcher(store, source, zerolog.Nop())

	matches, err := matcher.FindRegisteredContacts(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 || matches[0].ID != "nigel" {
		t.Fatalf("cross-format fallback failed: %v", matches)
	}
}

func TestSelfNumberNeverMatches(t *testing.T) {
	store := rtdb.NewMemoryStore()
	seedUser(t, store, "me", "Me", "+15551111111", true)

	self := &identity.User{UID: "me", PhoneNumber: "+15551111111"}
	// Own number saved in the address book under a local format.
	source := staticSource{{ID: "c1", Name: "My Own Number", PhoneNumber: "5551111111"}}
	matcher := NewMatcher(store, source, zerolog.Nop())

	matches, err := matcher.FindRegisteredContacts(context.Background(), self)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 0 {
		t.Fatalf("matched own number: %v", matches)
	}
}

func TestShortAndDuplicateContactsFiltered(t *testing.T) {
	store := rtdb.NewMemoryStore()
	seedUser(t, store, "alice", "Alice", "+15551111111", true)

	source := staticSource{
		{ID: "c1", Name: "Voicemail", PhoneNumber: "121"},
		{ID: "c2", Name: "Alice", PhoneNumber: "+15551111111"},
		{ID: "c3", Name: "Alice Work", PhoneNumber: "+1 555 111 1111"}, // same number again
	}
	matcher := NewMatcher(store, source, zerolog.Nop())

	matches, err := matcher.FindRegisteredContacts(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 {
		t.Fatalf("matches = %v, want the duplicate collapsed", matches)
	}
}

func TestLookupTimesOutWithEmptyResult(t *testing.T) {
	matcher := NewMatcher(rtdb.NewMemoryStore(), stalledSource{}, zerolog.Nop())
	matcher.waitBound = 30 * time.Millisecond

	start := time.Now()
	matches, err := matcher.FindRegisteredContacts(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if matches != nil {
		t.Fatalf("timed-out lookup returned %v", matches)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("lookup was not bounded: %v", elapsed)
	}
}
