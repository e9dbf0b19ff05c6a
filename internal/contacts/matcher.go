// Package contacts reconciles the device address book against the user
// directory. Matching is tiered: a phone-index fast path first, then a full
// directory scan with cross-format comparison when the index yields nothing.
// The whole operation is bounded: after the wait limit the caller gets
// whatever has been found so far (possibly nothing) instead of blocking.
package contacts

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"chatapp/internal/identity"
	"chatapp/internal/phone"
	"chatapp/internal/rtdb"
)

const (
	usersRoot  = "users"
	phoneIndex = "phone-to-users"

	// minPhoneDigits filters out short-code entries from the address book.
	minPhoneDigits = 6

	// DefaultWaitBound is how long a lookup may run before returning
	// partial results.
	DefaultWaitBound = 10 * time.Second
)

// DeviceContact is one (name, raw number) pair from the device address
// book. Never persisted remotely.
type DeviceContact struct {
	ID          string
	Name        string
	PhoneNumber string
}

// Source enumerates device contacts. Implementations block on device I/O;
// the matcher schedules the call off the interactive path.
type Source interface {
	Contacts(ctx context.Context) ([]DeviceContact, error)
}

// Match joins a device contact with the directory record it resolved to.
// Request-scoped: computed on demand, never cached.
type Match struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	PhoneNumber     string `json:"phoneNumber"`
	Username        string `json:"username"`
	ProfileImageURL string `json:"profileImageUrl"`
	Status          string `json:"status"`
}

type Matcher struct {
	store     rtdb.Store
	source    Source
	log       zerolog.Logger
	waitBound time.Duration
}

func NewMatcher(store rtdb.Store, source Source, log zerolog.Logger) *Matcher {
	return &Matcher{
		store:     store,
		source:    source,
		log:       log.With().Str("component", "contacts").Logger(),
		waitBound: DefaultWaitBound,
	}
}

// FindRegisteredContacts matches the caller's address book against the
// directory. self is used only for self-exclusion: entries that are the
// caller's own number in a different format never match.
func (m *Matcher) FindRegisteredContacts(ctx context.Context, self *identity.User) ([]Match, error) {
	ctx, cancel := context.WithTimeout(ctx, m.waitBound)
	defer cancel()

	type outcome struct {
		matches []Match
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		matches, err := m.run(ctx, self)
		done <- outcome{matches, err}
	}()

	select {
	case out := <-done:
		return out.matches, out.err
	case <-ctx.Done():
		m.log.Warn().Dur("waitBound", m.waitBound).Msg("contact matching timed out, returning partial result")
		return nil, nil
	}
}

func (m *Matcher) run(ctx context.Context, self *identity.User) ([]Match, error) {
	deviceContacts, err := m.source.Contacts(ctx)
	if err != nil {
		return nil, err
	}
	candidates := prepare(deviceContacts)
	if len(candidates) == 0 {
		return nil, nil
	}

	selfPhone := ""
	if self != nil {
		selfPhone = self.PhoneNumber
	}

	indexMatches := m.scanIndex(ctx, candidates, selfPhone)
	if len(indexMatches) > 0 {
		return indexMatches, nil
	}

	directoryMatches := m.scanDirectory(ctx, candidates, selfPhone)
	return merge(indexMatches, directoryMatches), nil
}

// prepare dedupes contacts by normalized number and drops entries too short
// to be real phone numbers.
func prepare(deviceContacts []DeviceContact) []DeviceContact {
	seen := make(map[string]struct{}, len(deviceContacts))
	out := make([]DeviceContact, 0, len(deviceContacts))
	for _, c := range deviceContacts {
		normalized := phone.Normalize(c.PhoneNumber)
		if len(phone.IndexKey(normalized)) < minPhoneDigits {
			continue
		}
		if _, dup := seen[normalized]; dup {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, c)
	}
	return out
}

// scanIndex is the fast path: one read of the phone index, then a candidate
// format probe per contact, first hit wins.
func (m *Matcher) scanIndex(ctx context.Context, deviceContacts []DeviceContact, selfPhone string) []Match {
	index, err := m.store.Get(ctx, phoneIndex)
	if err != nil {
		m.log.Warn().Err(err).Msg("phone index read failed, falling back to directory scan")
		return nil
	}

	var matches []Match
	for _, contact := range deviceContacts {
		if phone.SameNumber(contact.PhoneNumber, selfPhone) {
			continue
		}
		for _, format := range phone.CandidateFormats(contact.PhoneNumber) {
			uid := rtdb.String(rtdb.Child(index, phone.IndexKey(format)), "")
			if uid == "" {
				continue
			}
			user, err := m.userByID(ctx, uid)
			if err != nil {
				m.log.Warn().Err(err).Str("uid", uid).Msg("index hit but user fetch failed")
				break
			}
			matches = append(matches, joinContact(contact, user))
			break
		}
	}
	return matches
}

// scanDirectory is the slow path: a linear pass over every directory entry,
// first on normalized equality, then on full cross-candidate-format
// comparison to catch formatting mismatches the index can't.
func (m *Matcher) scanDirectory(ctx context.Context, deviceContacts []DeviceContact, selfPhone string) []Match {
	snapshot, err := m.store.Get(ctx, usersRoot)
	if err != nil {
		m.log.Warn().Err(err).Msg("directory scan failed, returning what we have")
		return nil
	}

	byNormalized := make(map[string]DeviceContact, len(deviceContacts))
	for _, c := range deviceContacts {
		byNormalized[phone.Normalize(c.PhoneNumber)] = c
	}

	var matches []Match
	for _, uid := range rtdb.ChildKeys(snapshot) {
		var user identity.User
		if err := rtdb.Decode(rtdb.Child(snapshot, uid), &user); err != nil || user.PhoneNumber == "" {
			continue
		}
		if phone.SameNumber(user.PhoneNumber, selfPhone) {
			continue
		}

		if contact, ok := byNormalized[phone.Normalize(user.PhoneNumber)]; ok {
			matches = append(matches, joinContact(contact, &user))
			continue
		}

		userFormats := phone.CandidateFormats(user.PhoneNumber)
	contactLoop:
		for _, contact := range deviceContacts {
			for _, contactFormat := range phone.CandidateFormats(contact.PhoneNumber) {
				for _, userFormat := range userFormats {
					if contactFormat == userFormat {
						matches = append(matches, joinContact(contact, &user))
						break contactLoop
					}
				}
			}
		}
	}
	return matches
}

// merge unions the two phases, deduplicating by resolved user id.
func merge(lists ...[]Match) []Match {
	seen := make(map[string]struct{})
	var out []Match
	for _, list := range lists {
		for _, match := range list {
			if _, dup := seen[match.ID]; dup {
				continue
			}
			seen[match.ID] = struct{}{}
			out = append(out, match)
		}
	}
	return out
}

func (m *Matcher) userByID(ctx context.Context, uid string) (*identity.User, error) {
	snapshot, err := m.store.Get(ctx, usersRoot+"/"+uid)
	if err != nil {
		return nil, err
	}
	var user identity.User
	if err := rtdb.Decode(snapshot, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func joinContact(contact DeviceContact, user *identity.User) Match {
	status := user.Status
	if status == "" {
		status = identity.StatusAvailable
	}
	return Match{
		ID:              user.UID,
		Name:            contact.Name,
		PhoneNumber:     contact.PhoneNumber,
		Username:        user.Username,
		ProfileImageURL: user.ProfileImageURL,
		Status:          status,
	}
}
