// Package identity maintains the authoritative user directory: the
// uid ↔ phone number ↔ profile mapping, plus the phone index used as the
// matching fast path.
package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"chatapp/infrastructure"
	"chatapp/internal/phone"
	"chatapp/internal/rtdb"
)

const (
	usersRoot     = "users"
	phoneIndex    = "phone-to-users"
	userChatsRoot = "user-chats"
	messagesRoot  = "messages"
)

// Directory reads and writes user records. The phone index it maintains is
// an optimization only; User.PhoneNumber stays authoritative and callers
// must be prepared for the index to be stale or absent.
type Directory struct {
	store rtdb.Store
	log   zerolog.Logger
	now   func() time.Time
}

func NewDirectory(store rtdb.Store, log zerolog.Logger) *Directory {
	return &Directory{
		store: store,
		log:   log.With().Str("component", "directory").Logger(),
		now:   time.Now,
	}
}

// ResolveOrCreate ensures a directory record exists for an authenticated
// uid. New users get a generated name, Available status and the default
// image marker; returning users only get their lastSeen bumped. Idempotent.
// The phone index side-write is fire-and-forget: its failure is logged and
// never rolls back the user record.
func (d *Directory) ResolveOrCreate(ctx context.Context, uid, phoneNumber string) (*User, error) {
	if uid == "" {
		return nil, infrastructure.ErrInvalidInput
	}
	snapshot, err := d.store.Get(ctx, userPath(uid))
	if err != nil {
		return nil, fmt.Errorf("check existing user %s: %w", uid, err)
	}

	if snapshot != nil {
		var existing User
		if err := rtdb.Decode(snapshot, &existing); err != nil {
			return nil, fmt.Errorf("decode user %s: %w", uid, err)
		}
		existing.LastSeen = d.now().UnixMilli()
		if err := d.store.Update(ctx, userPath(uid), map[string]any{"lastSeen": existing.LastSeen}); err != nil {
			d.log.Error().Err(err).Str("uid", uid).Msg("failed to bump lastSeen")
		}
		return &existing, nil
	}

	user := &User{
		UID:             uid,
		Username:        defaultUsername(phoneNumber, uid),
		PhoneNumber:     phoneNumber,
		ProfileImageURL: DefaultProfileImage,
		Status:          StatusAvailable,
		LastSeen:        d.now().UnixMilli(),
	}
	if err := d.store.Set(ctx, userPath(uid), user); err != nil {
		return nil, fmt.Errorf("create user %s: %w", uid, err)
	}

	if key := phone.IndexKey(phoneNumber); key != "" {
		if err := d.store.Set(ctx, phoneIndex+"/"+key, uid); err != nil {
			d.log.Error().Err(err).Str("uid", uid).Str("phoneKey", key).
				Msg("phone index write failed; user record kept")
		}
	}
	return user, nil
}

// PhoneNumberIsRegistered checks the phone index. Fails open: a lookup
// error counts as "not registered" so a flaky backend never blocks
// registration.
func (d *Directory) PhoneNumberIsRegistered(ctx context.Context, phoneNumber string) bool {
	key := phone.IndexKey(phoneNumber)
	if key == "" {
		return false
	}
	value, err := d.store.Get(ctx, phoneIndex+"/"+key)
	if err != nil {
		d.log.Warn().Err(err).Str("phoneKey", key).Msg("phone index lookup failed, treating as unregistered")
		return false
	}
	return rtdb.String(value, "") != ""
}

// UserByID fetches one directory record.
func (d *Directory) UserByID(ctx context.Context, uid string) (*User, error) {
	snapshot, err := d.store.Get(ctx, userPath(uid))
	if err != nil {
		return nil, fmt.Errorf("%w: user %s: %v", infrastructure.ErrLookupFailed, uid, err)
	}
	if snapshot == nil {
		return nil, infrastructure.ErrUserNotFound
	}
	var user User
	if err := rtdb.Decode(snapshot, &user); err != nil {
		return nil, fmt.Errorf("decode user %s: %w", uid, err)
	}
	return &user, nil
}

// Users enumerates the whole directory in key order.
func (d *Directory) Users(ctx context.Context) ([]*User, error) {
	snapshot, err := d.store.Get(ctx, usersRoot)
	if err != nil {
		return nil, fmt.Errorf("%w: users: %v", infrastructure.ErrLookupFailed, err)
	}
	var users []*User
	for _, key := range rtdb.ChildKeys(snapshot) {
		var user User
		if err := rtdb.Decode(rtdb.Child(snapshot, key), &user); err != nil {
			d.log.Warn().Err(err).Str("uid", key).Msg("skipping undecodable user record")
			continue
		}
		users = append(users, &user)
	}
	return users, nil
}

// UpdateProfile overwrites the mutable profile fields.
func (d *Directory) UpdateProfile(ctx context.Context, uid, username, imageURL, status string) error {
	children := map[string]any{}
	if username != "" {
		children["username"] = username
	}
	if imageURL != "" {
		children["profileImageUrl"] = imageURL
	}
	if status != "" {
		children["status"] = status
	}
	if len(children) == 0 {
		return nil
	}
	if err := d.store.Update(ctx, userPath(uid), children); err != nil {
		return fmt.Errorf("update profile %s: %w", uid, err)
	}
	return nil
}

// SaveSettings persists the per-user settings map under the profile.
func (d *Directory) SaveSettings(ctx context.Context, uid string, settings map[string]any) error {
	if err := d.store.Set(ctx, userPath(uid)+"/settings", settings); err != nil {
		return fmt.Errorf("save settings %s: %w", uid, err)
	}
	return nil
}

// SetPushToken persists the latest device token against the user.
func (d *Directory) SetPushToken(ctx context.Context, uid, token string) error {
	if err := d.store.Set(ctx, userPath(uid)+"/fcmToken", token); err != nil {
		return fmt.Errorf("set push token %s: %w", uid, err)
	}
	return nil
}

// DeleteAccount removes the user's profile, phone index entry and own chat
// summaries, then redacts messages the user authored. Other participants'
// summaries and messages survive. Partial failures are logged and the
// cascade keeps going.
func (d *Directory) DeleteAccount(ctx context.Context, uid string) error {
	user, err := d.UserByID(ctx, uid)
	if err != nil {
		return err
	}

	if err := d.store.Delete(ctx, userPath(uid)); err != nil {
		return fmt.Errorf("delete user %s: %w", uid, err)
	}
	if key := phone.IndexKey(user.PhoneNumber); key != "" {
		if err := d.store.Delete(ctx, phoneIndex+"/"+key); err != nil {
			d.log.Error().Err(err).Str("uid", uid).Msg("phone index cleanup failed")
		}
	}

	chatsSnapshot, err := d.store.Get(ctx, userChatsRoot+"/"+uid)
	if err != nil {
		d.log.Error().Err(err).Str("uid", uid).Msg("could not enumerate chats for deletion")
		return nil
	}
	chatIDs := rtdb.ChildKeys(chatsSnapshot)

	if err := d.store.Delete(ctx, userChatsRoot+"/"+uid); err != nil {
		d.log.Error().Err(err).Str("uid", uid).Msg("chat summary cleanup failed")
	}

	for _, chatID := range chatIDs {
		messages, err := d.store.Get(ctx, messagesRoot+"/"+chatID)
		if err != nil {
			d.log.Error().Err(err).Str("chatId", chatID).Msg("could not read messages for redaction")
			continue
		}
		for _, messageID := range rtdb.ChildKeys(messages) {
			sender := rtdb.String(rtdb.Child(rtdb.Child(messages, messageID), "senderId"), "")
			if sender != uid {
				continue
			}
			if err := d.store.Delete(ctx, messagesRoot+"/"+chatID+"/"+messageID); err != nil {
				d.log.Error().Err(err).Str("chatId", chatID).Str("messageId", messageID).
					Msg("message redaction failed")
			}
		}
	}
	return nil
}

func userPath(uid string) string {
	return usersRoot + "/" + uid
}

func defaultUsername(phoneNumber, uid string) string {
	digits := phone.IndexKey(phoneNumber)
	if len(digits) >= 4 {
		return "User_" + digits[len(digits)-4:]
	}
	if len(uid) >= 4 {
		return "User_" + uid[len(uid)-4:]
	}
	return "User_" + uid
}
