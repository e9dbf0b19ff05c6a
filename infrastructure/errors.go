package infrastructure

import "errors"

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrChatNotFound    = errors.New("chat not found")
	ErrMessageNotFound = errors.New("message not found")
	ErrInvalidInput    = errors.New("invalid input")
	ErrUnauthorized    = errors.New("unauthorized")

	// ErrLookupFailed marks a directory or summary read that failed for
	// infrastructure reasons. Callers must not treat it as "not found".
	ErrLookupFailed = errors.New("lookup failed")

	// ErrSelfChatForbidden is returned when a user tries to open a
	// conversation with their own phone number.
	ErrSelfChatForbidden = errors.New("cannot chat with yourself")

	// ErrUploadFailed is terminal: retries are already exhausted.
	ErrUploadFailed = errors.New("upload failed")

	// ErrDeleteInFlight gates overlapping optimistic chat deletions.
	ErrDeleteInFlight = errors.New("chat deletion already in progress")

	ErrPhoneAlreadyRegistered = errors.New("phone number already registered")

	ErrMissingToken = errors.New("missing access token")
	ErrInvalidToken = errors.New("invalid access token")
	ErrTokenExpired = errors.New("access token has expired")
)
