// Package auth adapts the out-of-band phone verification flow into
// sessions. OTP delivery itself is external; only the result matters here:
// a verified phone bound to a stable opaque uid.
package auth

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"chatapp/infrastructure"
	"chatapp/internal/identity"
	"chatapp/internal/phone"
	"chatapp/pkg/jwt"
)

// Verifier is the external identity provider: it delivers a code to the
// phone out of band and, on confirmation, yields the stable user id.
type Verifier interface {
	StartVerification(ctx context.Context, phoneNumber string) (verificationID string, err error)
	ConfirmCode(ctx context.Context, verificationID, code string) (uid string, err error)
}

type Service struct {
	verifier  Verifier
	directory *identity.Directory
	tokens    *jwt.JWT
	log       zerolog.Logger
}

func NewService(verifier Verifier, directory *identity.Directory, tokens *jwt.JWT, log zerolog.Logger) *Service {
	return &Service{
		verifier:  verifier,
		directory: directory,
		tokens:    tokens,
		log:       log.With().Str("component", "auth").Logger(),
	}
}

// BeginRegistration starts verification for a number that must not already
// be registered. The registered check itself fails open, so a flaky index
// never blocks a new signup; a duplicate slips through only as far as the
// directory's one-identity-per-phone index allows.
func (s *Service) BeginRegistration(ctx context.Context, phoneNumber string) (string, error) {
	normalized := phone.Normalize(phoneNumber)
	if len(phone.IndexKey(normalized)) < 10 {
		return "", fmt.Errorf("%w: phone number too short", infrastructure.ErrInvalidInput)
	}
	if s.directory.PhoneNumberIsRegistered(ctx, normalized) {
		return "", infrastructure.ErrPhoneAlreadyRegistered
	}
	id, err := s.verifier.StartVerification(ctx, normalized)
	if err != nil {
		return "", fmt.Errorf("start verification: %w", err)
	}
	return id, nil
}

// BeginLogin starts verification for an existing number; no registered
// check, returning users just verify again.
func (s *Service) BeginLogin(ctx context.Context, phoneNumber string) (string, error) {
	normalized := phone.Normalize(phoneNumber)
	if len(phone.IndexKey(normalized)) < 10 {
		return "", fmt.Errorf("%w: phone number too short", infrastructure.ErrInvalidInput)
	}
	id, err := s.verifier.StartVerification(ctx, normalized)
	if err != nil {
		return "", fmt.Errorf("start verification: %w", err)
	}
	return id, nil
}

// Confirm exchanges a verification code for a session token, resolving or
// creating the directory identity on the way.
func (s *Service) Confirm(ctx context.Context, verificationID, code, phoneNumber string) (string, *identity.User, error) {
	uid, err := s.verifier.ConfirmCode(ctx, verificationID, code)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", infrastructure.ErrUnauthorized, err)
	}
	user, err := s.directory.ResolveOrCreate(ctx, uid, phone.Normalize(phoneNumber))
	if err != nil {
		return "", nil, err
	}
	token, err := s.tokens.GenerateToken(uid)
	if err != nil {
		return "", nil, fmt.Errorf("issue session token: %w", err)
	}
	return token, user, nil
}

// CurrentUserID resolves the uid carried by a session token.
func (s *Service) CurrentUserID(token string) (string, error) {
	if token == "" {
		return "", infrastructure.ErrMissingToken
	}
	claims, err := s.tokens.ValidateToken(token)
	if err != nil {
		return "", infrastructure.ErrInvalidToken
	}
	return claims.UserID, nil
}
