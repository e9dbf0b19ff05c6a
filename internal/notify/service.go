// Package notify is the push notification boundary. The core's only
// obligation is keeping the latest device token persisted against the user;
// delivery is the push service's problem.
package notify

import (
	"context"

	"github.com/rs/zerolog"

	"chatapp/internal/identity"
)

// PushClient delivers a payload to one device token. Implementations are
// external (FCM or similar).
type PushClient interface {
	Send(ctx context.Context, deviceToken, title, body string) error
}

type Service struct {
	directory *identity.Directory
	client    PushClient
	log       zerolog.Logger
}

func NewService(directory *identity.Directory, client PushClient, log zerolog.Logger) *Service {
	return &Service{
		directory: directory,
		client:    client,
		log:       log.With().Str("component", "notify").Logger(),
	}
}

// TokenRefreshed persists the newest device token for uid, replacing any
// previous one.
func (s *Service) TokenRefreshed(ctx context.Context, uid, token string) error {
	return s.directory.SetPushToken(ctx, uid, token)
}

// NotifyNewMessage pushes a new-message notification to the recipient if a
// token is on file and a client is configured. Best effort: failures are
// logged, the send already succeeded.
func (s *Service) NotifyNewMessage(ctx context.Context, recipientID, senderName, preview string) {
	if s.client == nil {
		return
	}
	user, err := s.directory.UserByID(ctx, recipientID)
	if err != nil || user.FCMToken == "" {
		return
	}
	if err := s.client.Send(ctx, user.FCMToken, senderName, preview); err != nil {
		s.log.Warn().Err(err).Str("uid", recipientID).Msg("push delivery failed")
	}
}
