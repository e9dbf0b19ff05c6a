// Package blob is the image storage boundary: bytes in, fetchable URL out.
// The retry policy lives here with the calling flow, not in the message or
// profile data model.
package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"chatapp/infrastructure"
)

// Storage uploads binary data under a path and returns a fetchable URL.
// Implementations are external (CDN, bucket service).
type Storage interface {
	Put(ctx context.Context, path string, data io.Reader) (string, error)
	Delete(ctx context.Context, path string) error
}

const (
	defaultMaxRetries = 2
	defaultRetryDelay = time.Second
)

type Uploader struct {
	storage    Storage
	log        zerolog.Logger
	maxRetries uint64
	retryDelay time.Duration
}

func NewUploader(storage Storage, log zerolog.Logger) *Uploader {
	return &Uploader{
		storage:    storage,
		log:        log.With().Str("component", "uploads").Logger(),
		maxRetries: defaultMaxRetries,
		retryDelay: defaultRetryDelay,
	}
}

// Upload stores data under dir with a collision-free generated filename and
// returns the fetchable URL. Failures are retried a bounded number of times
// at a fixed interval before surfacing as terminal.
func (u *Uploader) Upload(ctx context.Context, dir string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", infrastructure.ErrInvalidInput
	}
	return u.put(ctx, dir+"/"+uuid.New().String(), data)
}

// UploadProfileImage stores a user's profile image under a path keyed by
// uid: replacing the image overwrites the old blob, and the account deletion
// cascade can find it without consulting the directory.
func (u *Uploader) UploadProfileImage(ctx context.Context, uid string, data []byte) (string, error) {
	if uid == "" || len(data) == 0 {
		return "", infrastructure.ErrInvalidInput
	}
	return u.put(ctx, profileImagePath(uid), data)
}

func (u *Uploader) put(ctx context.Context, path string, data []byte) (string, error) {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(u.retryDelay), u.maxRetries),
		ctx,
	)
	attempt := 0
	url, err := backoff.RetryWithData(func() (string, error) {
		attempt++
		url, err := u.storage.Put(ctx, path, bytes.NewReader(data))
		if err != nil {
			u.log.Warn().Err(err).Str("path", path).Int("attempt", attempt).Msg("upload attempt failed")
			return "", err
		}
		return url, nil
	}, policy)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", infrastructure.ErrUploadFailed, path, err)
	}
	u.log.Debug().Str("path", path).Str("url", url).Msg("upload complete")
	return url, nil
}

// DeleteProfileImage removes a user's stored profile image; used by the
// account deletion cascade. Best effort.
func (u *Uploader) DeleteProfileImage(ctx context.Context, uid string) {
	if err := u.storage.Delete(ctx, profileImagePath(uid)); err != nil {
		u.log.Warn().Err(err).Str("uid", uid).Msg("profile image cleanup failed")
	}
}

func profileImagePath(uid string) string {
	return "profile_images/" + uid
}
