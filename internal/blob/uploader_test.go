package blob

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"chatapp/infrastructure"
)

// flakyStorage fails the first failures attempts, then succeeds.
type flakyStorage struct {
	failures int
	attempts int
	puts     []string
	deleted  []string
}

func (f *flakyStorage) Put(ctx context.Context, path string, data io.Reader) (string, error) {
	f.attempts++
	if f.attempts <= f.failures {
		return "", errors.New("transient")
	}
	f.puts = append(f.puts, path)
	return "https://cdn/" + path, nil
}

func (f *flakyStorage) Delete(ctx context.Context, path string) error {
	f.deleted = append(f.deleted, path)
	return nil
}

func newTestUploader(storage Storage) *Uploader {
	u := NewUploader(storage, zerolog.Nop())
	u.retryDelay = time.Millisecond
	return u
}

func TestUploadRetriesThenSucceeds(t *testing.T) {
	storage := &flakyStorage{failures: 2}
	u := newTestUploader(storage)

	url, err := u.Upload(context.Background(), "chat_images", []byte("png"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(url, "https://cdn/chat_images/") {
		t.Fatalf("url = %q", url)
	}
	if storage.attempts != 3 {
		t.Fatalf("attempts = %d, want 3", storage.attempts)
	}
}

func TestUploadGivesUpAfterMaxRetries(t *testing.T) {
	storage := &flakyStorage{failures: 100}
	u := newTestUploader(storage)

	_, err := u.Upload(context.Background(), "chat_images", []byte("png"))
	if !errors.Is(err, infrastructure.ErrUploadFailed) {
		t.Fatalf("err = %v, want ErrUploadFailed", err)
	}
	if storage.attempts != 3 {
		t.Fatalf("attempts = %d, want initial try plus 2 retries", storage.attempts)
	}
}

func TestUploadRejectsEmptyPayload(t *testing.T) {
	u := newTestUploader(&flakyStorage{})
	if _, err := u.Upload(context.Background(), "chat_images", nil); !errors.Is(err, infrastructure.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestProfileImageDeleteTargetsStoredPath(t *testing.T) {
	storage := &flakyStorage{}
	u := newTestUploader(storage)

	if _, err := u.UploadProfileImage(context.Background(), "u1", []byte("png")); err != nil {
		t.Fatal(err)
	}
	u.DeleteProfileImage(context.Background(), "u1")

	if len(storage.puts) != 1 || len(storage.deleted) != 1 {
		t.Fatalf("puts = %v, deleted = %v", storage.puts, storage.deleted)
	}
	if storage.deleted[0] != storage.puts[0] {
		t.Fatalf("delete path %q does not match stored path %q", storage.deleted[0], storage.puts[0])
	}
}

func TestProfileImageReplacementOverwrites(t *testing.T) {
	storage := &flakyStorage{}
	u := newTestUploader(storage)
	ctx := context.Background()

	if _, err := u.UploadProfileImage(ctx, "u1", []byte("old")); err != nil {
		t.Fatal(err)
	}
	if _, err := u.UploadProfileImage(ctx, "u1", []byte("new")); err != nil {
		t.Fatal(err)
	}
	if len(storage.puts) != 2 || storage.puts[0] != storage.puts[1] {
		t.Fatalf("replacement should reuse the path: %v", storage.puts)
	}
}
