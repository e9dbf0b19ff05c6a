package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// DiskStorage stores blobs under a root directory and returns file URLs.
// Stands in for a bucket service in single-node deployments.
type DiskStorage struct {
	root string
}

func NewDiskStorage(root string) (*DiskStorage, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &DiskStorage{root: root}, nil
}

func (d *DiskStorage) Put(ctx context.Context, path string, data io.Reader) (string, error) {
	full := filepath.Join(d.root, filepath.FromSlash(path))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("create blob dir: %w", err)
	}
	f, err := os.Create(full)
	if err != nil {
		return "", fmt.Errorf("create blob: %w", err)
	}
	defer f.Close()
	if _, err := io.Copy(f, data); err != nil {
		return "", fmt.Errorf("write blob: %w", err)
	}
	return "file://" + full, nil
}

func (d *DiskStorage) Delete(ctx context.Context, path string) error {
	err := os.Remove(filepath.Join(d.root, filepath.FromSlash(path)))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
