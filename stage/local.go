package stage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// LocalStore keeps objects on disk at <Root>/<bucket>/<key>.
type LocalStore struct {
	Root   string
	Logger *slog.Logger
}

func NewLocalStore(root string, logger *slog.Logger) *LocalStore {
	return &LocalStore{Root: root, Logger: logger}
}

func (s *LocalStore) objectPath(bucket, key string) (string, error) {
	if bucket == "" {
		return "", fmt.Errorf("bucket is required")
	}
	clean := filepath.Clean(filepath.FromSlash(key))
	if !filepath.IsLocal(clean) || clean == "." {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return filepath.Join(s.Root, bucket, clean), nil
}

func (s *LocalStore) Upload(ctx context.Context, localPath, bucket, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dst, err := s.objectPath(bucket, key)
	if err != nil {
		return err
	}

	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("error opening local file: %w", err)
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("error creating object directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return fmt.Errorf("error creating temporary object: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		return fmt.Errorf("error copying %s: %w", localPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("error closing temporary object: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("error storing object: %w", err)
	}

	s.Logger.Info(fmt.Sprintf("Uploaded %s to file://%s", localPath, dst))
	return nil
}

func (s *LocalStore) Download(ctx context.Context, bucket, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	src, err := s.objectPath(bucket, key)
	if err != nil {
		return nil, err
	}

	body, err := os.ReadFile(src)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s/%s: %w", bucket, key, ErrObjectNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("error reading object %s/%s: %w", bucket, key, err)
	}
	return body, nil
}
