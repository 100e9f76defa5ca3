package stage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"

	"github.com/ananyot-damnoenkiat/wallstreet-data-ops/config"
)

var ErrObjectNotFound = errors.New("object not found")

// ObjectStore moves staged files between the local staging area and a bucket.
type ObjectStore interface {
	Upload(ctx context.Context, localPath, bucket, key string) error
	Download(ctx context.Context, bucket, key string) ([]byte, error)
}

// ObjectKey places a staged file name under the configured prefix.
func ObjectKey(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}

func NewObjectStore(ctx context.Context, config *config.Config, logger *slog.Logger) (ObjectStore, error) {
	switch config.Storage.Backend {
	case "s3", "":
		return NewS3Store(ctx, config.Storage, logger)
	case "local":
		return NewLocalStore(config.Storage.LocalRoot, logger), nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", config.Storage.Backend)
	}
}
