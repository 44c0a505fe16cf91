package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/example/vision-pipeline/internal/logging"
)

// ObjectStore is the subset of object storage the pipeline relies on.
type ObjectStore interface {
	Put(ctx context.Context, path Path, data []byte, contentType string) error
	Get(ctx context.Context, path Path) ([]byte, error)
}

// Store is an ObjectStore backed by Cloud Storage.
type Store struct {
	client *storage.Client
	logger *zap.Logger
}

// NewStore opens a Cloud Storage client. STORAGE_EMULATOR_HOST is honoured
// by the SDK itself.
func NewStore(ctx context.Context, logger *zap.Logger, opts ...option.ClientOption) (*Store, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, logging.NewOperationError("gcs.new_client", "", err)
	}
	return &Store{client: client, logger: logger.Named("gcs")}, nil
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

// Put uploads data, replacing any existing object at path.
func (s *Store) Put(ctx context.Context, path Path, data []byte, contentType string) error {
	w := s.client.Bucket(path.Bucket).Object(path.Object).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize %s: %w", path, err)
	}
	s.logger.Debug("object stored", zap.String("gcs_path", path.String()), zap.Int("bytes", len(data)))
	return nil
}

// Get downloads the whole object. A missing bucket or object yields
// ErrObjectNotFound.
func (s *Store) Get(ctx context.Context, path Path) ([]byte, error) {
	r, err := s.client.Bucket(path.Bucket).Object(path.Object).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
			return nil, fmt.Errorf("%s: %w", path, ErrObjectNotFound)
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

var _ ObjectStore = (*Store)(nil)
