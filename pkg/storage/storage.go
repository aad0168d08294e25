package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docsession/uploader/pkg/logger"
	"github.com/docsession/uploader/pkg/storage/local"
	"github.com/docsession/uploader/pkg/storage/minio"
	"github.com/docsession/uploader/pkg/storage/s3"
)

// StorageType selects the blob backend.
type StorageType string

const (
	StorageTypeLocal StorageType = "local"
	StorageTypeMinio StorageType = "minio"
	StorageTypeS3    StorageType = "s3"
)

// Storage stores assembled session documents under opaque keys.
type Storage interface {
	// Store writes the blob and returns the key it was stored under.
	Store(ctx context.Context, reader io.Reader, key string) (string, error)
	// Get opens the blob for reading.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes the blob.
	Delete(ctx context.Context, key string) error
	// CleanupBefore removes blobs last modified before threshold.
	CleanupBefore(ctx context.Context, threshold time.Time) error
}

// NewStorage builds the configured backend.
func NewStorage(storageType StorageType, logger logger.Logger) (Storage, error) {
	switch storageType {
	case StorageTypeLocal:
		return local.GetClient(logger)
	case StorageTypeMinio:
		return minio.GetClient(logger)
	case StorageTypeS3:
		return s3.GetClient(logger)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", storageType)
	}
}
