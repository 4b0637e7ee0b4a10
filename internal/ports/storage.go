package ports

import (
	"context"
	"io"
)

type PutObjectInput struct {
	ObjectKey   string
	ContentType string
	Reader      io.Reader
	Size        int64
}

type PutObjectOutput struct {
	// ObjectKey is what Get/Delete take afterwards: the key itself for
	// localfs, the Drive file id for gdrive.
	ObjectKey string
	Size      int64
}

// StorageProvider stores rendered capture artifacts.
type StorageProvider interface {
	Provider() string

	PutObject(ctx context.Context, in PutObjectInput) (PutObjectOutput, error)
	GetObject(ctx context.Context, objectKey string) (rc io.ReadCloser, contentType string, size int64, err error)
	DeleteObject(ctx context.Context, objectKey string) error

	// Check reports whether the backend is reachable and writable.
	Check(ctx context.Context) error
}
