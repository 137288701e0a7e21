package storage

import (
	"context"
	"io"
)

// ObjectStorage defines the object operations used to archive submission sources.
type ObjectStorage interface {
	// PutObject uploads size bytes from reader under objectKey.
	PutObject(ctx context.Context, bucket, objectKey string, reader io.Reader, sizeBytes int64, opts PutOptions) error

	// GetObject opens a reader for an object.
	// Caller must close the returned reader.
	GetObject(ctx context.Context, bucket, objectKey string) (io.ReadCloser, error)
}

// PutOptions carries optional object metadata.
type PutOptions struct {
	ContentType     string
	ContentEncoding string
	UserMetadata    map[string]string
}
