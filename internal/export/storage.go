package export

import (
	"context"
	"io"
)

// CompletedPart references one uploaded part by its sequence number and the
// opaque completion tag the store returned for it.
type CompletedPart struct {
	PartNumber int
	ETag       string
}

// ObjectStore is the slice of the object-storage API the export service
// needs. Implementations must be safe for use by concurrent exports; each
// export owns its upload exclusively.
type ObjectStore interface {
	InitiateMultipartUpload(ctx context.Context, key string) (string, error)
	UploadPart(ctx context.Context, key, uploadID string, partNumber int, path string, size int64) (CompletedPart, error)
	CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []CompletedPart) error
	AbortMultipartUpload(ctx context.Context, key, uploadID string) error
	PutObject(ctx context.Context, key string, body io.Reader, size int64) error
}
