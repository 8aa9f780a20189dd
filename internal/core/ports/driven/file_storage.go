package driven

import "context"

// FileStorage keeps the raw bytes of uploaded documents (local disk or MinIO)
type FileStorage interface {
	// Put stores data under key and returns the storage path to record on the document
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)

	// Get reads back a stored file
	Get(ctx context.Context, path string) ([]byte, error)

	// Delete removes a stored file. Missing files are not an error.
	Delete(ctx context.Context, path string) error
}
