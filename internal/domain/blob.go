package domain

import "context"

// BlobWriter stores a whole document under key, replacing any previous
// version.
type BlobWriter interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// BlobReader fetches a whole document. A missing key is ErrNotFound.
type BlobReader interface {
	Fetch(ctx context.Context, key string) ([]byte, error)
}
