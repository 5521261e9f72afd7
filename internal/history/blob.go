package history

import (
	"context"
	"errors"
	"fmt"

	"github.com/alanyoungcy/poolbot/internal/domain"
)

// BlobBackend stores the history document as a single object in blob storage.
type BlobBackend struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	key    string
}

// NewBlobBackend creates a BlobBackend that keeps the document at key.
func NewBlobBackend(writer domain.BlobWriter, reader domain.BlobReader, key string) *BlobBackend {
	return &BlobBackend{writer: writer, reader: reader, key: key}
}

// Load fetches and decodes the stored document. A missing object is an empty
// history.
func (b *BlobBackend) Load(ctx context.Context) (domain.HistorySnapshot, error) {
	data, err := b.reader.Fetch(ctx, b.key)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.HistorySnapshot{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("history/blob: %w", err)
	}
	return Decode(data)
}

// Save uploads snap, replacing the previous object in one PUT.
func (b *BlobBackend) Save(ctx context.Context, snap domain.HistorySnapshot) error {
	data, err := Encode(snap)
	if err != nil {
		return err
	}
	if err := b.writer.Put(ctx, b.key, data, "application/json"); err != nil {
		return fmt.Errorf("history/blob: put %s: %w", b.key, err)
	}
	return nil
}

var _ domain.HistoryBackend = (*BlobBackend)(nil)
