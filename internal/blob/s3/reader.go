package s3blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/alanyoungcy/poolbot/internal/domain"
)

// maxDocumentSize bounds how much of an object Fetch reads into memory.
const maxDocumentSize = 64 << 20

// Reader fetches whole documents from the bucket.
type Reader struct {
	client *s3.Client
	bucket string
}

var _ domain.BlobReader = (*Reader)(nil)

// NewReader creates a Reader on c's bucket.
func NewReader(c *Client) *Reader {
	return &Reader{client: c.s3, bucket: c.bucket}
}

// Fetch returns the object stored under key, or domain.ErrNotFound.
func (r *Reader) Fetch(ctx context.Context, key string) ([]byte, error) {
	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("s3blob: fetch %s: %w", key, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("s3blob: fetch %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(io.LimitReader(out.Body, maxDocumentSize+1))
	if err != nil {
		return nil, fmt.Errorf("s3blob: read %s: %w", key, err)
	}
	if len(data) > maxDocumentSize {
		return nil, fmt.Errorf("s3blob: %s exceeds %d bytes", key, maxDocumentSize)
	}
	return data, nil
}

// isNotFound classifies missing-object errors. GetObject reports NoSuchKey
// while HEAD requests and some compatible stores only carry a 404.
func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	var status interface{ HTTPStatusCode() int }
	return errors.As(err, &status) && status.HTTPStatusCode() == http.StatusNotFound
}
