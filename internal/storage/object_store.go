package storage

import (
	"context"
	"io"
	"time"
)

const DefaultPresignTTL = time.Hour

// ObjectStore is the object storage backing image uploads. Keys are opaque
// and stable; temporary read access goes through PresignGetURL so permanent
// credentials are never handed to clients.
type ObjectStore interface {
	CreateBucket(ctx context.Context) error

	PutObject(ctx context.Context, key string, data io.Reader) error

	GetObject(ctx context.Context, key string) ([]byte, error)

	PresignGetURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}
