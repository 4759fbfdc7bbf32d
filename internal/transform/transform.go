// Package transform holds the two object transformations: legacy format
// conversion and content-type repair. Both expect the caller to hold the
// object's lock.
package transform

import (
	"context"
	"io"

	"github.com/nihr43/object-ingest/internal/entities"
)

type Store interface {
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	Put(ctx context.Context, bucket, key string, payload []byte, contentType string, tags map[string]string) (entities.PutResult, error)
	Remove(ctx context.Context, bucket, key string) error
	Stat(ctx context.Context, bucket, key string) (entities.ObjectInfo, error)
	GetTags(ctx context.Context, bucket, key string) (map[string]string, error)
}

type Codec interface {
	ToJPEG(reader io.Reader, ext string) ([]byte, error)
}

// Holder is the part of a lock handle a transform needs to carry the lock
// onto objects it creates or overwrites.
type Holder interface {
	Tags() map[string]string
	Adopt(key string)
	Claim(ctx context.Context, key string) (bool, error)
}
