package entities

import (
	"errors"
	"time"
)

// ErrObjectNotFound is returned by store implementations when the key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// ObjectRef identifies one object in a bucket as seen at listing time.
// Jobs never mutate it; every change is a round-trip to the store.
type ObjectRef struct {
	Bucket       string            `json:"bucket"`
	Key          string            `json:"key"`
	Size         int64             `json:"size"`
	ContentType  string            `json:"content_type,omitempty"`
	ETag         string            `json:"etag,omitempty"`
	LastModified time.Time         `json:"last_modified"`
	Tags         map[string]string `json:"tags,omitempty"`
}

// ObjectInfo is the result of a stat call.
type ObjectInfo struct {
	Key         string `json:"key"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
	ETag        string `json:"etag"`
}

// PutResult is returned after a successful upload.
type PutResult struct {
	Key  string `json:"key"`
	ETag string `json:"etag"`
}

// CloneTags returns a copy of tags that is safe to modify. A nil input yields an empty map.
func CloneTags(tags map[string]string) map[string]string {
	out := make(map[string]string, len(tags))
	for k, v := range tags {
		out[k] = v
	}
	return out
}
