package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nihr43/object-ingest/internal/entities"
)

// Handle is a held lock. It may cover more than one key: a conversion writes
// the new object with the same lock tags and adopts it, so one Release frees
// everything the job touched.
type Handle struct {
	m          *Manager
	bucket     string
	token      string
	acquiredAt string

	mu       sync.Mutex
	keys     []string
	released bool

	// Reclaimed is set when the lock was taken over from an expired lease.
	Reclaimed bool
}

func (h *Handle) Token() string { return h.token }

func (h *Handle) Keys() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.keys...)
}

// Tags returns the lock tags of this handle, to be attached to objects the
// holder creates.
func (h *Handle) Tags() map[string]string {
	return map[string]string{
		TagLock:     lockValue,
		TagOwner:    h.token,
		TagAcquired: h.acquiredAt,
	}
}

// Adopt adds key to the set released by Release. The caller must already have
// written the handle's Tags onto key.
func (h *Handle) Adopt(key string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, k := range h.keys {
		if k == key {
			return
		}
	}
	h.keys = append(h.keys, key)
}

// Claim extends the lock onto key before the holder overwrites it, and
// reports whether key exists. A missing key is left alone: the holder creates
// it with Tags and adopts it. A live lock on key held by another worker yields
// ErrAlreadyLocked with key untouched.
func (h *Handle) Claim(ctx context.Context, key string) (bool, error) {
	tags, err := h.m.store.GetTags(ctx, h.bucket, key)
	if errors.Is(err, entities.ErrObjectNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read tags: %w", err)
	}
	if _, err := h.m.check(h.bucket, key, h.token, tags); err != nil {
		return true, err
	}
	if err := h.m.write(ctx, h.bucket, key, h.token, h.acquiredAt, tags); err != nil {
		return true, err
	}
	h.Adopt(key)
	return true, nil
}

// Release clears the lock from every covered key. Only the first call does
// work; later calls return nil. Keys that no longer exist are skipped.
func (h *Handle) Release(ctx context.Context) error {
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return nil
	}
	h.released = true
	keys := append([]string(nil), h.keys...)
	h.mu.Unlock()

	var errs []error
	for _, key := range keys {
		if err := h.m.releaseKey(ctx, h.bucket, key, h.token); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
