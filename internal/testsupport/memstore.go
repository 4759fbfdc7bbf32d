// Package testsupport provides an in-memory object store with fault
// injection for package tests.
package testsupport

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nihr43/object-ingest/internal/entities"
)

type memObject struct {
	data        []byte
	contentType string
	tags        map[string]string
	modified    time.Time
}

// MemStore implements every store method the sweeper uses. It is safe for
// concurrent use. Errors can be injected per operation and key with Fail, and
// Hook runs before an operation touches state, which lets tests interleave
// concurrent callers deterministically.
type MemStore struct {
	mu      sync.Mutex
	objects map[string]*memObject
	fail    map[string]error
	calls   []string

	// Hook, when set, is called (without the store lock held) before each
	// operation with the operation name and key.
	Hook func(op, bucket, key string)
}

func NewMemStore() *MemStore {
	return &MemStore{
		objects: make(map[string]*memObject),
		fail:    make(map[string]error),
	}
}

func id(bucket, key string) string { return bucket + "/" + key }

// Seed stores an object directly, bypassing hooks and failures.
func (m *MemStore) Seed(bucket, key string, data []byte, contentType string, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[id(bucket, key)] = &memObject{
		data:        append([]byte(nil), data...),
		contentType: contentType,
		tags:        entities.CloneTags(tags),
		modified:    time.Now(),
	}
}

// Fail makes op on key return err until cleared with a nil err.
// Use key "*" to fail op for every key.
func (m *MemStore) Fail(op, key string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.fail, op+":"+key)
		return
	}
	m.fail[op+":"+key] = err
}

// Exists reports whether bucket/key is present.
func (m *MemStore) Exists(bucket, key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[id(bucket, key)]
	return ok
}

// Object returns a copy of the stored bytes, content-type and tags.
func (m *MemStore) Object(bucket, key string) ([]byte, string, map[string]string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.objects[id(bucket, key)]
	if !ok {
		return nil, "", nil, false
	}
	return append([]byte(nil), o.data...), o.contentType, entities.CloneTags(o.tags), true
}

// Keys returns every key in bucket, sorted.
func (m *MemStore) Keys(bucket string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	prefix := bucket + "/"
	for k := range m.objects {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			keys = append(keys, k[len(prefix):])
		}
	}
	sort.Strings(keys)
	return keys
}

// Calls returns the recorded "op key" log.
func (m *MemStore) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// CountCalls returns how many times op was called.
func (m *MemStore) CountCalls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if len(c) >= len(op) && c[:len(op)] == op && (len(c) == len(op) || c[len(op)] == ' ') {
			n++
		}
	}
	return n
}

// enter runs the hook and checks for injected failures. It returns with the lock held on success.
func (m *MemStore) enter(ctx context.Context, op, bucket, key string) error {
	if m.Hook != nil {
		m.Hook(op, bucket, key)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.calls = append(m.calls, op+" "+key)
	if err, ok := m.fail[op+":"+key]; ok {
		m.mu.Unlock()
		return err
	}
	if err, ok := m.fail[op+":*"]; ok {
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *MemStore) lookup(bucket, key string) (*memObject, error) {
	o, ok := m.objects[id(bucket, key)]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", bucket, key, entities.ErrObjectNotFound)
	}
	return o, nil
}

func (m *MemStore) ListObjects(ctx context.Context, bucket string) ([]entities.ObjectRef, error) {
	if err := m.enter(ctx, "list", bucket, ""); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()

	prefix := bucket + "/"
	var refs []entities.ObjectRef
	for k, o := range m.objects {
		if len(k) <= len(prefix) || k[:len(prefix)] != prefix {
			continue
		}
		refs = append(refs, entities.ObjectRef{
			Bucket:       bucket,
			Key:          k[len(prefix):],
			Size:         int64(len(o.data)),
			ETag:         etag(o.data),
			LastModified: o.modified,
		})
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Key < refs[j].Key })
	return refs, nil
}

func (m *MemStore) GetTags(ctx context.Context, bucket, key string) (map[string]string, error) {
	if err := m.enter(ctx, "get_tags", bucket, key); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()
	o, err := m.lookup(bucket, key)
	if err != nil {
		return nil, err
	}
	return entities.CloneTags(o.tags), nil
}

func (m *MemStore) SetTags(ctx context.Context, bucket, key string, tags map[string]string) error {
	if err := m.enter(ctx, "set_tags", bucket, key); err != nil {
		return err
	}
	defer m.mu.Unlock()
	o, err := m.lookup(bucket, key)
	if err != nil {
		return err
	}
	o.tags = entities.CloneTags(tags)
	return nil
}

func (m *MemStore) DeleteTags(ctx context.Context, bucket, key string) error {
	if err := m.enter(ctx, "delete_tags", bucket, key); err != nil {
		return err
	}
	defer m.mu.Unlock()
	o, err := m.lookup(bucket, key)
	if err != nil {
		return err
	}
	o.tags = map[string]string{}
	return nil
}

func (m *MemStore) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	if err := m.enter(ctx, "get", bucket, key); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()
	o, err := m.lookup(bucket, key)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), o.data...), nil
}

func (m *MemStore) Put(ctx context.Context, bucket, key string, payload []byte, contentType string, tags map[string]string) (entities.PutResult, error) {
	if err := m.enter(ctx, "put", bucket, key); err != nil {
		return entities.PutResult{}, err
	}
	defer m.mu.Unlock()
	m.objects[id(bucket, key)] = &memObject{
		data:        append([]byte(nil), payload...),
		contentType: contentType,
		tags:        entities.CloneTags(tags),
		modified:    time.Now(),
	}
	return entities.PutResult{Key: key, ETag: etag(payload)}, nil
}

func (m *MemStore) Remove(ctx context.Context, bucket, key string) error {
	if err := m.enter(ctx, "remove", bucket, key); err != nil {
		return err
	}
	defer m.mu.Unlock()
	delete(m.objects, id(bucket, key))
	return nil
}

func (m *MemStore) Stat(ctx context.Context, bucket, key string) (entities.ObjectInfo, error) {
	if err := m.enter(ctx, "stat", bucket, key); err != nil {
		return entities.ObjectInfo{}, err
	}
	defer m.mu.Unlock()
	o, err := m.lookup(bucket, key)
	if err != nil {
		return entities.ObjectInfo{}, err
	}
	return entities.ObjectInfo{
		Key:         key,
		Size:        int64(len(o.data)),
		ContentType: o.contentType,
		ETag:        etag(o.data),
	}, nil
}

func etag(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}
