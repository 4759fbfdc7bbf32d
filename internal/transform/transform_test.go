package transform

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nihr43/object-ingest/internal/classify"
	"github.com/nihr43/object-ingest/internal/config"
	"github.com/nihr43/object-ingest/internal/lock"
	"github.com/nihr43/object-ingest/internal/testsupport"
)

const bucket = "ingest"

type fakeCodec struct {
	out  []byte
	err  error
	exts []string
}

func (f *fakeCodec) ToJPEG(r io.Reader, ext string) ([]byte, error) {
	f.exts = append(f.exts, ext)
	if _, err := io.ReadAll(r); err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.out, nil
}

type fakeHolder struct {
	tags     map[string]string
	adopted  []string
	claimed  []string
	claimErr error
}

func (h *fakeHolder) Tags() map[string]string { return h.tags }
func (h *fakeHolder) Adopt(key string)        { h.adopted = append(h.adopted, key) }

func (h *fakeHolder) Claim(_ context.Context, key string) (bool, error) {
	h.claimed = append(h.claimed, key)
	return false, h.claimErr
}

func newHolder() *fakeHolder {
	return &fakeHolder{tags: map[string]string{lock.TagLock: "true", lock.TagOwner: "me", lock.TagAcquired: "2024-05-01T10:00:00Z"}}
}

func rules() classify.Rules {
	return classify.NewRules(config.NewConfig().Convert)
}

func TestConvert_RoundTrip(t *testing.T) {
	store := testsupport.NewMemStore()
	store.Seed(bucket, "photo.HEIC", []byte("heic-bytes"), "image/heic", map[string]string{
		lock.TagLock: "true", lock.TagOwner: "me", "album": "summer",
	})
	jpg := testsupport.JPEG(t)
	codec := &fakeCodec{out: jpg}
	holder := newHolder()

	newKey, err := NewConverter(store, codec, rules(), zerolog.Nop()).Convert(context.Background(), holder, bucket, "photo.HEIC")
	require.NoError(t, err)

	assert.Equal(t, "photo.jpg", newKey)
	assert.Equal(t, []string{".HEIC"}, codec.exts)
	assert.False(t, store.Exists(bucket, "photo.HEIC"))
	assert.Equal(t, []string{"photo.jpg"}, store.Keys(bucket))

	data, contentType, tags, ok := store.Object(bucket, "photo.jpg")
	require.True(t, ok)
	assert.Equal(t, jpg, data)
	assert.Equal(t, "image/jpeg", contentType)
	assert.Equal(t, "summer", tags["album"])
	assert.Equal(t, "me", tags[lock.TagOwner], "new object must carry the job's lock")
	assert.Equal(t, []string{"photo.jpg"}, holder.adopted)
}

func TestConvert_DecodeFailureIsNotDestructive(t *testing.T) {
	store := testsupport.NewMemStore()
	store.Seed(bucket, "bad.HEIC", []byte("garbage"), "image/heic", nil)
	codec := &fakeCodec{err: errors.New("invalid heif container")}
	holder := newHolder()

	_, err := NewConverter(store, codec, rules(), zerolog.Nop()).Convert(context.Background(), holder, bucket, "bad.HEIC")
	require.Error(t, err)

	assert.True(t, store.Exists(bucket, "bad.HEIC"))
	assert.False(t, store.Exists(bucket, "bad.jpg"))
	assert.Zero(t, store.CountCalls("put"))
	assert.Zero(t, store.CountCalls("remove"))
	assert.Empty(t, holder.adopted)
}

func TestConvert_UploadFailureKeepsOriginal(t *testing.T) {
	store := testsupport.NewMemStore()
	store.Seed(bucket, "photo.heic", []byte("heic"), "image/heic", nil)
	store.Fail("put", "photo.jpg", errors.New("503 slow down"))

	_, err := NewConverter(store, &fakeCodec{out: []byte("jpg")}, rules(), zerolog.Nop()).
		Convert(context.Background(), newHolder(), bucket, "photo.heic")
	require.Error(t, err)
	assert.True(t, store.Exists(bucket, "photo.heic"))
	assert.Zero(t, store.CountCalls("remove"))
}

func TestConvert_RemoveFailureReportsNewKey(t *testing.T) {
	store := testsupport.NewMemStore()
	store.Seed(bucket, "photo.heic", []byte("heic"), "image/heic", nil)
	store.Fail("remove", "photo.heic", errors.New("denied"))
	holder := newHolder()

	newKey, err := NewConverter(store, &fakeCodec{out: []byte("jpg")}, rules(), zerolog.Nop()).
		Convert(context.Background(), holder, bucket, "photo.heic")
	require.Error(t, err)
	assert.Equal(t, "photo.jpg", newKey)
	assert.Equal(t, []string{"photo.jpg"}, holder.adopted, "new object still needs its lock released")
}

func TestConvert_ClaimFailureIsNotDestructive(t *testing.T) {
	store := testsupport.NewMemStore()
	store.Seed(bucket, "photo.heic", []byte("heic"), "image/heic", nil)
	holder := newHolder()
	holder.claimErr = errors.New("tagging unavailable")

	_, err := NewConverter(store, &fakeCodec{out: []byte("jpg")}, rules(), zerolog.Nop()).
		Convert(context.Background(), holder, bucket, "photo.heic")
	require.Error(t, err)
	assert.Equal(t, []string{"photo.jpg"}, holder.claimed)
	assert.True(t, store.Exists(bucket, "photo.heic"))
	assert.Zero(t, store.CountCalls("put"))
	assert.Zero(t, store.CountCalls("remove"))
	assert.Empty(t, holder.adopted)
}

// lockedSource seeds key and locks it through a real manager.
func lockedSource(t *testing.T, store *testsupport.MemStore, key string) *lock.Handle {
	t.Helper()
	store.Seed(bucket, key, []byte("heic"), "image/heic", map[string]string{"album": "summer"})
	m := lock.NewManager(store, lock.Options{LeaseTTL: time.Hour, VerifyOwner: true}, zerolog.Nop())
	h, err := m.TryAcquire(context.Background(), bucket, key)
	require.NoError(t, err)
	return h
}

func TestConvert_RefusesTargetLockedByAnotherWorker(t *testing.T) {
	store := testsupport.NewMemStore()
	h := lockedSource(t, store, "photo.HEIC")
	targetTags := map[string]string{
		lock.TagLock:     "true",
		lock.TagOwner:    "worker-b",
		lock.TagAcquired: time.Now().UTC().Format(time.RFC3339Nano),
	}
	store.Seed(bucket, "photo.jpg", []byte("worker-b-bytes"), "image/jpeg", targetTags)

	_, err := NewConverter(store, &fakeCodec{out: []byte("fresh-jpg")}, rules(), zerolog.Nop()).
		Convert(context.Background(), h, bucket, "photo.HEIC")
	require.ErrorIs(t, err, lock.ErrAlreadyLocked)

	data, _, tags, ok := store.Object(bucket, "photo.jpg")
	require.True(t, ok)
	assert.Equal(t, []byte("worker-b-bytes"), data)
	assert.Equal(t, targetTags, tags)
	assert.True(t, store.Exists(bucket, "photo.HEIC"))
	assert.Zero(t, store.CountCalls("put"))
	assert.Equal(t, []string{"photo.HEIC"}, h.Keys())

	require.NoError(t, h.Release(context.Background()))
	_, _, tags, _ = store.Object(bucket, "photo.jpg")
	assert.Equal(t, "worker-b", tags[lock.TagOwner], "other worker's lock must survive our release")
}

func TestConvert_OverwritesUnlockedTarget(t *testing.T) {
	store := testsupport.NewMemStore()
	h := lockedSource(t, store, "photo.HEIC")
	store.Seed(bucket, "photo.jpg", []byte("old-jpg"), "image/jpeg", map[string]string{"stale": "yes"})

	newKey, err := NewConverter(store, &fakeCodec{out: []byte("fresh-jpg")}, rules(), zerolog.Nop()).
		Convert(context.Background(), h, bucket, "photo.HEIC")
	require.NoError(t, err)
	assert.Equal(t, "photo.jpg", newKey)
	assert.Equal(t, []string{"photo.HEIC", "photo.jpg"}, h.Keys())

	data, _, tags, _ := store.Object(bucket, "photo.jpg")
	assert.Equal(t, []byte("fresh-jpg"), data)
	assert.Equal(t, h.Token(), tags[lock.TagOwner])
	assert.Equal(t, "summer", tags["album"])

	require.NoError(t, h.Release(context.Background()))
	_, _, tags, _ = store.Object(bucket, "photo.jpg")
	assert.Equal(t, map[string]string{"album": "summer"}, tags)
}

func TestConvert_OverwritesTargetWithExpiredLease(t *testing.T) {
	store := testsupport.NewMemStore()
	h := lockedSource(t, store, "photo.HEIC")
	store.Seed(bucket, "photo.jpg", []byte("old-jpg"), "image/jpeg", map[string]string{
		lock.TagLock:     "true",
		lock.TagOwner:    "crashed-worker",
		lock.TagAcquired: time.Now().Add(-2 * time.Hour).UTC().Format(time.RFC3339Nano),
	})

	_, err := NewConverter(store, &fakeCodec{out: []byte("fresh-jpg")}, rules(), zerolog.Nop()).
		Convert(context.Background(), h, bucket, "photo.HEIC")
	require.NoError(t, err)

	data, _, _, _ := store.Object(bucket, "photo.jpg")
	assert.Equal(t, []byte("fresh-jpg"), data)
	assert.False(t, store.Exists(bucket, "photo.HEIC"))
}

func TestConvert_RejectsNonLegacyKey(t *testing.T) {
	store := testsupport.NewMemStore()
	store.Seed(bucket, "photo.jpg", []byte("jpg"), "image/jpeg", nil)

	_, err := NewConverter(store, &fakeCodec{}, rules(), zerolog.Nop()).
		Convert(context.Background(), newHolder(), bucket, "photo.jpg")
	assert.Error(t, err)
	assert.Zero(t, store.CountCalls("get"))
}

func TestRepair_Converges(t *testing.T) {
	store := testsupport.NewMemStore()
	jpg := testsupport.JPEG(t)
	store.Seed(bucket, "photo.jpg", jpg, "application/octet-stream", map[string]string{lock.TagLock: "true", "album": "x"})
	r := NewRepairer(store, rules(), zerolog.Nop())

	applied, err := r.Repair(context.Background(), bucket, "photo.jpg")
	require.NoError(t, err)
	assert.True(t, applied)

	data, contentType, tags, _ := store.Object(bucket, "photo.jpg")
	assert.Equal(t, "image/jpeg", contentType)
	assert.True(t, bytes.Equal(jpg, data), "content must round-trip byte for byte")
	assert.Equal(t, "x", tags["album"])
	assert.Equal(t, "true", tags[lock.TagLock])

	applied, err = r.Repair(context.Background(), bucket, "photo.jpg")
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, 1, store.CountCalls("put"))
}

func TestRepair_RefusesNonJPEGContent(t *testing.T) {
	store := testsupport.NewMemStore()
	store.Seed(bucket, "fake.jpg", []byte("%PDF-1.7 not an image"), "application/octet-stream", nil)

	applied, err := NewRepairer(store, rules(), zerolog.Nop()).Repair(context.Background(), bucket, "fake.jpg")
	assert.ErrorIs(t, err, ErrContentMismatch)
	assert.False(t, applied)
	_, contentType, _, _ := store.Object(bucket, "fake.jpg")
	assert.Equal(t, "application/octet-stream", contentType)
}

func TestRepair_IgnoresOtherExtensions(t *testing.T) {
	store := testsupport.NewMemStore()
	store.Seed(bucket, "notes.txt", []byte("hi"), "application/octet-stream", nil)

	applied, err := NewRepairer(store, rules(), zerolog.Nop()).Repair(context.Background(), bucket, "notes.txt")
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Zero(t, store.CountCalls("get"))
}
