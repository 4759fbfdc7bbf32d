// Package lock implements advisory per-object locks on top of object tags.
//
// A lock is the presence of the "lock" tag. Acquiring it is a read of the tag
// set followed by a write; S3 offers no conditional tag write, so two callers
// can both observe an unlocked object and both write. The manager narrows that
// window by stamping each acquisition with an owner token and re-reading the
// tag set afterwards: whoever is not the last writer backs off. Two callers
// whose write-then-verify sequences do not overlap are still both able to win;
// this residual race is accepted.
//
// Every acquisition also records its time. A lock older than the configured
// lease is considered abandoned and may be taken over, so a crashed worker
// strands its objects for at most one lease period. SweepUnlockAll remains
// available as the manual fallback.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nihr43/object-ingest/internal/entities"
)

const (
	TagLock     = "lock"
	TagOwner    = "lock-owner"
	TagAcquired = "lock-acquired"

	lockValue = "true"
)

// ErrAlreadyLocked means another worker holds the object. It is not a failure.
var ErrAlreadyLocked = errors.New("object already locked")

type Store interface {
	GetTags(ctx context.Context, bucket, key string) (map[string]string, error)
	SetTags(ctx context.Context, bucket, key string, tags map[string]string) error
	DeleteTags(ctx context.Context, bucket, key string) error
}

type Lister interface {
	ListObjects(ctx context.Context, bucket string) ([]entities.ObjectRef, error)
}

type Options struct {
	// LeaseTTL is the age after which a lock may be reclaimed. Zero disables reclaim.
	LeaseTTL time.Duration
	// VerifyOwner re-reads the tag set after writing to detect a lost race.
	VerifyOwner bool

	Now      func() time.Time
	NewToken func() string
}

type Manager struct {
	store  Store
	lease  time.Duration
	verify bool
	now    func() time.Time
	token  func() string
	log    zerolog.Logger
}

func NewManager(store Store, opts Options, log zerolog.Logger) *Manager {
	m := &Manager{
		store:  store,
		lease:  opts.LeaseTTL,
		verify: opts.VerifyOwner,
		now:    opts.Now,
		token:  opts.NewToken,
		log:    log,
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.token == nil {
		m.token = uuid.NewString
	}
	return m
}

// Held reports whether tags carry a lock, whatever its value.
func Held(tags map[string]string) bool {
	_, ok := tags[TagLock]
	return ok
}

// TryAcquire locks bucket/key for the caller or returns ErrAlreadyLocked
// without touching the object. Tags other than the lock tags are preserved.
func (m *Manager) TryAcquire(ctx context.Context, bucket, key string) (*Handle, error) {
	tags, err := m.store.GetTags(ctx, bucket, key)
	if err != nil {
		return nil, fmt.Errorf("read tags: %w", err)
	}

	reclaimed, err := m.check(bucket, key, "", tags)
	if err != nil {
		return nil, err
	}

	token := m.token()
	acquiredAt := m.now().UTC().Format(time.RFC3339Nano)
	if err := m.write(ctx, bucket, key, token, acquiredAt, tags); err != nil {
		return nil, err
	}

	return &Handle{
		m:          m,
		bucket:     bucket,
		token:      token,
		acquiredAt: acquiredAt,
		keys:       []string{key},
		Reclaimed:  reclaimed,
	}, nil
}

// check reports whether token may lock an object carrying tags, and whether
// doing so takes over an expired lease. A live lock held by anyone other than
// a non-empty token yields ErrAlreadyLocked.
func (m *Manager) check(bucket, key, token string, tags map[string]string) (bool, error) {
	if !Held(tags) || (token != "" && tags[TagOwner] == token) {
		return false, nil
	}
	stale, age := m.stale(tags)
	if !stale {
		return false, ErrAlreadyLocked
	}
	m.log.Warn().
		Str("bucket", bucket).
		Str("key", key).
		Str("previous_owner", tags[TagOwner]).
		Dur("age", age).
		Msg("reclaiming expired lock")
	return true, nil
}

// write stamps token's lock tags over tags and, with verification on, checks
// that token is still the owner. A failed write or verify gives the lock back.
func (m *Manager) write(ctx context.Context, bucket, key, token, acquiredAt string, tags map[string]string) error {
	next := entities.CloneTags(tags)
	next[TagLock] = lockValue
	next[TagOwner] = token
	next[TagAcquired] = acquiredAt
	if err := m.store.SetTags(ctx, bucket, key, next); err != nil {
		// The write can land even when the call reports an error.
		if rerr := m.releaseKey(context.WithoutCancel(ctx), bucket, key, token); rerr != nil {
			err = errors.Join(err, rerr)
		}
		return fmt.Errorf("write lock tags: %w", err)
	}

	if !m.verify {
		return nil
	}
	got, err := m.store.GetTags(ctx, bucket, key)
	if err != nil {
		// We may hold the lock without being able to prove it; give it back.
		if rerr := m.releaseKey(context.WithoutCancel(ctx), bucket, key, token); rerr != nil {
			err = errors.Join(err, rerr)
		}
		return fmt.Errorf("verify lock tags: %w", err)
	}
	if got[TagOwner] != token {
		m.log.Info().
			Str("bucket", bucket).
			Str("key", key).
			Str("winner", got[TagOwner]).
			Msg("lost lock race")
		return ErrAlreadyLocked
	}
	return nil
}

// Release removes the lock tags from bucket/key regardless of who set them.
// It is a no-op when the object is unlocked or gone.
func (m *Manager) Release(ctx context.Context, bucket, key string) error {
	return m.releaseKey(ctx, bucket, key, "")
}

// releaseKey strips the lock tags. With a non-empty token, a lock whose owner
// tag names someone else is left in place.
func (m *Manager) releaseKey(ctx context.Context, bucket, key, token string) error {
	tags, err := m.store.GetTags(ctx, bucket, key)
	if errors.Is(err, entities.ErrObjectNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read tags for %q: %w", key, err)
	}
	if !Held(tags) {
		return nil
	}
	if owner, ok := tags[TagOwner]; token != "" && ok && owner != token {
		m.log.Warn().
			Str("bucket", bucket).
			Str("key", key).
			Str("owner", owner).
			Msg("lock was taken over by another worker; leaving it in place")
		return nil
	}

	remaining := Strip(tags)
	if len(remaining) == 0 {
		err = m.store.DeleteTags(ctx, bucket, key)
	} else {
		err = m.store.SetTags(ctx, bucket, key, remaining)
	}
	if err != nil && !errors.Is(err, entities.ErrObjectNotFound) {
		return fmt.Errorf("clear lock on %q: %w", key, err)
	}
	return nil
}

func (m *Manager) stale(tags map[string]string) (bool, time.Duration) {
	if m.lease <= 0 {
		return false, 0
	}
	acquired, err := time.Parse(time.RFC3339Nano, tags[TagAcquired])
	if err != nil {
		// no timestamp: written by an older tool, never expires on its own
		return false, 0
	}
	age := m.now().Sub(acquired)
	return age > m.lease, age
}

// Strip returns a copy of tags without the lock tags.
func Strip(tags map[string]string) map[string]string {
	out := entities.CloneTags(tags)
	delete(out, TagLock)
	delete(out, TagOwner)
	delete(out, TagAcquired)
	return out
}
