package lock

import (
	"context"
	"errors"
	"fmt"

	"github.com/nihr43/object-ingest/internal/entities"
)

type SweepStats struct {
	Scanned  int
	Unlocked int
	Failed   int
}

// SweepUnlockAll clears every lock in bucket without asking whether its holder
// is still alive. It is a recovery tool and must not run alongside normal
// processing. Per-object failures are collected; the sweep keeps going.
func (m *Manager) SweepUnlockAll(ctx context.Context, lister Lister, bucket string) (SweepStats, error) {
	var stats SweepStats

	refs, err := lister.ListObjects(ctx, bucket)
	if err != nil {
		return stats, fmt.Errorf("list %q: %w", bucket, err)
	}

	var errs []error
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		stats.Scanned++

		tags, err := m.store.GetTags(ctx, bucket, ref.Key)
		if errors.Is(err, entities.ErrObjectNotFound) {
			continue
		}
		if err != nil {
			stats.Failed++
			errs = append(errs, fmt.Errorf("read tags for %q: %w", ref.Key, err))
			continue
		}
		if !Held(tags) {
			continue
		}

		if err := m.Release(ctx, bucket, ref.Key); err != nil {
			stats.Failed++
			errs = append(errs, err)
			continue
		}
		stats.Unlocked++
		m.log.Info().Str("bucket", bucket).Str("key", ref.Key).Str("owner", tags[TagOwner]).Msg("unlocked")
	}

	return stats, errors.Join(errs...)
}
