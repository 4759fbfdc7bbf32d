package transform

import (
	"context"
	"errors"
	"fmt"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"

	"github.com/nihr43/object-ingest/internal/classify"
)

// ErrContentMismatch means the bytes are not what the extension claims, so
// relabelling them would make things worse.
var ErrContentMismatch = errors.New("object content does not match its extension")

type Repairer struct {
	store Store
	rules classify.Rules
	log   zerolog.Logger
}

func NewRepairer(store Store, rules classify.Rules, log zerolog.Logger) *Repairer {
	return &Repairer{store: store, rules: rules, log: log}
}

// Repair fixes the content-type of bucket/key if it is wrong and reports
// whether it changed anything. The store has no metadata-only update, so the
// object is re-uploaded byte for byte with its current tags.
func (r *Repairer) Repair(ctx context.Context, bucket, key string) (bool, error) {
	info, err := r.store.Stat(ctx, bucket, key)
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", key, err)
	}
	if !r.rules.NeedsContentTypeRepair(key, info.ContentType) {
		return false, nil
	}

	data, err := r.store.Get(ctx, bucket, key)
	if err != nil {
		return false, fmt.Errorf("download %s: %w", key, err)
	}
	if detected := mimetype.Detect(data); !detected.Is(r.rules.TargetContentType) {
		return false, fmt.Errorf("%s is %s: %w", key, detected.String(), ErrContentMismatch)
	}

	tags, err := r.store.GetTags(ctx, bucket, key)
	if err != nil {
		return false, fmt.Errorf("read tags of %s: %w", key, err)
	}

	if _, err := r.store.Put(ctx, bucket, key, data, r.rules.TargetContentType, tags); err != nil {
		return false, fmt.Errorf("upload %s: %w", key, err)
	}

	r.log.Info().
		Str("bucket", bucket).
		Str("key", key).
		Str("from", info.ContentType).
		Str("to", r.rules.TargetContentType).
		Msg("content-type repaired")
	return true, nil
}
