package transform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"

	"github.com/rs/zerolog"

	"github.com/nihr43/object-ingest/internal/classify"
	"github.com/nihr43/object-ingest/internal/entities"
	"github.com/nihr43/object-ingest/internal/lock"
)

type Converter struct {
	store Store
	codec Codec
	rules classify.Rules
	log   zerolog.Logger
}

func NewConverter(store Store, codec Codec, rules classify.Rules, log zerolog.Logger) *Converter {
	return &Converter{store: store, codec: codec, rules: rules, log: log}
}

// Convert rewrites bucket/key into the target format and returns the new key.
// Order: read, decode+encode, lock target, write new, delete old. Any failure
// up to and including the target lock leaves the source untouched; a target
// locked by another worker fails with lock.ErrAlreadyLocked. The new object is written
// with the holder's lock tags and adopted, so the caller's release covers it.
func (c *Converter) Convert(ctx context.Context, holder Holder, bucket, key string) (string, error) {
	target, err := c.rules.TargetKey(key)
	if err != nil {
		return "", err
	}

	data, err := c.store.Get(ctx, bucket, key)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", key, err)
	}

	out, err := c.codec.ToJPEG(bytes.NewReader(data), path.Ext(key))
	if err != nil {
		return "", fmt.Errorf("convert %s: %w", key, err)
	}

	// user tags follow the object; the lock tags are the holder's
	tags, err := c.store.GetTags(ctx, bucket, key)
	if err != nil && !errors.Is(err, entities.ErrObjectNotFound) {
		return "", fmt.Errorf("read tags of %s: %w", key, err)
	}
	tags = lock.Strip(tags)
	for k, v := range holder.Tags() {
		tags[k] = v
	}

	// an existing target is only overwritten under our lock
	exists, err := holder.Claim(ctx, target)
	if err != nil {
		return "", fmt.Errorf("lock target %s: %w", target, err)
	}
	if exists {
		c.log.Warn().Str("bucket", bucket).Str("key", key).Str("target", target).Msg("target exists, overwriting")
	}

	if _, err := c.store.Put(ctx, bucket, target, out, c.rules.TargetContentType, tags); err != nil {
		return "", fmt.Errorf("upload %s: %w", target, err)
	}
	holder.Adopt(target)

	if err := c.store.Remove(ctx, bucket, key); err != nil {
		return target, fmt.Errorf("remove original %s: %w", key, err)
	}

	c.log.Info().Str("bucket", bucket).Str("key", key).Str("target", target).Int("bytes", len(out)).Msg("converted")
	return target, nil
}
