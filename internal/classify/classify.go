// Package classify decides which transforms an object needs.
package classify

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path"
	"strings"

	"github.com/nihr43/object-ingest/internal/config"
	"github.com/nihr43/object-ingest/internal/entities"
)

type Transform string

const (
	ConvertFormat     Transform = "convert-format"
	RepairContentType Transform = "repair-content-type"
)

// Decision is the ordered list of transforms due for one object.
// Format conversion always comes before content-type repair.
type Decision []Transform

func (d Decision) Empty() bool { return len(d) == 0 }

func (d Decision) String() string {
	parts := make([]string, len(d))
	for i, t := range d {
		parts[i] = string(t)
	}
	return strings.Join(parts, ", ")
}

// ErrSameKey is returned by TargetKey when rewriting would not change the key.
var ErrSameKey = errors.New("target key equals source key")

type Stater interface {
	Stat(ctx context.Context, bucket, key string) (entities.ObjectInfo, error)
}

type Rules struct {
	LegacyExtensions  []string
	TargetExtensions  []string
	TargetContentType string
	// RewriteAnywhere replaces the legacy token wherever it appears in the
	// key instead of only the trailing extension.
	RewriteAnywhere bool
}

func NewRules(cfg config.ConvertConfig) Rules {
	return Rules{
		LegacyExtensions:  cfg.LegacyExtensions,
		TargetExtensions:  cfg.TargetExtensions,
		TargetContentType: cfg.TargetContentType,
		RewriteAnywhere:   cfg.RewriteAnywhere,
	}
}

// TargetExtension is the extension converted objects are written with.
func (r Rules) TargetExtension() string {
	if len(r.TargetExtensions) == 0 {
		return ""
	}
	return strings.ToLower(r.TargetExtensions[0])
}

func matchExt(key string, exts []string) (string, bool) {
	ext := path.Ext(key)
	for _, e := range exts {
		if strings.EqualFold(ext, e) {
			return ext, true
		}
	}
	return "", false
}

// NeedsFormatConversion is true when key ends in a legacy extension, in any case.
func (r Rules) NeedsFormatConversion(key string) bool {
	_, ok := matchExt(key, r.LegacyExtensions)
	return ok
}

// NeedsContentTypeRepair is true when key has a target extension but the
// stored media type differs from the expected one. Parameters such as
// charset are ignored.
func (r Rules) NeedsContentTypeRepair(key, contentType string) bool {
	if _, ok := matchExt(key, r.TargetExtensions); !ok {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return true
	}
	return !strings.EqualFold(mediaType, r.TargetContentType)
}

// TargetKey derives the key a converted object is written under. Only the
// trailing extension is replaced unless RewriteAnywhere is set, in which case
// every case-insensitive occurrence of the legacy token is replaced.
func (r Rules) TargetKey(key string) (string, error) {
	ext, ok := matchExt(key, r.LegacyExtensions)
	if !ok {
		return "", fmt.Errorf("%q has no legacy extension", key)
	}

	var target string
	if r.RewriteAnywhere {
		target = replaceFold(key, strings.TrimPrefix(ext, "."), strings.TrimPrefix(r.TargetExtension(), "."))
	} else {
		target = strings.TrimSuffix(key, ext) + r.TargetExtension()
	}
	if target == key {
		return "", fmt.Errorf("%q: %w", key, ErrSameKey)
	}
	return target, nil
}

// Classify computes the decision for bucket/key. Legacy objects get both
// transforms: the repair step re-checks the converted object. Target-format
// objects are stat'ed here, right before the decision.
func (r Rules) Classify(ctx context.Context, stater Stater, bucket, key string) (Decision, error) {
	if r.NeedsFormatConversion(key) {
		return Decision{ConvertFormat, RepairContentType}, nil
	}
	if _, ok := matchExt(key, r.TargetExtensions); !ok {
		return nil, nil
	}

	info, err := stater.Stat(ctx, bucket, key)
	if err != nil {
		return nil, fmt.Errorf("stat %q: %w", key, err)
	}
	if r.NeedsContentTypeRepair(key, info.ContentType) {
		return Decision{RepairContentType}, nil
	}
	return nil, nil
}

// replaceFold replaces every non-overlapping case-insensitive occurrence of
// old in s, scanning left to right.
func replaceFold(s, old, repl string) string {
	if old == "" {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		if i+len(old) <= len(s) && strings.EqualFold(s[i:i+len(old)], old) {
			b.WriteString(repl)
			i += len(old)
			continue
		}
		b.WriteByte(s[i])
		i++
	}
	return b.String()
}
