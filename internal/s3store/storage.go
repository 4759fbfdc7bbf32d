package s3store

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"

	conf "github.com/nihr43/object-ingest/internal/config"
	"github.com/nihr43/object-ingest/internal/entities"
)

// Observer is called after every store round-trip.
type Observer func(operation string, started time.Time, err error)

// Storage talks to an S3-compatible endpoint. One instance is shared by all
// workers; the underlying SDK client is safe for concurrent use and pools
// its HTTP connections.
type Storage struct {
	S3Client *s3.Client
	Uploader *manager.Uploader

	observe Observer
	log     zerolog.Logger
}

// NewStorage builds the SDK client for the configured endpoint. Path-style
// addressing is forced since MinIO and most self-hosted stores need it.
func NewStorage(ctx context.Context, cfg *conf.StoreConfig, log zerolog.Logger) (*Storage, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey, cfg.SecretKey, "",
		)),
		config.WithRegion(cfg.Region),
	}
	if cfg.MaxAttempts > 0 {
		opts = append(opts, config.WithRetryMaxAttempts(cfg.MaxAttempts))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.BaseURL())
		o.UsePathStyle = true
	})

	log.Debug().Str("endpoint", cfg.BaseURL()).Str("region", cfg.Region).Msg("object store client initialized")

	return &Storage{
		S3Client: client,
		Uploader: manager.NewUploader(client),
		log:      log,
	}, nil
}

// SetObserver installs a hook that sees every store call.
func (s *Storage) SetObserver(o Observer) {
	s.observe = o
}

func (s *Storage) done(op string, started time.Time, err error) error {
	err = classifyError(err)
	if s.observe != nil {
		s.observe(op, started, err)
	}
	return err
}

// ListObjects returns every object in bucket, recursively. The listing is
// all-or-nothing: a failure on any page discards what was collected.
func (s *Storage) ListObjects(ctx context.Context, bucket string) ([]entities.ObjectRef, error) {
	started := time.Now()
	paginator := s3.NewListObjectsV2Paginator(s.S3Client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
	})

	var refs []entities.ObjectRef
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list %q: %w", bucket, s.done("list", started, err))
		}
		for _, obj := range page.Contents {
			refs = append(refs, entities.ObjectRef{
				Bucket:       bucket,
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				ETag:         aws.ToString(obj.ETag),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	}
	_ = s.done("list", started, nil)
	return refs, nil
}

func (s *Storage) GetTags(ctx context.Context, bucket, key string) (map[string]string, error) {
	started := time.Now()
	out, err := s.S3Client.GetObjectTagging(ctx, &s3.GetObjectTaggingInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get tags for %q: %w", key, s.done("get_tags", started, err))
	}
	tags := make(map[string]string, len(out.TagSet))
	for _, t := range out.TagSet {
		tags[aws.ToString(t.Key)] = aws.ToString(t.Value)
	}
	_ = s.done("get_tags", started, nil)
	return tags, nil
}

// SetTags replaces the object's whole tag set.
func (s *Storage) SetTags(ctx context.Context, bucket, key string, tags map[string]string) error {
	started := time.Now()
	_, err := s.S3Client.PutObjectTagging(ctx, &s3.PutObjectTaggingInput{
		Bucket:  aws.String(bucket),
		Key:     aws.String(key),
		Tagging: &types.Tagging{TagSet: tagSet(tags)},
	})
	if err != nil {
		return fmt.Errorf("failed to set tags for %q: %w", key, s.done("set_tags", started, err))
	}
	return s.done("set_tags", started, nil)
}

func (s *Storage) DeleteTags(ctx context.Context, bucket, key string) error {
	started := time.Now()
	_, err := s.S3Client.DeleteObjectTagging(ctx, &s3.DeleteObjectTaggingInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete tags for %q: %w", key, s.done("delete_tags", started, err))
	}
	return s.done("delete_tags", started, nil)
}

func (s *Storage) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	started := time.Now()
	out, err := s.S3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download %q: %w", key, s.done("get", started, err))
	}
	defer out.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(out.Body); err != nil {
		return nil, fmt.Errorf("failed to read body for %q: %w", key, s.done("get", started, err))
	}
	_ = s.done("get", started, nil)
	return buf.Bytes(), nil
}

// Put uploads payload under key. Tags are attached in the same request so a
// freshly written object is never visible without them.
func (s *Storage) Put(ctx context.Context, bucket, key string, payload []byte, contentType string, tags map[string]string) (entities.PutResult, error) {
	started := time.Now()
	in := &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String(contentType),
	}
	if len(tags) > 0 {
		in.Tagging = aws.String(encodeTagging(tags))
	}

	out, err := s.Uploader.Upload(ctx, in)
	if err != nil {
		return entities.PutResult{}, fmt.Errorf("failed to upload %q: %w", key, s.done("put", started, err))
	}
	_ = s.done("put", started, nil)
	return entities.PutResult{Key: key, ETag: aws.ToString(out.ETag)}, nil
}

func (s *Storage) Remove(ctx context.Context, bucket, key string) error {
	started := time.Now()
	_, err := s.S3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to remove %q: %w", key, s.done("remove", started, err))
	}
	return s.done("remove", started, nil)
}

func (s *Storage) Stat(ctx context.Context, bucket, key string) (entities.ObjectInfo, error) {
	started := time.Now()
	out, err := s.S3Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return entities.ObjectInfo{}, fmt.Errorf("failed to stat %q: %w", key, s.done("stat", started, err))
	}
	_ = s.done("stat", started, nil)
	return entities.ObjectInfo{
		Key:         key,
		Size:        aws.ToInt64(out.ContentLength),
		ContentType: aws.ToString(out.ContentType),
		ETag:        aws.ToString(out.ETag),
	}, nil
}

func tagSet(tags map[string]string) []types.Tag {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	set := make([]types.Tag, 0, len(keys))
	for _, k := range keys {
		set = append(set, types.Tag{Key: aws.String(k), Value: aws.String(tags[k])})
	}
	return set
}

// encodeTagging renders tags in the query-string form PutObject expects.
func encodeTagging(tags map[string]string) string {
	v := url.Values{}
	for k, val := range tags {
		v.Set(k, val)
	}
	return v.Encode()
}
