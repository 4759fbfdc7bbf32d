package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Producer appends job results to a Redis stream so other services can follow
// what a sweep did.
type Producer struct {
	r      redis.UniversalClient
	stream string
	maxLen int64
}

func NewProducer(r redis.UniversalClient, stream string, maxLen int64) *Producer {
	return &Producer{r: r, stream: stream, maxLen: maxLen}
}

// Publish encodes res as JSON and appends it to the stream.
func (p *Producer) Publish(ctx context.Context, runID string, res Result) error {
	raw, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode result for %s: %w", res.Key, err)
	}
	return p.r.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Values: map[string]any{
			"payload": string(raw),
			"run":     runID,
			"at":      time.Now().UTC().Format(time.RFC3339),
		},
	}).Err()
}

// PublishAll publishes every result and returns the first error, after trying
// all of them.
func (p *Producer) PublishAll(ctx context.Context, runID string, results []Result) error {
	var first error
	for _, res := range results {
		if err := p.Publish(ctx, runID, res); err != nil && first == nil {
			first = err
		}
	}
	return first
}
