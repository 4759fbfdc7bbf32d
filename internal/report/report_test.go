package report

import (
	"bytes"
	"errors"
	"sync"
	"testing"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nihr43/object-ingest/internal/classify"
	"github.com/nihr43/object-ingest/internal/queue"
)

func sample() []queue.Result {
	return []queue.Result{
		{Key: "photo.heic", NewKey: "photo.jpg", Size: 2_000_000, Outcome: queue.OutcomeModified,
			Applied: []classify.Transform{classify.ConvertFormat}},
		{Key: "notes.txt", Size: 12, Outcome: queue.OutcomeUnchanged},
		{Key: "busy.heic", Size: 10, Outcome: queue.OutcomeSkipped},
		{Key: "bad.heic", Size: 5, Outcome: queue.OutcomeFailed, Err: errors.New("invalid heif")},
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize(sample())
	assert.Equal(t, Summary{Total: 4, Modified: 1, Unchanged: 1, Skipped: 1, Failed: 1, Bytes: 2_000_027}, s)
	assert.Equal(t, "4 objects (2.0 MB): 1 modified, 1 unchanged, 1 skipped, 1 failed", s.String())
}

func TestSummary_Pending(t *testing.T) {
	s := Summarize([]queue.Result{{Key: "a.heic", Outcome: queue.OutcomePending, Pending: classify.Decision{classify.ConvertFormat}}})
	assert.Equal(t, "1 object (0 B): 0 modified, 0 unchanged, 0 skipped, 0 failed, 1 pending", s.String())
}

func TestRender(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, sample()))
	out := buf.String()

	assert.Contains(t, out, "photo.heic -> photo.jpg")
	assert.Contains(t, out, "convert-format")
	assert.Contains(t, out, "skipped, already locked")
	assert.Contains(t, out, "failed: invalid heif")
	assert.Contains(t, out, "2.0 MB")
	assert.NotContains(t, out, "╭", "non-terminal output uses the plain style")
	assert.Contains(t, out, "4 objects")
}

func TestRender_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, nil))
	assert.Equal(t, "0 objects (0 B): 0 modified, 0 unchanged, 0 skipped, 0 failed\n", buf.String())
}

func TestCaptureFailures(t *testing.T) {
	var (
		mu     sync.Mutex
		events []*sentry.Event
	)
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn: "https://public@sentry.example.com/1",
		BeforeSend: func(e *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			mu.Lock()
			defer mu.Unlock()
			events = append(events, e)
			return nil
		},
	})
	require.NoError(t, err)
	hub := sentry.NewHub(client, sentry.NewScope())

	n := CaptureFailures(hub, sample())

	assert.Equal(t, 1, n)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 1)
	assert.Equal(t, "bad.heic", events[0].Tags["key"])
}

func TestReport_HasFailures(t *testing.T) {
	r := &Report{Results: sample()}
	assert.True(t, r.HasFailures())
	assert.Equal(t, 1, r.Summary().Failed)

	r = &Report{Results: sample()[:3]}
	assert.False(t, r.HasFailures())
}
