package report

import (
	"github.com/getsentry/sentry-go"

	"github.com/nihr43/object-ingest/internal/queue"
)

// CaptureFailures sends one Sentry event per failed result and returns how
// many it sent. A nil hub means the current hub.
func CaptureFailures(hub *sentry.Hub, results []queue.Result) int {
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	n := 0
	for _, r := range results {
		if r.Outcome != queue.OutcomeFailed || r.Err == nil {
			continue
		}
		hub.WithScope(func(scope *sentry.Scope) {
			scope.SetTag("bucket", r.Bucket)
			scope.SetTag("key", r.Key)
			scope.SetContext("job", sentry.Context{
				"applied":  r.Applied,
				"new_key":  r.NewKey,
				"duration": r.Duration.String(),
			})
			hub.CaptureException(r.Err)
		})
		n++
	}
	return n
}
