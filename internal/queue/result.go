package queue

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/nihr43/object-ingest/internal/classify"
)

type Outcome string

const (
	OutcomeSkipped   Outcome = "skipped"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeModified  Outcome = "modified"
	OutcomeFailed    Outcome = "failed"
	OutcomePending   Outcome = "pending" // noop mode only
)

// Result is what a job reports once it reaches a terminal state.
type Result struct {
	Bucket    string
	Key       string
	Size      int64
	Outcome   Outcome
	Applied   []classify.Transform
	Pending   classify.Decision
	NewKey    string
	Reclaimed bool
	Err       error
	Duration  time.Duration
}

// Message renders the one-line outcome shown to the operator.
func (r Result) Message() string {
	switch r.Outcome {
	case OutcomeSkipped:
		return "skipped, already locked"
	case OutcomeUnchanged:
		return "no changes"
	case OutcomeModified:
		return "modified: " + joinTransforms(r.Applied)
	case OutcomePending:
		return "pending: " + r.Pending.String()
	case OutcomeFailed:
		if r.Err == nil {
			return "failed"
		}
		return "failed: " + r.Err.Error()
	default:
		return string(r.Outcome)
	}
}

func joinTransforms(ts []classify.Transform) string {
	parts := make([]string, len(ts))
	for i, t := range ts {
		parts[i] = string(t)
	}
	return strings.Join(parts, ", ")
}

type resultJSON struct {
	Bucket     string               `json:"bucket"`
	Key        string               `json:"key"`
	Size       int64                `json:"size"`
	Outcome    Outcome              `json:"outcome"`
	Applied    []classify.Transform `json:"applied,omitempty"`
	Pending    []classify.Transform `json:"pending,omitempty"`
	NewKey     string               `json:"new_key,omitempty"`
	Reclaimed  bool                 `json:"reclaimed,omitempty"`
	Error      string               `json:"error,omitempty"`
	DurationMS int64                `json:"duration_ms"`
	Message    string               `json:"message"`
}

func (r Result) MarshalJSON() ([]byte, error) {
	out := resultJSON{
		Bucket:     r.Bucket,
		Key:        r.Key,
		Size:       r.Size,
		Outcome:    r.Outcome,
		Applied:    r.Applied,
		Pending:    r.Pending,
		NewKey:     r.NewKey,
		Reclaimed:  r.Reclaimed,
		DurationMS: r.Duration.Milliseconds(),
		Message:    r.Message(),
	}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return json.Marshal(out)
}

// Result converts a terminal job into its report.
func (j *Job) Result(d time.Duration) Result {
	res := Result{
		Bucket:    j.Ref.Bucket,
		Key:       j.Ref.Key,
		Size:      j.Ref.Size,
		Applied:   append([]classify.Transform(nil), j.Applied...),
		NewKey:    j.NewKey,
		Reclaimed: j.Reclaimed,
		Err:       j.Err,
		Duration:  d,
	}
	switch {
	case j.State == StateSkipped:
		res.Outcome = OutcomeSkipped
	case j.State == StateFailed || j.Err != nil:
		res.Outcome = OutcomeFailed
	case len(j.Applied) > 0:
		res.Outcome = OutcomeModified
	default:
		res.Outcome = OutcomeUnchanged
	}
	return res
}
