package queue

import (
	"errors"
	"fmt"

	"github.com/nihr43/object-ingest/internal/classify"
	"github.com/nihr43/object-ingest/internal/entities"
)

type State string

const (
	StateDiscovered    State = "discovered"
	StateLockAttempted State = "lock_attempted"
	StateSkipped       State = "skipped"
	StateLocked        State = "locked"
	StateClassified    State = "classified"
	StateTransforming  State = "transforming"
	StateUnlocking     State = "unlocking"
	StateCompleted     State = "completed"
	StateFailed        State = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s State) Terminal() bool {
	return s == StateSkipped || s == StateCompleted || s == StateFailed
}

// Job is the in-memory record of one object's trip through the pipeline.
// It lives for the duration of a single Runner.Run call.
type Job struct {
	Ref       entities.ObjectRef
	State     State
	Decision  classify.Decision
	Applied   []classify.Transform
	NewKey    string
	Reclaimed bool
	Err       error

	history []State
}

func NewJob(ref entities.ObjectRef) *Job {
	return &Job{Ref: ref, State: StateDiscovered, history: []State{StateDiscovered}}
}

// History lists every state the job passed through, in order.
func (j *Job) History() []State {
	return append([]State(nil), j.history...)
}

// to applies a transition, refusing edges the state machine does not have.
func (j *Job) to(next State) error {
	if !isValidTransition(j.State, next) {
		return fmt.Errorf("invalid job transition: %s -> %s", j.State, next)
	}
	j.State = next
	j.history = append(j.history, next)
	return nil
}

// fail records err and moves the job to Failed from wherever it is.
func (j *Job) fail(err error) {
	j.Err = errors.Join(j.Err, err)
	if j.State == StateFailed {
		return
	}
	j.State = StateFailed
	j.history = append(j.history, StateFailed)
}

func isValidTransition(from, to State) bool {
	switch from {
	case StateDiscovered:
		return to == StateLockAttempted || to == StateFailed
	case StateLockAttempted:
		return to == StateSkipped || to == StateLocked || to == StateFailed
	case StateLocked:
		return to == StateClassified || to == StateUnlocking
	case StateClassified:
		return to == StateTransforming || to == StateUnlocking
	case StateTransforming:
		return to == StateUnlocking
	case StateUnlocking:
		return to == StateCompleted || to == StateFailed
	default:
		return false
	}
}
