package queue

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"

	"github.com/nihr43/object-ingest/internal/classify"
	"github.com/nihr43/object-ingest/internal/entities"
	"github.com/nihr43/object-ingest/internal/lock"
	"github.com/nihr43/object-ingest/internal/transform"
)

type Locker interface {
	TryAcquire(ctx context.Context, bucket, key string) (*lock.Handle, error)
}

type FormatConverter interface {
	Convert(ctx context.Context, holder transform.Holder, bucket, key string) (string, error)
}

type ContentRepairer interface {
	Repair(ctx context.Context, bucket, key string) (bool, error)
}

// Recorder receives every finished job. Metrics hang off it.
type Recorder interface {
	Observe(Result)
}

type RunnerOptions struct {
	// Timeout bounds a single job, lock acquisition included. Zero means none.
	Timeout time.Duration
	// ReleaseTimeout bounds the unlock step, which runs even after the job's
	// context is done.
	ReleaseTimeout time.Duration
	Recorder       Recorder
}

// Runner drives one object through lock, classify, transform and unlock.
type Runner struct {
	locks     Locker
	rules     classify.Rules
	stater    classify.Stater
	converter FormatConverter
	repairer  ContentRepairer
	opts      RunnerOptions
	log       zerolog.Logger
}

func NewRunner(
	locks Locker,
	rules classify.Rules,
	stater classify.Stater,
	converter FormatConverter,
	repairer ContentRepairer,
	opts RunnerOptions,
	log zerolog.Logger,
) *Runner {
	return &Runner{
		locks:     locks,
		rules:     rules,
		stater:    stater,
		converter: converter,
		repairer:  repairer,
		opts:      opts,
		log:       log,
	}
}

// Run processes ref and always returns a terminal result. A lock taken here
// is released before Run returns, whatever happened in between.
func (r *Runner) Run(ctx context.Context, ref entities.ObjectRef) Result {
	started := time.Now()
	job := NewJob(ref)

	func() {
		defer func() {
			if p := recover(); p != nil {
				r.log.Error().Str("key", ref.Key).Interface("panic", p).Bytes("stack", debug.Stack()).Msg("job panicked")
				job.fail(fmt.Errorf("panic: %v", p))
			}
		}()
		r.execute(ctx, job)
	}()

	res := job.Result(time.Since(started))
	r.logResult(res)
	if r.opts.Recorder != nil {
		r.opts.Recorder.Observe(res)
	}
	return res
}

func (r *Runner) execute(ctx context.Context, job *Job) {
	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}
	if err := ctx.Err(); err != nil {
		job.fail(err)
		return
	}

	r.mustTransition(job, StateLockAttempted)
	h, err := r.locks.TryAcquire(ctx, job.Ref.Bucket, job.Ref.Key)
	if errors.Is(err, lock.ErrAlreadyLocked) {
		r.mustTransition(job, StateSkipped)
		return
	}
	if err != nil {
		job.fail(fmt.Errorf("acquire lock: %w", err))
		return
	}
	r.mustTransition(job, StateLocked)
	job.Reclaimed = h.Reclaimed

	defer r.release(ctx, job, h)
	r.transform(ctx, job, h)
}

func (r *Runner) transform(ctx context.Context, job *Job, h *lock.Handle) {
	bucket, key := job.Ref.Bucket, job.Ref.Key

	decision, err := r.rules.Classify(ctx, r.stater, bucket, key)
	if err != nil {
		job.Err = fmt.Errorf("classify: %w", err)
		return
	}
	r.mustTransition(job, StateClassified)
	job.Decision = decision
	if decision.Empty() {
		return
	}

	r.mustTransition(job, StateTransforming)
	for _, t := range decision {
		switch t {
		case classify.ConvertFormat:
			newKey, err := r.converter.Convert(ctx, h, bucket, key)
			if newKey != "" {
				job.NewKey = newKey
			}
			if err != nil {
				job.Err = err
				return
			}
			job.Applied = append(job.Applied, t)
			key = newKey
		case classify.RepairContentType:
			applied, err := r.repairer.Repair(ctx, bucket, key)
			if err != nil {
				job.Err = err
				return
			}
			if applied {
				job.Applied = append(job.Applied, t)
			}
		default:
			job.Err = fmt.Errorf("unknown transform %q", t)
			return
		}
	}
}

// release runs deferred, so it also sees panics from the transform step and
// turns them into a failed job after unlocking.
func (r *Runner) release(ctx context.Context, job *Job, h *lock.Handle) {
	if p := recover(); p != nil {
		r.log.Error().Str("key", job.Ref.Key).Interface("panic", p).Bytes("stack", debug.Stack()).Msg("job panicked")
		job.Err = errors.Join(job.Err, fmt.Errorf("panic: %v", p))
	}

	r.mustTransition(job, StateUnlocking)

	rctx := context.WithoutCancel(ctx)
	if r.opts.ReleaseTimeout > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(rctx, r.opts.ReleaseTimeout)
		defer cancel()
	}
	if err := h.Release(rctx); err != nil {
		job.Err = errors.Join(job.Err, fmt.Errorf("release lock: %w", err))
	}

	if job.Err != nil {
		job.fail(nil)
		return
	}
	r.mustTransition(job, StateCompleted)
}

func (r *Runner) mustTransition(job *Job, next State) {
	if err := job.to(next); err != nil {
		job.fail(err)
	}
}

// Inspect classifies ref without locking or writing anything.
func (r *Runner) Inspect(ctx context.Context, ref entities.ObjectRef) Result {
	started := time.Now()
	res := Result{Bucket: ref.Bucket, Key: ref.Key, Size: ref.Size}

	decision, err := r.rules.Classify(ctx, r.stater, ref.Bucket, ref.Key)
	switch {
	case err != nil:
		res.Outcome = OutcomeFailed
		res.Err = fmt.Errorf("classify: %w", err)
	case decision.Empty():
		res.Outcome = OutcomeUnchanged
	default:
		res.Outcome = OutcomePending
		res.Pending = pendingOf(decision)
		if len(decision) > 0 && decision[0] == classify.ConvertFormat {
			if target, err := r.rules.TargetKey(ref.Key); err == nil {
				res.NewKey = target
			}
		}
	}
	res.Duration = time.Since(started)
	r.logResult(res)
	return res
}

// pendingOf drops the repair that follows a conversion: the converted object
// is written with the right content-type, so there is nothing to report.
func pendingOf(d classify.Decision) classify.Decision {
	if len(d) > 1 && d[0] == classify.ConvertFormat {
		return classify.Decision{classify.ConvertFormat}
	}
	return d
}

func (r *Runner) logResult(res Result) {
	var ev *zerolog.Event
	switch res.Outcome {
	case OutcomeFailed:
		ev = r.log.Error().Err(res.Err)
	case OutcomeModified, OutcomePending:
		ev = r.log.Info()
	default:
		ev = r.log.Debug()
	}
	ev.Str("bucket", res.Bucket).
		Str("key", res.Key).
		Str("outcome", string(res.Outcome)).
		Dur("took", res.Duration).
		Msg(res.Message())
}
