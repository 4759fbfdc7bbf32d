package use_case

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nihr43/object-ingest/internal/entities"
	"github.com/nihr43/object-ingest/internal/lock"
	"github.com/nihr43/object-ingest/internal/queue"
	"github.com/nihr43/object-ingest/internal/report"
)

type Lister interface {
	ListObjects(ctx context.Context, bucket string) ([]entities.ObjectRef, error)
}

type JobRunner interface {
	Run(ctx context.Context, ref entities.ObjectRef) queue.Result
	Inspect(ctx context.Context, ref entities.ObjectRef) queue.Result
}

type Unlocker interface {
	SweepUnlockAll(ctx context.Context, lister lock.Lister, bucket string) (lock.SweepStats, error)
}

type Publisher interface {
	PublishAll(ctx context.Context, runID string, results []queue.Result) error
}

// Tally receives run-level counts. *metrics.Metrics implements it.
type Tally interface {
	Listed(n int)
	Cleared(n int)
}

type Deps struct {
	Lister     Lister
	Runner     JobRunner
	Unlocker   Unlocker
	Dispatcher *queue.Dispatcher
	// Publisher and Tally are optional.
	Publisher Publisher
	Tally     Tally
}

type useCase struct {
	bucket     string
	lister     Lister
	runner     JobRunner
	unlocker   Unlocker
	dispatcher *queue.Dispatcher
	publisher  Publisher
	tally      Tally
	log        zerolog.Logger
}

func New(bucket string, deps Deps, log zerolog.Logger) *useCase {
	return &useCase{
		bucket:     bucket,
		lister:     deps.Lister,
		runner:     deps.Runner,
		unlocker:   deps.Unlocker,
		dispatcher: deps.Dispatcher,
		publisher:  deps.Publisher,
		tally:      deps.Tally,
		log:        log.With().Str("bucket", bucket).Logger(),
	}
}

// Process sweeps the bucket once: every object is locked, transformed as
// needed and unlocked. A listing failure aborts before any object is touched.
func (c *useCase) Process(ctx context.Context) (*report.Report, error) {
	return c.sweep(ctx, false, c.runner.Run)
}

// Inspect reports what Process would do without locking or writing.
func (c *useCase) Inspect(ctx context.Context) (*report.Report, error) {
	return c.sweep(ctx, true, c.runner.Inspect)
}

func (c *useCase) sweep(ctx context.Context, dryRun bool, fn queue.JobFunc) (*report.Report, error) {
	rep := &report.Report{
		RunID:   uuid.NewString(),
		Bucket:  c.bucket,
		DryRun:  dryRun,
		Started: time.Now(),
	}
	log := c.log.With().Str("run", rep.RunID).Logger()

	refs, err := c.lister.ListObjects(ctx, c.bucket)
	if err != nil {
		return nil, fmt.Errorf("list bucket %s: %w", c.bucket, err)
	}
	if c.tally != nil {
		c.tally.Listed(len(refs))
	}
	log.Info().Int("objects", len(refs)).Int("workers", c.dispatcher.Workers()).Bool("noop", dryRun).Msg("sweep started")

	rep.Results = c.dispatcher.Run(ctx, refs, fn)
	rep.Finished = time.Now()

	if c.publisher != nil && !dryRun {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		if err := c.publisher.PublishAll(pctx, rep.RunID, rep.Results); err != nil {
			log.Warn().Err(err).Msg("failed to publish results")
		}
		cancel()
	}

	s := rep.Summary()
	log.Info().
		Int("modified", s.Modified).
		Int("unchanged", s.Unchanged).
		Int("skipped", s.Skipped).
		Int("failed", s.Failed).
		Int("pending", s.Pending).
		Dur("took", rep.Finished.Sub(rep.Started)).
		Msg("sweep finished")
	return rep, nil
}

// Unlock removes every lock in the bucket regardless of owner. It bypasses
// the dispatcher and must not run alongside a sweep.
func (c *useCase) Unlock(ctx context.Context) (lock.SweepStats, error) {
	stats, err := c.unlocker.SweepUnlockAll(ctx, c.lister, c.bucket)
	if c.tally != nil {
		c.tally.Cleared(stats.Unlocked)
	}
	c.log.Info().
		Int("scanned", stats.Scanned).
		Int("unlocked", stats.Unlocked).
		Int("failed", stats.Failed).
		Msg("bulk unlock finished")
	return stats, err
}
