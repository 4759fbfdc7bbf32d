package queue

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/rs/zerolog"

	"github.com/nihr43/object-ingest/internal/entities"
)

// JobFunc processes one object. It must return a terminal result and must not
// leave a lock behind.
type JobFunc func(ctx context.Context, ref entities.ObjectRef) Result

// DefaultWorkers picks the pool size for a host with cpus logical CPUs: half
// of them, at least one, and 4 when the count is unknown.
func DefaultWorkers(cpus int) int {
	if cpus <= 0 {
		return 4
	}
	return max(cpus/2, 1)
}

// Dispatcher fans a batch of objects out to a fixed pool of workers.
type Dispatcher struct {
	workers int
	log     zerolog.Logger
}

func NewDispatcher(workers int, log zerolog.Logger) *Dispatcher {
	if workers <= 0 {
		workers = DefaultWorkers(runtime.NumCPU())
	}
	return &Dispatcher{workers: workers, log: log}
}

func (d *Dispatcher) Workers() int { return d.workers }

type item struct {
	idx int
	ref entities.ObjectRef
}

// Run executes fn for every ref with at most Workers() calls in flight and
// returns the results in input order. Once ctx is done no new job starts;
// refs that never started are reported as failed. Jobs already running are
// left to finish, so their locks get released.
func (d *Dispatcher) Run(ctx context.Context, refs []entities.ObjectRef, fn JobFunc) []Result {
	results := make([]Result, len(refs))
	if len(refs) == 0 {
		return results
	}

	n := min(d.workers, len(refs))
	queue := make(chan item)
	var wg sync.WaitGroup

	d.log.Debug().Int("workers", n).Int("objects", len(refs)).Msg("dispatching")
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			d.log.Trace().Int("worker", id).Msg("worker started")
			for it := range queue {
				results[it.idx] = fn(ctx, it.ref)
			}
			d.log.Trace().Int("worker", id).Msg("worker stopped")
		}(i)
	}

feed:
	for i, ref := range refs {
		if ctx.Err() != nil {
			d.cancelFrom(ctx, refs, results, i)
			break
		}
		select {
		case queue <- item{idx: i, ref: ref}:
		case <-ctx.Done():
			d.cancelFrom(ctx, refs, results, i)
			break feed
		}
	}
	close(queue)
	wg.Wait()

	return results
}

func (d *Dispatcher) cancelFrom(ctx context.Context, refs []entities.ObjectRef, results []Result, from int) {
	d.log.Warn().Int("not_started", len(refs)-from).Msg("dispatch canceled")
	for i := from; i < len(refs); i++ {
		results[i] = Result{
			Bucket:  refs[i].Bucket,
			Key:     refs[i].Key,
			Size:    refs[i].Size,
			Outcome: OutcomeFailed,
			Err:     fmt.Errorf("not started: %w", context.Cause(ctx)),
		}
	}
}
