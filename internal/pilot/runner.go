package pilot

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/source-vetting/internal/lease"
	"github.com/source-vetting/pkg/logger"
)

// RunResult summarizes one batch of per-source workflow steps
type RunResult struct {
	Processed int
	Succeeded int
	Skipped   int // Another worker held the source lease
	Errors    []error
	Duration  time.Duration
}

// Runner is a bounded worker pool that applies a workflow step to many sources.
// Per-source exclusivity comes from the lease taken inside each step.
type Runner struct {
	workers int
	log     *logger.Logger
}

// NewRunner creates a worker pool with the given number of workers
func NewRunner(workers int, log *logger.Logger) *Runner {
	if workers <= 0 {
		workers = 1
	}
	return &Runner{
		workers: workers,
		log:     log.WithComponent("runner"),
	}
}

// Run applies fn to every id with at most r.workers running at once.
// A failing id never stops the others.
func (r *Runner) Run(ctx context.Context, name string, ids []string, fn func(ctx context.Context, id string) error) *RunResult {
	start := time.Now()
	result := &RunResult{}

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)

	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			err := fn(ctx, id)

			mu.Lock()
			defer mu.Unlock()
			result.Processed++
			switch {
			case err == nil:
				result.Succeeded++
			case errors.Is(err, lease.ErrHeld):
				result.Skipped++
			default:
				result.Errors = append(result.Errors, err)
				r.log.Warn().Err(err).Str("run", name).Str("submission_id", id).Msg("Workflow step failed")
			}
			return nil
		})
	}
	_ = g.Wait()

	result.Duration = time.Since(start)
	r.log.Info().
		Str("run", name).
		Int("processed", result.Processed).
		Int("succeeded", result.Succeeded).
		Int("skipped", result.Skipped).
		Int("errors", len(result.Errors)).
		Dur("duration", result.Duration).
		Msg("Run completed")
	return result
}
