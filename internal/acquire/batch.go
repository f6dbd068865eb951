package acquire

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"trackfetch/internal/logger"
)

// DefaultConcurrency bounds in-flight acquisitions per batch so upstream
// providers are not hammered during large retries.
const DefaultConcurrency = 3

// Acquirer is the single-track operation a Scheduler fans out.
type Acquirer interface {
	Acquire(ctx context.Context, req Request) Result
}

// BatchResult aggregates per-item results. Items[i] corresponds to the i-th
// request regardless of completion order.
type BatchResult struct {
	Items      []Result `json:"items"`
	Successful int      `json:"successful"`
	Failed     int      `json:"failed"`
}

// Scheduler runs many acquisitions through one Acquirer under a
// concurrency cap.
type Scheduler struct {
	Tracker JobTracker

	// OnItemDone is called after each item finishes, from the worker
	// goroutine.
	OnItemDone func(index int, r Result)

	acquirer Acquirer
	logger   *logger.Logger
}

// NewScheduler creates a Scheduler over a.
func NewScheduler(a Acquirer, log *logger.Logger) *Scheduler {
	return &Scheduler{
		Tracker:  NopTracker{},
		acquirer: a,
		logger:   log.With("scheduler"),
	}
}

// ResolveAll acquires every request with at most concurrency in flight
// (DefaultConcurrency when <= 0). Individual failures never abort the batch.
// The batch is reported under jobID as one job that completes when at least
// one item succeeded.
func (s *Scheduler) ResolveAll(ctx context.Context, jobID string, reqs []Request, concurrency int) BatchResult {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	tracker := guardedTracker{s.Tracker}
	tracker.OnStarted(jobID)

	s.logger.Info("=== Acquiring %d tracks (%d parallel) ===", len(reqs), concurrency)

	items := make([]Result, len(reqs))
	sem := semaphore.NewWeighted(int64(concurrency))
	var (
		wg   sync.WaitGroup
		done atomic.Int64
	)

	for i, req := range reqs {
		if err := sem.Acquire(ctx, 1); err != nil {
			s.logger.Warn("Batch cancelled, waiting for active acquisitions to finish...")
			for j := i; j < len(reqs); j++ {
				items[j] = Result{Target: reqs[j].Target, Status: StatusFailed, Detail: "cancelled", Err: err}
			}
			break
		}

		wg.Add(1)
		go func(idx int, r Request) {
			defer wg.Done()
			defer sem.Release(1)

			res := s.acquirer.Acquire(ctx, r)
			items[idx] = res

			n := done.Add(1)
			tracker.OnProgress(jobID, Progress{Stage: StageBatch, Message: r.Target.String(), Done: int(n), Total: len(reqs)})
			if s.OnItemDone != nil {
				s.OnItemDone(idx, res)
			}
		}(i, req)
	}

	wg.Wait()

	result := BatchResult{Items: items}
	for _, it := range items {
		if it.Succeeded() {
			result.Successful++
		} else {
			result.Failed++
		}
	}

	status := StatusFailed
	if result.Successful > 0 {
		status = StatusCompleted
	}
	tracker.OnTerminal(jobID, status, fmt.Sprintf("%d of %d tracks acquired", result.Successful, len(reqs)))

	s.logger.Info("Batch completed: %d successful, %d failed", result.Successful, result.Failed)
	return result
}
