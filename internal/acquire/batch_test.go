package acquire

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trackfetch/internal/logger"
	"trackfetch/internal/track"
)

// countingAcquirer wraps an Acquirer and records peak concurrency.
type countingAcquirer struct {
	next     Acquirer
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (c *countingAcquirer) Acquire(ctx context.Context, req Request) Result {
	n := c.inFlight.Add(1)
	defer c.inFlight.Add(-1)
	for {
		p := c.peak.Load()
		if n <= p || c.peak.CompareAndSwap(p, n) {
			break
		}
	}
	return c.next.Acquire(ctx, req)
}

type funcAcquirer func(ctx context.Context, req Request) Result

func (f funcAcquirer) Acquire(ctx context.Context, req Request) Result { return f(ctx, req) }

func batchTargets(n int) []Request {
	reqs := make([]Request, n)
	for i := range reqs {
		reqs[i] = Request{Target: track.Descriptor{Artist: "Artist", Title: fmt.Sprintf("Song %d", i), Duration: 180 * time.Second}}
	}
	return reqs
}

func TestResolveAllBoundsConcurrency(t *testing.T) {
	peer := &fakeProvider{name: "peer", delay: 15 * time.Millisecond}
	o := newTestOrchestrator(t, peer)
	counter := &countingAcquirer{next: o}
	s := NewScheduler(counter, logger.New(false))

	res := s.ResolveAll(context.Background(), "", batchTargets(20), 3)

	require.Len(t, res.Items, 20)
	assert.Equal(t, 20, res.Failed)
	assert.LessOrEqual(t, counter.peak.Load(), int32(3))
	assert.LessOrEqual(t, peer.maxInFlight.Load(), int32(3))
	assert.EqualValues(t, 20, peer.searchCalls.Load())
}

func TestResolveAllDefaultConcurrency(t *testing.T) {
	counter := &countingAcquirer{next: funcAcquirer(func(ctx context.Context, req Request) Result {
		time.Sleep(5 * time.Millisecond)
		return Result{Target: req.Target, Status: StatusCompleted}
	})}
	s := NewScheduler(counter, logger.New(false))

	res := s.ResolveAll(context.Background(), "", batchTargets(10), 0)

	assert.Equal(t, 10, res.Successful)
	assert.LessOrEqual(t, counter.peak.Load(), int32(DefaultConcurrency))
}

func TestResolveAllKeepsInputOrder(t *testing.T) {
	acq := funcAcquirer(func(ctx context.Context, req Request) Result {
		// Later items finish first.
		var i int
		fmt.Sscanf(req.Target.Title, "Song %d", &i)
		time.Sleep(time.Duration(10-i) * time.Millisecond)
		status := StatusCompleted
		if i%2 == 1 {
			status = StatusFailed
		}
		return Result{Target: req.Target, Status: status}
	})
	s := NewScheduler(acq, logger.New(false))
	reqs := batchTargets(10)

	res := s.ResolveAll(context.Background(), "", reqs, 3)

	for i, item := range res.Items {
		assert.Equal(t, reqs[i].Target, item.Target)
	}
	assert.Equal(t, 5, res.Successful)
	assert.Equal(t, 5, res.Failed)
}

func TestResolveAllReportsBatchJob(t *testing.T) {
	tests := []struct {
		name      string
		succeeded map[int]bool
		want      JobStatus
	}{
		{"one success completes the batch", map[int]bool{2: true}, StatusCompleted},
		{"no success fails the batch", nil, StatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acq := funcAcquirer(func(ctx context.Context, req Request) Result {
				var i int
				fmt.Sscanf(req.Target.Title, "Song %d", &i)
				if tt.succeeded[i] {
					return Result{Target: req.Target, Status: StatusCompleted}
				}
				return Result{Target: req.Target, Status: StatusFailed}
			})
			tracker := &recordingTracker{}
			s := NewScheduler(acq, logger.New(false))
			s.Tracker = tracker

			s.ResolveAll(context.Background(), "batch-1", batchTargets(4), 3)

			terms := tracker.terminals()
			require.Len(t, terms, 1)
			assert.Equal(t, "batch-1", terms[0].jobID)
			assert.Equal(t, tt.want, terms[0].status)

			var progress int
			for _, e := range tracker.events {
				if e.kind == "progress" {
					progress++
					assert.Equal(t, StageBatch, e.progress.Stage)
					assert.Equal(t, 4, e.progress.Total)
				}
			}
			assert.Equal(t, 4, progress)
		})
	}
}

func TestResolveAllOnItemDone(t *testing.T) {
	acq := funcAcquirer(func(ctx context.Context, req Request) Result {
		return Result{Target: req.Target, Status: StatusCompleted}
	})
	s := NewScheduler(acq, logger.New(false))

	var (
		mu   sync.Mutex
		seen = map[int]bool{}
	)
	s.OnItemDone = func(i int, r Result) {
		mu.Lock()
		defer mu.Unlock()
		seen[i] = r.Succeeded()
	}

	s.ResolveAll(context.Background(), "", batchTargets(6), 2)

	assert.Len(t, seen, 6)
}

func TestResolveAllCancelledMarksRemainingFailed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var started atomic.Int32
	acq := funcAcquirer(func(ctx context.Context, req Request) Result {
		if started.Add(1) == 1 {
			cancel()
		}
		<-ctx.Done()
		return Result{Target: req.Target, Status: StatusFailed, Detail: "cancelled", Err: ctx.Err()}
	})
	s := NewScheduler(acq, logger.New(false))

	res := s.ResolveAll(ctx, "", batchTargets(10), 1)

	require.Len(t, res.Items, 10)
	assert.Equal(t, 10, res.Failed)
	assert.Less(t, started.Load(), int32(10))
	for _, item := range res.Items {
		assert.Equal(t, StatusFailed, item.Status)
		assert.ErrorIs(t, item.Err, context.Canceled)
	}
}
