package web

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"trackfetch/internal/acquire"
	"trackfetch/internal/track"
)

// JobKind distinguishes single-track jobs from batches.
type JobKind string

const (
	KindTrack JobKind = "track"
	KindBatch JobKind = "batch"
)

// Job is one acquisition request tracked by the server.
type Job struct {
	ID       string
	Kind     JobKind
	Targets  []track.Descriptor
	DestDir  string
	Status   acquire.JobStatus
	Stage    string
	Message  string
	Progress int
	Total    int
	Detail   string
	Attempts int

	Result *acquire.Result
	Batch  *acquire.BatchResult

	// Settled is set once the handler has recorded the result that follows
	// the terminal status.
	Settled bool

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	Cancel      context.CancelFunc
}

// JobManager keeps jobs in memory and implements acquire.JobTracker so the
// engine can report lifecycle events directly.
type JobManager struct {
	jobs      map[string]*Job
	mu        sync.RWMutex
	listeners map[string][]chan Job
	now       func() time.Time
}

const jobRetention = 1 * time.Hour

var _ acquire.JobTracker = (*JobManager)(nil)

// NewJobManager creates a new job manager
func NewJobManager() *JobManager {
	return &JobManager{
		jobs:      make(map[string]*Job),
		listeners: make(map[string][]chan Job),
		now:       time.Now,
	}
}

// StartCleanup starts a background goroutine that removes old finished jobs.
// Stops when ctx is cancelled.
func (jm *JobManager) StartCleanup(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				jm.cleanup()
			}
		}
	}()
}

func (jm *JobManager) cleanup() {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	cutoff := jm.now().Add(-jobRetention)
	for id, job := range jm.jobs {
		if job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			delete(jm.jobs, id)
			delete(jm.listeners, id)
		}
	}
}

// CreateJob registers a pending job for targets.
func (jm *JobManager) CreateJob(kind JobKind, targets []track.Descriptor, destDir string) Job {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job := &Job{
		ID:        generateJobID(),
		Kind:      kind,
		Targets:   targets,
		DestDir:   destDir,
		Status:    acquire.StatusPending,
		Total:     len(targets),
		Attempts:  1,
		CreatedAt: jm.now(),
	}

	jm.jobs[job.ID] = job
	return *job
}

// GetJob returns a snapshot of a job.
func (jm *JobManager) GetJob(id string) (Job, error) {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	job, ok := jm.jobs[id]
	if !ok {
		return Job{}, fmt.Errorf("job not found: %s", id)
	}
	return *job, nil
}

// ListJobs returns snapshots of all jobs.
func (jm *JobManager) ListJobs() []Job {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	jobs := make([]Job, 0, len(jm.jobs))
	for _, job := range jm.jobs {
		jobs = append(jobs, *job)
	}
	return jobs
}

// UpdateJob applies fn to a job under the lock, stamps status transitions
// and notifies subscribers.
func (jm *JobManager) UpdateJob(id string, fn func(*Job)) error {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job, ok := jm.jobs[id]
	if !ok {
		return fmt.Errorf("job not found: %s", id)
	}

	oldStatus := job.Status
	fn(job)

	if oldStatus != job.Status {
		now := jm.now()
		switch {
		case job.Status == acquire.StatusProcessing:
			if job.StartedAt == nil {
				job.StartedAt = &now
			}
		case job.Status.Terminal():
			if job.CompletedAt == nil {
				job.CompletedAt = &now
			}
		}
	}

	jm.notifyListeners(id, *job)
	return nil
}

// OnStarted marks a job as processing.
func (jm *JobManager) OnStarted(id string) {
	jm.UpdateJob(id, func(j *Job) {
		j.Status = acquire.StatusProcessing
	})
}

// OnProgress records the current stage of a job.
func (jm *JobManager) OnProgress(id string, p acquire.Progress) {
	jm.UpdateJob(id, func(j *Job) {
		j.Stage = p.Stage
		j.Message = p.Message
		if p.Total > 0 {
			j.Progress = p.Done
			j.Total = p.Total
		}
	})
}

// OnTerminal records the final status of a job.
func (jm *JobManager) OnTerminal(id string, status acquire.JobStatus, detail string) {
	jm.UpdateJob(id, func(j *Job) {
		j.Status = status
		j.Detail = detail
		j.Stage = ""
		j.Message = ""
		if j.Kind == KindTrack {
			j.Progress = j.Total
		}
	})
}

// Subscribe subscribes to job updates
func (jm *JobManager) Subscribe(jobID string) <-chan Job {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	ch := make(chan Job, 10)
	jm.listeners[jobID] = append(jm.listeners[jobID], ch)
	return ch
}

// Unsubscribe removes a listener
func (jm *JobManager) Unsubscribe(jobID string, ch <-chan Job) {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	listeners := jm.listeners[jobID]
	for i, listener := range listeners {
		if listener == ch {
			jm.listeners[jobID] = append(listeners[:i], listeners[i+1:]...)
			close(listener)
			break
		}
	}
}

// notifyListeners sends updates to all listeners. Slow listeners miss
// intermediate updates.
func (jm *JobManager) notifyListeners(jobID string, job Job) {
	for _, ch := range jm.listeners[jobID] {
		select {
		case ch <- job:
		default:
		}
	}
}

func generateJobID() string {
	return "job_" + uuid.NewString()
}
