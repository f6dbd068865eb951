package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"trackfetch/internal/acquire"
	"trackfetch/internal/track"
)

// TargetRequest is the wire form of a track descriptor.
type TargetRequest struct {
	Artist          string  `json:"artist"`
	Title           string  `json:"title"`
	Album           string  `json:"album,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
}

func (t TargetRequest) descriptor() track.Descriptor {
	return track.Descriptor{
		Artist:   t.Artist,
		Title:    t.Title,
		Album:    t.Album,
		Duration: time.Duration(t.DurationSeconds * float64(time.Second)),
	}
}

type AcquireRequest struct {
	TargetRequest
	DestDir string `json:"dest_dir,omitempty"`
}

type BatchRequest struct {
	Targets     []TargetRequest `json:"targets"`
	DestDir     string          `json:"dest_dir,omitempty"`
	Concurrency int             `json:"concurrency,omitempty"`
}

type StreamRequest struct {
	Provider string `json:"provider"`
	Ref      string `json:"ref"`
}

type JobResponse struct {
	ID          string               `json:"id"`
	Kind        JobKind              `json:"kind"`
	Status      acquire.JobStatus    `json:"status"`
	Stage       string               `json:"stage,omitempty"`
	Message     string               `json:"message,omitempty"`
	Progress    int                  `json:"progress"`
	Total       int                  `json:"total"`
	Detail      string               `json:"detail,omitempty"`
	Attempts    int                  `json:"attempts"`
	Targets     []TargetRequest      `json:"targets"`
	Result      *acquire.Result      `json:"result,omitempty"`
	Batch       *acquire.BatchResult `json:"batch,omitempty"`
	CreatedAt   string               `json:"created_at"`
	StartedAt   *string              `json:"started_at,omitempty"`
	CompletedAt *string              `json:"completed_at,omitempty"`
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req TargetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}

	outcome, err := s.engine.Resolve(r.Context(), req.descriptor())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (s *Server) handleAcquire(w http.ResponseWriter, r *http.Request) {
	var req AcquireRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}

	target := req.descriptor()
	job := s.jobMgr.CreateJob(KindTrack, []track.Descriptor{target}, req.DestDir)
	s.logger.Info("Created job %s for %s", job.ID, target)

	ctx := s.attachCancel(job.ID)
	go s.runTrackJob(ctx, job.ID, acquire.Request{
		JobID:   job.ID,
		Target:  target,
		DestDir: req.DestDir,
		Attempt: job.Attempts,
	})

	writeJSON(w, http.StatusAccepted, s.jobToResponse(job))
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Targets) == 0 {
		writeError(w, http.StatusBadRequest, "targets are required")
		return
	}

	targets := make([]track.Descriptor, len(req.Targets))
	for i, t := range req.Targets {
		if t.Title == "" {
			writeError(w, http.StatusBadRequest, "every target needs a title")
			return
		}
		targets[i] = t.descriptor()
	}

	concurrency := req.Concurrency
	if concurrency <= 0 {
		concurrency = s.config.Concurrency
	}

	job := s.jobMgr.CreateJob(KindBatch, targets, req.DestDir)
	s.logger.Info("Created batch job %s with %d tracks", job.ID, len(targets))

	ctx := s.attachCancel(job.ID)
	go s.runBatchJob(ctx, job.ID, targets, req.DestDir, concurrency)

	writeJSON(w, http.StatusAccepted, s.jobToResponse(job))
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.jobMgr.ListJobs()
	responses := make([]*JobResponse, len(jobs))
	for i, job := range jobs {
		responses[i] = s.jobToResponse(job)
	}
	writeJSON(w, http.StatusOK, responses)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobMgr.GetJob(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.jobToResponse(job))
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobMgr.GetJob(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if job.Status.Terminal() {
		writeError(w, http.StatusConflict, "job already finished")
		return
	}

	// The engine reports the terminal state once the work observes the
	// cancellation.
	if job.Cancel != nil {
		job.Cancel()
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

func (s *Server) handleRetryJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var (
		reason  string
		attempt int
		target  track.Descriptor
		destDir string
	)
	ctx, cancel := context.WithCancel(s.ctx)
	err := s.jobMgr.UpdateJob(id, func(j *Job) {
		switch {
		case j.Kind != KindTrack:
			reason = "only track jobs can be retried"
		case j.Status == acquire.StatusExhausted:
			reason = "retry limit reached"
		case j.Status != acquire.StatusFailed || !j.Settled:
			reason = "job has not failed"
		case j.Result == nil || !errors.Is(j.Result.Cause(), acquire.ErrDownloadFailed):
			reason = "only download failures can be retried"
		}
		if reason != "" {
			return
		}

		j.Attempts++
		j.Status = acquire.StatusPending
		j.Detail = ""
		j.Result = nil
		j.Settled = false
		j.Progress = 0
		j.StartedAt = nil
		j.CompletedAt = nil
		j.Cancel = cancel

		attempt = j.Attempts
		target = j.Targets[0]
		destDir = j.DestDir
	})
	if err != nil || reason != "" {
		cancel()
		if err != nil {
			writeError(w, http.StatusNotFound, err.Error())
		} else {
			writeError(w, http.StatusConflict, reason)
		}
		return
	}

	s.logger.Info("Retrying job %s (attempt %d)", id, attempt)
	go s.runTrackJob(ctx, id, acquire.Request{
		JobID:   id,
		Target:  target,
		DestDir: destDir,
		Attempt: attempt,
	})

	job, _ := s.jobMgr.GetJob(id)
	writeJSON(w, http.StatusAccepted, s.jobToResponse(job))
}

func (s *Server) handleStreamResolve(w http.ResponseWriter, r *http.Request) {
	var req StreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Provider == "" || req.Ref == "" {
		writeError(w, http.StatusBadRequest, "provider and ref are required")
		return
	}

	res, err := s.engine.Stream(r.Context(), track.Candidate{Provider: req.Provider, Ref: req.Ref})
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, acquire.ErrStreamUnsupported) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleStreamInvalidate(w http.ResponseWriter, r *http.Request) {
	var req StreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Provider == "" || req.Ref == "" {
		writeError(w, http.StatusBadRequest, "provider and ref are required")
		return
	}

	s.engine.Invalidate(r.Context(), req.Provider, req.Ref)
	w.WriteHeader(http.StatusNoContent)
}

// attachCancel gives a job its cancellable context before any work starts,
// so a cancel request that arrives first still takes effect.
func (s *Server) attachCancel(jobID string) context.Context {
	ctx, cancel := context.WithCancel(s.ctx)
	s.jobMgr.UpdateJob(jobID, func(j *Job) {
		j.Cancel = cancel
	})
	return ctx
}

func (s *Server) runTrackJob(ctx context.Context, jobID string, req acquire.Request) {
	res := s.engine.Acquire(ctx, req)

	s.jobMgr.UpdateJob(jobID, func(j *Job) {
		j.Result = &res
		j.Settled = true
		if j.Cancel != nil {
			j.Cancel()
		}
		j.Cancel = nil
	})

	if res.Succeeded() {
		s.logger.Info("Job %s completed: %s", jobID, res.FilePath)
	} else {
		s.logger.Warn("Job %s %s: %s", jobID, res.Status, res.Detail)
	}
}

func (s *Server) runBatchJob(ctx context.Context, jobID string, targets []track.Descriptor, destDir string, concurrency int) {
	reqs := make([]acquire.Request, len(targets))
	for i, t := range targets {
		reqs[i] = acquire.Request{Target: t, DestDir: destDir, Attempt: 1}
	}

	res := s.engine.ResolveAll(ctx, jobID, reqs, concurrency)

	s.jobMgr.UpdateJob(jobID, func(j *Job) {
		j.Batch = &res
		j.Settled = true
		if j.Cancel != nil {
			j.Cancel()
		}
		j.Cancel = nil
	})

	s.logger.Info("Batch job %s finished: %d acquired, %d failed", jobID, res.Successful, res.Failed)
}

func formatTime(t time.Time) string {
	return t.Format(time.RFC3339)
}

func (s *Server) jobToResponse(job Job) *JobResponse {
	resp := &JobResponse{
		ID:        job.ID,
		Kind:      job.Kind,
		Status:    job.Status,
		Stage:     job.Stage,
		Message:   job.Message,
		Progress:  job.Progress,
		Total:     job.Total,
		Detail:    job.Detail,
		Attempts:  job.Attempts,
		Targets:   make([]TargetRequest, len(job.Targets)),
		Result:    job.Result,
		Batch:     job.Batch,
		CreatedAt: formatTime(job.CreatedAt),
	}

	for i, t := range job.Targets {
		resp.Targets[i] = TargetRequest{
			Artist:          t.Artist,
			Title:           t.Title,
			Album:           t.Album,
			DurationSeconds: t.Duration.Seconds(),
		}
	}

	if job.StartedAt != nil {
		started := formatTime(*job.StartedAt)
		resp.StartedAt = &started
	}

	if job.CompletedAt != nil {
		completed := formatTime(*job.CompletedAt)
		resp.CompletedAt = &completed
	}

	return resp
}
