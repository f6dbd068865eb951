package acquire

// JobStatus is the externally visible lifecycle state of a job.
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusExhausted  JobStatus = "exhausted"
)

// Terminal reports whether no further transition can follow s.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusExhausted
}

// Progress describes an intermediate step of a job.
type Progress struct {
	Stage   string `json:"stage"`
	Message string `json:"message,omitempty"`
	Done    int    `json:"done,omitempty"`
	Total   int    `json:"total,omitempty"`
}

// Progress stages.
const (
	StageCache       = "cache"
	StageSearching   = "searching"
	StageDownloading = "downloading"
	StageTagging     = "tagging"
	StageBatch       = "batch"
)

// JobTracker receives job lifecycle events. The caller owns persistence;
// the engine is the only writer of terminal states. An empty job id means
// the work is not tracked.
type JobTracker interface {
	OnStarted(jobID string)
	OnProgress(jobID string, p Progress)
	OnTerminal(jobID string, status JobStatus, detail string)
}

// NopTracker discards all events.
type NopTracker struct{}

func (NopTracker) OnStarted(string)                     {}
func (NopTracker) OnProgress(string, Progress)          {}
func (NopTracker) OnTerminal(string, JobStatus, string) {}

// guardedTracker drops events for untracked work and tolerates a nil tracker.
type guardedTracker struct{ t JobTracker }

func (g guardedTracker) OnStarted(id string) {
	if id != "" && g.t != nil {
		g.t.OnStarted(id)
	}
}

func (g guardedTracker) OnProgress(id string, p Progress) {
	if id != "" && g.t != nil {
		g.t.OnProgress(id, p)
	}
}

func (g guardedTracker) OnTerminal(id string, status JobStatus, detail string) {
	if id != "" && g.t != nil {
		g.t.OnTerminal(id, status, detail)
	}
}
