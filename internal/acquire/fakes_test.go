package acquire

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"trackfetch/internal/track"
)

// fakeProvider is an instrumented Provider. It counts every call and the
// number of concurrent Search entries.
type fakeProvider struct {
	name        string
	readyErr    error
	results     []track.Candidate
	searchErr   error
	downloadErr error
	delay       time.Duration

	readyCalls    atomic.Int32
	searchCalls   atomic.Int32
	downloadCalls atomic.Int32

	inFlight    atomic.Int32
	maxInFlight atomic.Int32

	mu         sync.Mutex
	downloaded []track.Candidate
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Ready(context.Context) error {
	f.readyCalls.Add(1)
	return f.readyErr
}

func (f *fakeProvider) Search(ctx context.Context, query string, limit int) ([]track.Candidate, error) {
	f.searchCalls.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		m := f.maxInFlight.Load()
		if n <= m || f.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	out := make([]track.Candidate, len(f.results))
	copy(out, f.results)
	return out, nil
}

func (f *fakeProvider) Download(ctx context.Context, c track.Candidate, destDir string, opts DownloadOptions) (string, error) {
	f.downloadCalls.Add(1)
	if f.downloadErr != nil {
		return "", f.downloadErr
	}
	f.mu.Lock()
	f.downloaded = append(f.downloaded, c)
	f.mu.Unlock()
	return filepath.Join(destDir, opts.FileStem+".opus"), nil
}

func (f *fakeProvider) calls() int {
	return int(f.readyCalls.Load() + f.searchCalls.Load() + f.downloadCalls.Load())
}

// streamProvider adds stream resolution to fakeProvider.
type streamProvider struct {
	*fakeProvider
	expiresAt time.Time
	resolves  atomic.Int32
}

func (s *streamProvider) ResolveStream(_ context.Context, ref string) (track.StreamResource, error) {
	n := s.resolves.Add(1)
	if ref == "" {
		return track.StreamResource{}, errors.New("empty ref")
	}
	return track.StreamResource{
		URL:       fmt.Sprintf("https://media.example/%s?n=%d", ref, n),
		Format:    "opus",
		ExpiresAt: s.expiresAt,
	}, nil
}

type recordedEvent struct {
	kind     string
	jobID    string
	progress Progress
	status   JobStatus
	detail   string
}

type recordingTracker struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *recordingTracker) OnStarted(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{kind: "started", jobID: id})
}

func (r *recordingTracker) OnProgress(id string, p Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{kind: "progress", jobID: id, progress: p})
}

func (r *recordingTracker) OnTerminal(id string, status JobStatus, detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{kind: "terminal", jobID: id, status: status, detail: detail})
}

func (r *recordingTracker) terminals() []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []recordedEvent
	for _, e := range r.events {
		if e.kind == "terminal" {
			out = append(out, e)
		}
	}
	return out
}

type recordingTagger struct {
	mu      sync.Mutex
	paths   []string
	targets []track.Descriptor
	err     error
}

func (r *recordingTagger) RewriteTags(_ context.Context, path string, target track.Descriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
	r.targets = append(r.targets, target)
	return r.err
}
