package acquire

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trackfetch/internal/cache"
	"trackfetch/internal/logger"
	"trackfetch/internal/track"
)

func newTestOrchestrator(t *testing.T, providers ...Provider) *Orchestrator {
	t.Helper()
	log := logger.New(false)
	c := cache.New(cache.NewMemory(), cache.DefaultTTLs(), log)
	return NewOrchestrator(Config{OutputDir: t.TempDir(), SearchTimeout: time.Second}, providers, c, log)
}

var lauren = track.Descriptor{Artist: "Men I Trust", Title: "Lauren", Duration: 222 * time.Second}

func TestAcquireLaurenScenario(t *testing.T) {
	peer := &fakeProvider{name: "peer", results: []track.Candidate{
		{Ref: "a", Title: "Lauren", Artist: "Men I Trust", Duration: 220 * time.Second},
		{Ref: "b", Title: "Lauren (Live)", Artist: "Men I Trust", Duration: 260 * time.Second},
	}}
	video := &fakeProvider{name: "video"}
	o := newTestOrchestrator(t, peer, video)

	res := o.Acquire(context.Background(), Request{Target: lauren})

	require.True(t, res.Succeeded(), res.Detail)
	require.True(t, res.Outcome.Matched)
	assert.Equal(t, "a", res.Outcome.Candidate.Ref)
	assert.Equal(t, "peer", res.Outcome.Candidate.Provider)
	assert.Equal(t, track.Score{Total: 1, Title: 1, Artist: 1, Duration: 1}, res.Outcome.Score)
	assert.Equal(t, "peer", res.Provider)
	assert.True(t, filepath.IsAbs(res.FilePath))
	assert.Equal(t, "men-i-trust-lauren.opus", filepath.Base(res.FilePath))
	assert.NoError(t, res.Cause())

	assert.Zero(t, video.calls(), "fallback must not be queried after an acceptable primary match")
	assert.EqualValues(t, 1, peer.downloadCalls.Load())
}

func TestResolveNoMatchIsCached(t *testing.T) {
	peer := &fakeProvider{name: "peer"}
	video := &fakeProvider{name: "video"}
	o := newTestOrchestrator(t, peer, video)
	target := track.Descriptor{Artist: "Obscure Band", Title: "Rare Track"}

	outcome, err := o.Resolve(context.Background(), target)
	require.NoError(t, err)
	assert.False(t, outcome.Matched)
	assert.Equal(t, track.ReasonNoCandidates, outcome.Reason)

	before := peer.calls() + video.calls()
	outcome, err = o.Resolve(context.Background(), target)
	require.NoError(t, err)
	assert.False(t, outcome.Matched)
	assert.Equal(t, track.ReasonNoCandidates, outcome.Reason)
	assert.Equal(t, before, peer.calls()+video.calls(), "cached no-match must not reach any provider")
}

func TestAcquireNoCandidatesDetail(t *testing.T) {
	o := newTestOrchestrator(t, &fakeProvider{name: "peer"}, &fakeProvider{name: "video"})
	tracker := &recordingTracker{}
	o.Tracker = tracker

	res := o.Acquire(context.Background(), Request{JobID: "job-1", Target: track.Descriptor{Artist: "Obscure Band", Title: "Rare Track"}})

	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, "no candidates found", res.Detail)
	assert.ErrorIs(t, res.Cause(), ErrNoCandidates)

	terms := tracker.terminals()
	require.Len(t, terms, 1)
	assert.Equal(t, "job-1", terms[0].jobID)
	assert.Equal(t, StatusFailed, terms[0].status)
	assert.Equal(t, "no candidates found", terms[0].detail)
}

func TestFallbackQueriedExactlyOnce(t *testing.T) {
	peer := &fakeProvider{name: "peer", results: []track.Candidate{
		{Ref: "x", Title: "Completely Different", Artist: "Someone Else"},
		{Ref: "y", Title: "Another Song", Artist: "Nobody"},
	}}
	video := &fakeProvider{name: "video", results: []track.Candidate{
		{Ref: "z", Title: "Unrelated", Artist: "Stranger"},
	}}
	o := newTestOrchestrator(t, peer, video)

	res := o.Acquire(context.Background(), Request{Target: track.Descriptor{Artist: "Obscure Band", Title: "Rare Track"}})

	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, track.ReasonNoAcceptableMatch, res.Outcome.Reason)
	assert.Equal(t, "no candidate met threshold", res.Detail)
	assert.ErrorIs(t, res.Cause(), ErrNoAcceptableMatch)
	assert.EqualValues(t, 1, peer.searchCalls.Load())
	assert.EqualValues(t, 1, video.searchCalls.Load())
	assert.Zero(t, peer.downloadCalls.Load()+video.downloadCalls.Load())
}

func TestFallbackSelectedWhenPrimaryBelowThreshold(t *testing.T) {
	peer := &fakeProvider{name: "peer", results: []track.Candidate{
		{Ref: "x", Title: "Lauren (Live at KEXP)", Artist: "Various", Duration: 400 * time.Second},
	}}
	video := &fakeProvider{name: "video", results: []track.Candidate{
		{Ref: "yt1", Title: "Lauren", Artist: "Men I Trust", Duration: 221 * time.Second},
	}}
	o := newTestOrchestrator(t, peer, video)

	res := o.Acquire(context.Background(), Request{Target: lauren})

	require.True(t, res.Succeeded(), res.Detail)
	assert.Equal(t, "video", res.Provider)
	assert.Equal(t, "yt1", res.Outcome.Candidate.Ref)
	assert.EqualValues(t, 1, video.downloadCalls.Load())
	assert.Zero(t, peer.downloadCalls.Load())
}

func TestUnavailablePrimaryFallsThrough(t *testing.T) {
	peer := &fakeProvider{name: "peer", readyErr: fmt.Errorf("%w: not logged in", ErrProviderUnavailable)}
	video := &fakeProvider{name: "video", results: []track.Candidate{
		{Ref: "yt1", Title: "Lauren", Artist: "Men I Trust", Duration: 222 * time.Second},
	}}
	o := newTestOrchestrator(t, peer, video)

	outcome, err := o.Resolve(context.Background(), lauren)

	require.NoError(t, err)
	require.True(t, outcome.Matched)
	assert.Equal(t, "video", outcome.Candidate.Provider)
	assert.Zero(t, peer.searchCalls.Load())
}

func TestSearchErrorFallsThrough(t *testing.T) {
	peer := &fakeProvider{name: "peer", searchErr: errors.New("502 bad gateway")}
	video := &fakeProvider{name: "video", results: []track.Candidate{
		{Ref: "yt1", Title: "Lauren", Artist: "Men I Trust", Duration: 222 * time.Second},
	}}
	o := newTestOrchestrator(t, peer, video)

	outcome, err := o.Resolve(context.Background(), lauren)

	require.NoError(t, err)
	require.True(t, outcome.Matched)
	assert.Equal(t, "video", outcome.Candidate.Provider)
}

func TestSearchTimeoutFallsThrough(t *testing.T) {
	peer := &fakeProvider{name: "peer", delay: time.Second}
	video := &fakeProvider{name: "video", results: []track.Candidate{
		{Ref: "yt1", Title: "Lauren", Artist: "Men I Trust", Duration: 222 * time.Second},
	}}
	log := logger.New(false)
	o := NewOrchestrator(Config{OutputDir: t.TempDir(), SearchTimeout: 20 * time.Millisecond}, []Provider{peer, video}, cache.New(nil, cache.TTLs{}, log), log)

	outcome, err := o.Resolve(context.Background(), lauren)

	require.NoError(t, err)
	require.True(t, outcome.Matched)
	assert.Equal(t, "video", outcome.Candidate.Provider)
}

func TestAllProvidersUnavailableIsNotCached(t *testing.T) {
	unavailable := fmt.Errorf("%w: no session", ErrProviderUnavailable)
	peer := &fakeProvider{name: "peer", readyErr: unavailable}
	video := &fakeProvider{name: "video", readyErr: unavailable}
	o := newTestOrchestrator(t, peer, video)

	outcome, err := o.Resolve(context.Background(), lauren)
	require.ErrorIs(t, err, ErrProviderUnavailable)
	assert.Equal(t, track.ReasonProvidersUnavailable, outcome.Reason)

	_, err = o.Resolve(context.Background(), lauren)
	require.ErrorIs(t, err, ErrProviderUnavailable)
	assert.EqualValues(t, 2, peer.readyCalls.Load())
	assert.EqualValues(t, 2, video.readyCalls.Load())

	res := o.Acquire(context.Background(), Request{Target: lauren})
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, "all providers unavailable", res.Detail)
	assert.ErrorIs(t, res.Err, ErrProviderUnavailable)
}

func TestAllSearchesFailingIsUncachedNoMatch(t *testing.T) {
	peer := &fakeProvider{name: "peer", searchErr: errors.New("slskd 500")}
	video := &fakeProvider{name: "video", searchErr: errors.New("yt-dlp exit 1")}
	o := newTestOrchestrator(t, peer, video)

	outcome, err := o.Resolve(context.Background(), lauren)
	require.NoError(t, err)
	assert.False(t, outcome.Matched)
	assert.Equal(t, track.ReasonNoCandidates, outcome.Reason)

	res := o.Acquire(context.Background(), Request{Target: lauren})
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, "no candidates found", res.Detail)
	assert.NoError(t, res.Err)
	assert.ErrorIs(t, res.Cause(), ErrNoCandidates)

	// Both resolutions searched again: the NoMatch was not cached.
	assert.EqualValues(t, 2, peer.searchCalls.Load())
	assert.EqualValues(t, 2, video.searchCalls.Load())
}

func TestFailedSearchWithUnavailableFallbackIsNoMatch(t *testing.T) {
	peer := &fakeProvider{name: "peer", searchErr: errors.New("slskd 500")}
	video := &fakeProvider{name: "video", readyErr: fmt.Errorf("%w: yt-dlp missing", ErrProviderUnavailable)}
	o := newTestOrchestrator(t, peer, video)

	outcome, err := o.Resolve(context.Background(), lauren)
	require.NoError(t, err)
	assert.Equal(t, track.ReasonNoCandidates, outcome.Reason)
}

func TestFailedSearchSkipsNegativeCache(t *testing.T) {
	peer := &fakeProvider{name: "peer", searchErr: errors.New("slskd 500")}
	video := &fakeProvider{name: "video", results: []track.Candidate{
		{Ref: "yt1", Title: "Something Else", Artist: "Other Band", Duration: 90 * time.Second},
	}}
	o := newTestOrchestrator(t, peer, video)

	outcome, err := o.Resolve(context.Background(), lauren)
	require.NoError(t, err)
	assert.Equal(t, track.ReasonNoAcceptableMatch, outcome.Reason)

	peer.searchErr = nil
	peer.results = []track.Candidate{{Ref: "a", Title: "Lauren", Artist: "Men I Trust", Duration: 222 * time.Second}}

	outcome, err = o.Resolve(context.Background(), lauren)
	require.NoError(t, err)
	require.True(t, outcome.Matched)
	assert.Equal(t, "peer", outcome.Candidate.Provider)
}

func TestCancelledResolutionIsNotCached(t *testing.T) {
	peer := &fakeProvider{name: "peer"}
	o := newTestOrchestrator(t, peer)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := o.Acquire(ctx, Request{Target: lauren})
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, "cancelled", res.Detail)
	assert.ErrorIs(t, res.Err, context.Canceled)

	outcome, err := o.Resolve(context.Background(), lauren)
	require.NoError(t, err)
	assert.Equal(t, track.ReasonNoCandidates, outcome.Reason)
	assert.EqualValues(t, 1, peer.searchCalls.Load())
}

func TestDownloadFailureKeepsMatchAndExhausts(t *testing.T) {
	peer := &fakeProvider{
		name:        "peer",
		results:     []track.Candidate{{Ref: "a", Title: "Lauren", Artist: "Men I Trust", Duration: 222 * time.Second}},
		downloadErr: errors.New("peer went offline"),
	}
	o := newTestOrchestrator(t, peer)

	first := o.Acquire(context.Background(), Request{Target: lauren, Attempt: 1})
	assert.Equal(t, StatusFailed, first.Status)
	assert.Equal(t, "download mechanism failed", first.Detail)
	assert.ErrorIs(t, first.Err, ErrDownloadFailed)
	assert.ErrorIs(t, first.Cause(), ErrDownloadFailed)
	assert.True(t, first.Outcome.Matched)

	last := o.Acquire(context.Background(), Request{Target: lauren, Attempt: 3})
	assert.Equal(t, StatusExhausted, last.Status)
	assert.Contains(t, last.Detail, "after 3 attempts")
	assert.ErrorIs(t, last.Err, ErrDownloadFailed)

	assert.EqualValues(t, 1, peer.searchCalls.Load(), "the match decision stays cached across download retries")
	assert.EqualValues(t, 2, peer.downloadCalls.Load())
}

func TestTagRewriteUsesTargetMetadata(t *testing.T) {
	peer := &fakeProvider{name: "peer", results: []track.Candidate{
		{Ref: "a", Title: "LAUREN", Artist: "men i trust", Album: "Lauren - Single", Duration: 222 * time.Second},
	}}
	log := logger.New(false)
	o := NewOrchestrator(Config{OutputDir: t.TempDir(), RewriteTags: true}, []Provider{peer}, cache.New(cache.NewMemory(), cache.TTLs{}, log), log)
	tagger := &recordingTagger{err: errors.New("unsupported container")}
	o.Tagger = tagger

	target := track.Descriptor{Artist: "Men I Trust", Title: "Lauren", Album: "Oncle Jazz", Duration: 222 * time.Second}
	res := o.Acquire(context.Background(), Request{Target: target})

	require.True(t, res.Succeeded(), "tag failures must not fail the acquisition")
	require.Len(t, tagger.targets, 1)
	assert.Equal(t, target, tagger.targets[0])
	assert.Equal(t, res.FilePath, tagger.paths[0])
}

func TestTagRewriteDisabled(t *testing.T) {
	peer := &fakeProvider{name: "peer", results: []track.Candidate{
		{Ref: "a", Title: "Lauren", Artist: "Men I Trust", Duration: 222 * time.Second},
	}}
	o := newTestOrchestrator(t, peer)
	tagger := &recordingTagger{}
	o.Tagger = tagger

	res := o.Acquire(context.Background(), Request{Target: lauren})

	require.True(t, res.Succeeded())
	assert.Empty(t, tagger.targets)
}

func TestSearchResultsSharedAcrossDurationBuckets(t *testing.T) {
	peer := &fakeProvider{name: "peer", results: []track.Candidate{
		{Ref: "a", Title: "Lauren", Artist: "Men I Trust", Duration: 222 * time.Second},
	}}
	o := newTestOrchestrator(t, peer)

	_, err := o.Resolve(context.Background(), lauren)
	require.NoError(t, err)
	other := lauren
	other.Duration = 0
	outcome, err := o.Resolve(context.Background(), other)
	require.NoError(t, err)

	assert.True(t, outcome.Matched)
	assert.EqualValues(t, 1, peer.searchCalls.Load(), "same query must be served from the search cache")
}

func TestAcquireReportsLifecycle(t *testing.T) {
	peer := &fakeProvider{name: "peer", results: []track.Candidate{
		{Ref: "a", Title: "Lauren", Artist: "Men I Trust", Duration: 222 * time.Second},
	}}
	o := newTestOrchestrator(t, peer)
	tracker := &recordingTracker{}
	o.Tracker = tracker

	res := o.Acquire(context.Background(), Request{JobID: "j", Target: lauren})
	require.True(t, res.Succeeded())

	var kinds, stages []string
	for _, e := range tracker.events {
		kinds = append(kinds, e.kind)
		if e.kind == "progress" {
			stages = append(stages, e.progress.Stage)
		}
	}
	assert.Equal(t, "started", kinds[0])
	assert.Equal(t, "terminal", kinds[len(kinds)-1])
	assert.Equal(t, []string{StageCache, StageSearching, StageDownloading}, stages)
	assert.Equal(t, StatusCompleted, tracker.terminals()[0].status)
	assert.Equal(t, "downloaded from peer", tracker.terminals()[0].detail)
}

func TestUntrackedAcquireEmitsNothing(t *testing.T) {
	o := newTestOrchestrator(t, &fakeProvider{name: "peer"})
	tracker := &recordingTracker{}
	o.Tracker = tracker

	o.Acquire(context.Background(), Request{Target: lauren})

	assert.Empty(t, tracker.events)
}

func TestBetterTieBreaks(t *testing.T) {
	score := track.Score{Total: 0.8}
	withDuration := track.Candidate{Ref: "d", Duration: 200 * time.Second}
	noDuration := track.Candidate{Ref: "n"}

	tests := []struct {
		name string
		a, b ranked
		want bool
	}{
		{"higher total wins", ranked{score: track.Score{Total: 0.9}, priority: 1}, ranked{score: score, priority: 0}, true},
		{"higher priority wins tie", ranked{candidate: noDuration, score: score, priority: 0}, ranked{candidate: withDuration, score: score, priority: 1}, true},
		{"lower priority loses tie", ranked{candidate: withDuration, score: score, priority: 1}, ranked{candidate: noDuration, score: score, priority: 0}, false},
		{"known duration wins same priority", ranked{candidate: withDuration, score: score}, ranked{candidate: noDuration, score: score}, true},
		{"unknown duration loses same priority", ranked{candidate: noDuration, score: score}, ranked{candidate: withDuration, score: score}, false},
		{"identical is not better", ranked{candidate: withDuration, score: score}, ranked{candidate: withDuration, score: score}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, better(tt.a, tt.b))
		})
	}
}

func TestSelectBestKeepsFirstOnFullTie(t *testing.T) {
	pool := []ranked{
		{candidate: track.Candidate{Ref: "first"}, score: track.Score{Total: 0.7}},
		{candidate: track.Candidate{Ref: "second"}, score: track.Score{Total: 0.7}},
	}
	best, ok := selectBest(pool)
	require.True(t, ok)
	assert.Equal(t, "first", best.candidate.Ref)

	_, ok = selectBest(nil)
	assert.False(t, ok)
}

func TestFileStem(t *testing.T) {
	assert.Equal(t, "men-i-trust-lauren", FileStem(lauren))
	assert.Equal(t, "sigur-ros-hoppipolla", FileStem(track.Descriptor{Artist: "Sigur Rós", Title: "Hoppípolla"}))
	assert.Equal(t, "track", FileStem(track.Descriptor{Title: "???"}))
}
