package acquire

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/gosimple/slug"

	"trackfetch/internal/cache"
	"trackfetch/internal/logger"
	"trackfetch/internal/match"
	"trackfetch/internal/track"
)

// Defaults for Config zero values.
const (
	DefaultSearchLimit     = 15
	DefaultSearchTimeout   = 8 * time.Second
	DefaultDownloadTimeout = 3 * time.Minute
	DefaultMaxAttempts     = 3
)

// Config tunes the orchestrator.
type Config struct {
	SearchLimit     int
	SearchTimeout   time.Duration
	DownloadTimeout time.Duration
	MaxAttempts     int
	OutputDir       string
	RewriteTags     bool
}

func (c Config) withDefaults() Config {
	if c.SearchLimit <= 0 {
		c.SearchLimit = DefaultSearchLimit
	}
	if c.SearchTimeout <= 0 {
		c.SearchTimeout = DefaultSearchTimeout
	}
	if c.DownloadTimeout <= 0 {
		c.DownloadTimeout = DefaultDownloadTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	return c
}

// Request asks for one track to be acquired.
type Request struct {
	JobID   string
	Target  track.Descriptor
	DestDir string // defaults to Config.OutputDir

	// Attempt is 1 for the first try. A download failure on the last
	// allowed attempt is reported as exhausted rather than failed.
	Attempt int
}

// Result is the outcome of Acquire.
type Result struct {
	Target   track.Descriptor `json:"target"`
	Outcome  track.Outcome    `json:"outcome"`
	Status   JobStatus        `json:"status"`
	Detail   string           `json:"detail,omitempty"`
	FilePath string           `json:"file_path,omitempty"`
	Provider string           `json:"provider,omitempty"`

	// Err is set for download failures (wrapping ErrDownloadFailed),
	// cancellation, and when every provider was unavailable. Other match
	// failures are described by Outcome.
	Err error `json:"-"`
}

// Succeeded reports whether the track was acquired.
func (r Result) Succeeded() bool { return r.Status == StatusCompleted }

// Cause returns the sentinel describing why the acquisition did not
// complete, or nil on success.
func (r Result) Cause() error {
	switch {
	case r.Succeeded():
		return nil
	case r.Err != nil:
		return r.Err
	case !r.Outcome.Matched:
		return reasonErr(r.Outcome.Reason)
	default:
		return ErrDownloadFailed
	}
}

// Orchestrator resolves descriptors against the provider chain and drives
// downloads to a terminal job state.
type Orchestrator struct {
	Tracker JobTracker
	Tagger  TagWriter

	providers []Provider
	cache     *cache.Cache
	cfg       Config
	logger    *logger.Logger
}

// NewOrchestrator creates an Orchestrator. Providers are tried in the given
// order, which is their priority.
func NewOrchestrator(cfg Config, providers []Provider, c *cache.Cache, log *logger.Logger) *Orchestrator {
	return &Orchestrator{
		Tracker:   NopTracker{},
		providers: providers,
		cache:     c,
		cfg:       cfg.withDefaults(),
		logger:    log.With("orchestrator"),
	}
}

// Providers returns the configured providers in priority order.
func (o *Orchestrator) Providers() []Provider {
	return o.providers
}

// ranked is a scored candidate with the priority of the provider it came from.
type ranked struct {
	candidate track.Candidate
	score     track.Score
	priority  int
}

// better reports whether a beats b: higher total, then higher-priority
// provider, then known duration.
func better(a, b ranked) bool {
	if a.score.Total != b.score.Total {
		return a.score.Total > b.score.Total
	}
	if a.priority != b.priority {
		return a.priority < b.priority
	}
	return a.candidate.HasDuration() && !b.candidate.HasDuration()
}

// queryStatus tags the result of asking one provider.
type queryStatus int

const (
	queryAnswered queryStatus = iota
	queryUnavailable
	queryFailed
)

type queryResult struct {
	status queryStatus
	ranked []ranked
}

// selection tags the result of the scoring stage.
type selection struct {
	best     ranked
	selected bool
	answered int
	failed   int
	seen     int
}

// Resolve finds the best acceptable candidate for target, consulting the
// cache first. It returns an error only on cancellation or when every
// provider was unavailable; failed searches and every other failure end as
// a NoMatch outcome.
func (o *Orchestrator) Resolve(ctx context.Context, target track.Descriptor) (track.Outcome, error) {
	return o.resolve(ctx, "", target)
}

func (o *Orchestrator) resolve(ctx context.Context, jobID string, target track.Descriptor) (track.Outcome, error) {
	tracker := guardedTracker{o.Tracker}
	key := match.Key(target)

	tracker.OnProgress(jobID, Progress{Stage: StageCache})
	if outcome, ok := o.checkCache(ctx, key); ok {
		return outcome, nil
	}

	tracker.OnProgress(jobID, Progress{Stage: StageSearching, Message: target.Query()})
	sel := o.queryProviders(ctx, target)

	if err := ctx.Err(); err != nil {
		return track.Outcome{}, err
	}

	outcome := o.decide(sel)
	if !outcome.Matched && outcome.Reason == track.ReasonProvidersUnavailable {
		// Not cached: the next attempt may find a provider back online.
		o.logger.Warn("No provider available for %s", target)
		return outcome, ErrProviderUnavailable
	}

	if !outcome.Matched && sel.failed > 0 {
		// Not cached: a provider that errored may hold the match.
		o.logger.Debug("Not caching %s for %s: %d provider searches failed", outcome.Reason, target, sel.failed)
		return outcome, nil
	}

	o.cache.PutResolution(ctx, key, outcome)
	return outcome, nil
}

// checkCache is the CacheCheck state. A cached NoMatch short-circuits with
// no provider call just like a cached match.
func (o *Orchestrator) checkCache(ctx context.Context, key string) (track.Outcome, bool) {
	outcome, ok := o.cache.Resolution(ctx, key)
	if !ok {
		return track.Outcome{}, false
	}
	if outcome.Matched {
		o.logger.Debug("Cache hit %s: matched %q by %q via %s", key[:8], outcome.Candidate.Title, outcome.Candidate.Artist, outcome.Candidate.Provider)
	} else {
		o.logger.Debug("Cache hit %s: known no-match (%s)", key[:8], outcome.Reason)
	}
	return outcome, true
}

// queryProviders runs ProviderQuery and Scoring for each provider in order
// and stops at the first one yielding an acceptable candidate.
func (o *Orchestrator) queryProviders(ctx context.Context, target track.Descriptor) selection {
	var (
		sel  selection
		pool []ranked
	)
	for priority, p := range o.providers {
		if ctx.Err() != nil {
			break
		}

		res := o.queryProvider(ctx, p, priority, target)
		switch res.status {
		case queryFailed:
			sel.failed++
			continue
		case queryUnavailable:
			continue
		}
		sel.answered++
		sel.seen += len(res.ranked)
		pool = append(pool, res.ranked...)

		if best, ok := selectBest(pool); ok {
			sel.best = best
			if match.Accepted(best.score) {
				sel.selected = true
				o.logger.Debug("Selected %q by %q from %s, score %s", best.candidate.Title, best.candidate.Artist, best.candidate.Provider, best.score)
				return sel
			}
			o.logger.Debug("Best from %s scored %.4f, below %.2f", p.Name(), best.score.Total, match.AcceptThreshold)
		}
	}
	return sel
}

// queryProvider asks one provider, through the search-result cache, and
// scores everything it returns.
func (o *Orchestrator) queryProvider(ctx context.Context, p Provider, priority int, target track.Descriptor) queryResult {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.SearchTimeout)
	defer cancel()

	query := target.Query()
	cacheKey := fmt.Sprintf("%s:%d:%s", p.Name(), o.cfg.SearchLimit, match.Normalize(query))

	candidates, ok := o.cache.SearchResults(ctx, cacheKey)
	if !ok {
		if err := p.Ready(ctx); err != nil {
			o.logger.Info("Provider %s unavailable, falling through: %v", p.Name(), err)
			return queryResult{status: queryUnavailable}
		}

		var err error
		candidates, err = p.Search(ctx, query, o.cfg.SearchLimit)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				o.logger.Warn("Provider %s timed out searching %q", p.Name(), query)
			} else {
				o.logger.Warn("Provider %s search failed: %v", p.Name(), err)
			}
			return queryResult{status: queryFailed}
		}
		o.cache.PutSearchResults(ctx, cacheKey, candidates)
	}

	o.logger.Debug("Provider %s returned %d candidates for %q", p.Name(), len(candidates), query)

	scored := make([]ranked, 0, len(candidates))
	for _, c := range candidates {
		if c.Provider == "" {
			c.Provider = p.Name()
		}
		scored = append(scored, ranked{candidate: c, score: match.Score(c, target), priority: priority})
	}
	return queryResult{status: queryAnswered, ranked: scored}
}

func selectBest(pool []ranked) (ranked, bool) {
	if len(pool) == 0 {
		return ranked{}, false
	}
	best := pool[0]
	for _, r := range pool[1:] {
		if better(r, best) {
			best = r
		}
	}
	return best, true
}

// decide turns the scoring stage into Selected or Rejected.
func (o *Orchestrator) decide(sel selection) track.Outcome {
	switch {
	case sel.selected:
		return track.Matched(sel.best.candidate, sel.best.score)
	case sel.answered == 0 && sel.failed == 0:
		return track.NoMatch(track.ReasonProvidersUnavailable)
	case sel.seen == 0:
		return track.NoMatch(track.ReasonNoCandidates)
	default:
		return track.NoMatch(track.ReasonNoAcceptableMatch)
	}
}

// Acquire resolves req.Target, downloads the selected candidate, rewrites
// its tags and reports the terminal state to the Tracker.
func (o *Orchestrator) Acquire(ctx context.Context, req Request) Result {
	tracker := guardedTracker{o.Tracker}
	tracker.OnStarted(req.JobID)

	res := o.acquire(ctx, req)

	tracker.OnTerminal(req.JobID, res.Status, res.Detail)
	if res.Succeeded() {
		o.logger.Info("Acquired %s -> %s", req.Target, res.FilePath)
	} else {
		o.logger.Info("Could not acquire %s: %s", req.Target, res.Detail)
	}
	return res
}

func (o *Orchestrator) acquire(ctx context.Context, req Request) Result {
	res := Result{Target: req.Target, Status: StatusFailed}

	outcome, err := o.resolve(ctx, req.JobID, req.Target)
	res.Outcome = outcome
	if err != nil && !errors.Is(err, ErrProviderUnavailable) {
		res.Detail = "cancelled"
		res.Err = err
		return res
	}
	if !outcome.Matched {
		res.Detail = outcome.Reason.Message()
		res.Err = err
		return res
	}

	cand := *outcome.Candidate
	res.Provider = cand.Provider

	path, err := o.download(ctx, req, cand)
	if err != nil {
		res.Detail = ErrDownloadFailed.Error()
		res.Err = fmt.Errorf("%w: %s from %s: %v", ErrDownloadFailed, cand.Ref, cand.Provider, err)
		if ctx.Err() == nil && attempt(req) >= o.cfg.MaxAttempts {
			res.Status = StatusExhausted
			res.Detail = fmt.Sprintf("%s after %d attempts", ErrDownloadFailed, attempt(req))
		}
		o.logger.Warn("Download of %s failed: %v", req.Target, err)
		return res
	}

	o.rewriteTags(ctx, req, path)

	res.FilePath = path
	res.Status = StatusCompleted
	res.Detail = fmt.Sprintf("downloaded from %s", cand.Provider)
	return res
}

func attempt(req Request) int {
	if req.Attempt <= 0 {
		return 1
	}
	return req.Attempt
}

// download is the Downloading state.
func (o *Orchestrator) download(ctx context.Context, req Request, cand track.Candidate) (string, error) {
	p := o.provider(cand.Provider)
	if p == nil {
		return "", fmt.Errorf("provider %q is not configured", cand.Provider)
	}

	destDir := req.DestDir
	if destDir == "" {
		destDir = o.cfg.OutputDir
	}
	if destDir == "" {
		return "", fmt.Errorf("no destination directory")
	}
	destDir, err := filepath.Abs(destDir)
	if err != nil {
		return "", fmt.Errorf("resolving destination: %w", err)
	}

	guardedTracker{o.Tracker}.OnProgress(req.JobID, Progress{Stage: StageDownloading, Message: cand.Provider})

	ctx, cancel := context.WithTimeout(ctx, o.cfg.DownloadTimeout)
	defer cancel()

	opts := DownloadOptions{FileStem: FileStem(req.Target)}
	path, err := p.Download(ctx, cand, destDir, opts)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("timed out after %s: %w", o.cfg.DownloadTimeout, err)
		}
		return "", err
	}
	return path, nil
}

// rewriteTags applies the caller's metadata, not the provider's, so library
// tags follow the request even when the matched title differs cosmetically.
// Failures are logged only.
func (o *Orchestrator) rewriteTags(ctx context.Context, req Request, path string) {
	if !o.cfg.RewriteTags || o.Tagger == nil {
		return
	}
	guardedTracker{o.Tracker}.OnProgress(req.JobID, Progress{Stage: StageTagging})
	if err := o.Tagger.RewriteTags(ctx, path, req.Target); err != nil {
		o.logger.Warn("Tag rewrite failed for %s: %v", path, err)
	}
}

func (o *Orchestrator) provider(name string) Provider {
	for _, p := range o.providers {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// FileStem builds the download file name for a target: "artist-title".
func FileStem(t track.Descriptor) string {
	stem := slug.Make(t.Artist + " " + t.Title)
	if stem == "" {
		stem = "track"
	}
	return stem
}
