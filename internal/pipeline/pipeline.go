// Package pipeline assembles the acquisition engine from configuration:
// cache backend, providers in priority order, tagger, batch scheduler and
// stream resolution.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"trackfetch/internal/acquire"
	"trackfetch/internal/cache"
	"trackfetch/internal/catalog"
	"trackfetch/internal/config"
	"trackfetch/internal/logger"
	"trackfetch/internal/lyrics"
	"trackfetch/internal/metadata"
	"trackfetch/internal/provider/peer"
	"trackfetch/internal/provider/video"
	"trackfetch/internal/track"
)

const sweepInterval = 10 * time.Minute

// Enricher fills in missing descriptor fields before resolution.
type Enricher interface {
	Enrich(ctx context.Context, t track.Descriptor) track.Descriptor
}

// Engine is the assembled acquisition engine.
type Engine struct {
	Orchestrator *acquire.Orchestrator
	Scheduler    *acquire.Scheduler
	Streams      *acquire.Streams

	enricher Enricher
	closers  []func() error
	logger   *logger.Logger
}

// Build wires an Engine from cfg. Background maintenance stops with ctx;
// Close releases the cache backend.
func Build(ctx context.Context, cfg config.Config, log *logger.Logger) (*Engine, error) {
	e := &Engine{logger: log.With("pipeline")}

	backend, err := e.openBackend(ctx, cfg.Cache)
	if err != nil {
		return nil, err
	}
	c := cache.New(backend, cache.TTLs{
		Search:     cfg.Cache.SearchTTL,
		Resolution: cfg.Cache.ResolutionTTL,
		Stream:     cfg.Cache.StreamTTL,
	}, log.With("cache"))

	providers, err := buildProviders(cfg, log)
	if err != nil {
		e.Close()
		return nil, err
	}

	e.Orchestrator = acquire.NewOrchestrator(acquire.Config{
		SearchTimeout:   cfg.Timeouts.Search,
		DownloadTimeout: cfg.Timeouts.Download,
		MaxAttempts:     cfg.MaxAttempts,
		OutputDir:       cfg.OutputDir,
		RewriteTags:     cfg.RewriteTags,
	}, providers, c, log)

	if cfg.RewriteTags {
		tagger := metadata.NewTagger(log)
		if cfg.EmbedLyrics {
			tagger.Lyrics = lyrics.NewClient()
		}
		e.Orchestrator.Tagger = tagger
	}

	if cfg.EnrichTargets {
		e.enricher = catalog.NewDeezer(log)
	}

	e.Scheduler = acquire.NewScheduler(e, log)
	e.Streams = acquire.NewStreams(providers, c, cfg.Timeouts.Stream, log)

	names := make([]string, len(providers))
	for i, p := range providers {
		names[i] = p.Name()
	}
	e.logger.Debug("Engine ready: providers=%v cache=%s", names, cfg.Cache.Backend)
	return e, nil
}

func (e *Engine) openBackend(ctx context.Context, cc config.CacheConfig) (cache.Backend, error) {
	switch cc.Backend {
	case config.CacheNone:
		return cache.Nop{}, nil
	case config.CacheSQLite:
		db, err := cache.OpenSQLite(cc.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open cache: %w", err)
		}
		e.closers = append(e.closers, db.Close)
		go e.sweepSQLite(ctx, db)
		return db, nil
	case config.CacheMemory, "":
		mem := cache.NewMemory()
		mem.StartSweeper(ctx, sweepInterval)
		return mem, nil
	default:
		return nil, fmt.Errorf("unknown cache backend: %s", cc.Backend)
	}
}

// sweepSQLite deletes expired rows until ctx is cancelled. Reads already
// ignore them; this only bounds the file size.
func (e *Engine) sweepSQLite(ctx context.Context, db *cache.SQLite) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := db.Sweep(ctx)
			if err != nil {
				e.logger.Debug("Cache sweep failed: %v", err)
				continue
			}
			if n > 0 {
				e.logger.Debug("Swept %d expired cache entries", n)
			}
		}
	}
}

func buildProviders(cfg config.Config, log *logger.Logger) ([]acquire.Provider, error) {
	providers := make([]acquire.Provider, 0, len(cfg.Providers))
	for _, name := range cfg.Providers {
		switch name {
		case config.ProviderPeer:
			providers = append(providers, peer.New(peer.Options{
				URL:          cfg.Peer.URL,
				Username:     cfg.Peer.Username,
				Password:     cfg.Peer.Password,
				APIKey:       cfg.Peer.APIKey,
				DownloadsDir: cfg.Peer.DownloadsDir,
				SearchTime:   cfg.Peer.SearchTime,
			}, log))
		case config.ProviderVideo:
			providers = append(providers, video.New(video.Options{
				Binary:         cfg.Video.Binary,
				AudioFormat:    cfg.Video.AudioFormat,
				CookiesBrowser: cfg.Video.CookiesBrowser,
			}, log))
		default:
			return nil, fmt.Errorf("unknown provider: %s", name)
		}
	}
	if len(providers) == 0 {
		return nil, fmt.Errorf("no providers configured")
	}
	return providers, nil
}

// SetTracker routes job lifecycle events from both single and batch
// acquisitions to t.
func (e *Engine) SetTracker(t acquire.JobTracker) {
	e.Orchestrator.Tracker = t
	e.Scheduler.Tracker = t
}

func (e *Engine) enrich(ctx context.Context, t track.Descriptor) track.Descriptor {
	if e.enricher == nil {
		return t
	}
	return e.enricher.Enrich(ctx, t)
}

// Resolve finds the best candidate for target without downloading it.
func (e *Engine) Resolve(ctx context.Context, target track.Descriptor) (track.Outcome, error) {
	return e.Orchestrator.Resolve(ctx, e.enrich(ctx, target))
}

// Acquire resolves and downloads one track.
func (e *Engine) Acquire(ctx context.Context, req acquire.Request) acquire.Result {
	req.Target = e.enrich(ctx, req.Target)
	return e.Orchestrator.Acquire(ctx, req)
}

// ResolveAll acquires a batch under the scheduler's concurrency cap.
func (e *Engine) ResolveAll(ctx context.Context, jobID string, reqs []acquire.Request, concurrency int) acquire.BatchResult {
	return e.Scheduler.ResolveAll(ctx, jobID, reqs, concurrency)
}

// Stream returns a playable stream for a candidate.
func (e *Engine) Stream(ctx context.Context, c track.Candidate) (track.StreamResource, error) {
	return e.Streams.Stream(ctx, c)
}

// Invalidate drops a cached stream.
func (e *Engine) Invalidate(ctx context.Context, provider, ref string) {
	e.Streams.Invalidate(ctx, provider, ref)
}

// Close releases resources held by the engine.
func (e *Engine) Close() error {
	var first error
	for _, fn := range e.closers {
		if err := fn(); err != nil && first == nil {
			first = err
		}
	}
	e.closers = nil
	return first
}
