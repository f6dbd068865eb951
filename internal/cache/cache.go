// Package cache implements the resolution cache: search results, match
// decisions (positive and negative) and stream resources, each with its own
// TTL, over a pluggable key-value Backend. A failing backend degrades to
// "always miss"; no method returns an error.
package cache

import (
	"context"
	"time"

	jsoniter "github.com/json-iterator/go"

	"trackfetch/internal/logger"
	"trackfetch/internal/track"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Default TTL classes.
const (
	DefaultSearchTTL     = 1 * time.Hour
	DefaultResolutionTTL = 24 * time.Hour
	DefaultStreamTTL     = 4 * time.Hour
)

// Envelope kinds. Every stored value is wrapped so that a cached NoMatch is
// never confused with a missing key, whatever the backend returns for those.
const (
	kindSearch  = "search"
	kindMatch   = "match"
	kindNoMatch = "no_match"
	kindStream  = "stream"
)

const (
	searchPrefix     = "search:"
	resolutionPrefix = "resolution:"
	streamPrefix     = "stream:"
)

type envelope struct {
	Kind     string                `json:"kind"`
	StoredAt time.Time             `json:"stored_at"`
	Results  []track.Candidate     `json:"results,omitempty"`
	Outcome  *track.Outcome        `json:"outcome,omitempty"`
	Stream   *track.StreamResource `json:"stream,omitempty"`
}

// TTLs holds the three independent TTL classes.
type TTLs struct {
	Search     time.Duration
	Resolution time.Duration
	Stream     time.Duration
}

// DefaultTTLs returns 1h / 24h / 4h.
func DefaultTTLs() TTLs {
	return TTLs{
		Search:     DefaultSearchTTL,
		Resolution: DefaultResolutionTTL,
		Stream:     DefaultStreamTTL,
	}
}

// Cache is the resolution cache. A nil *Cache or a nil backend behaves as an
// always-empty cache.
type Cache struct {
	backend Backend
	ttls    TTLs
	logger  *logger.Logger
	now     func() time.Time
}

// New creates a Cache over backend. Zero TTLs fall back to the defaults.
func New(backend Backend, ttls TTLs, log *logger.Logger) *Cache {
	def := DefaultTTLs()
	if ttls.Search <= 0 {
		ttls.Search = def.Search
	}
	if ttls.Resolution <= 0 {
		ttls.Resolution = def.Resolution
	}
	if ttls.Stream <= 0 {
		ttls.Stream = def.Stream
	}
	return &Cache{
		backend: backend,
		ttls:    ttls,
		logger:  log,
		now:     time.Now,
	}
}

// SearchResults returns cached provider results for query.
func (c *Cache) SearchResults(ctx context.Context, query string) ([]track.Candidate, bool) {
	env, ok := c.load(ctx, searchPrefix+query)
	if !ok || env.Kind != kindSearch {
		return nil, false
	}
	return env.Results, true
}

// PutSearchResults caches provider results for query. Empty result sets are
// cached too.
func (c *Cache) PutSearchResults(ctx context.Context, query string, results []track.Candidate) {
	c.store(ctx, searchPrefix+query, envelope{Kind: kindSearch, Results: results}, c.ttls.Search)
}

// Resolution returns the cached outcome for a resolution key. The second
// result distinguishes "known NoMatch" from "never attempted".
func (c *Cache) Resolution(ctx context.Context, key string) (track.Outcome, bool) {
	env, ok := c.load(ctx, resolutionPrefix+key)
	if !ok {
		return track.Outcome{}, false
	}
	switch env.Kind {
	case kindMatch:
		if env.Outcome == nil || env.Outcome.Candidate == nil {
			return track.Outcome{}, false
		}
		return *env.Outcome, true
	case kindNoMatch:
		if env.Outcome == nil {
			return track.NoMatch(""), true
		}
		return *env.Outcome, true
	default:
		return track.Outcome{}, false
	}
}

// PutResolution caches a positive or negative outcome under key.
func (c *Cache) PutResolution(ctx context.Context, key string, outcome track.Outcome) {
	kind := kindNoMatch
	if outcome.Matched {
		kind = kindMatch
	}
	c.store(ctx, resolutionPrefix+key, envelope{Kind: kind, Outcome: &outcome}, c.ttls.Resolution)
}

// StreamResource returns a cached stream resource for ref. Entries at or
// past their ExpiresAt are reported as absent.
func (c *Cache) StreamResource(ctx context.Context, ref string) (track.StreamResource, bool) {
	env, ok := c.load(ctx, streamPrefix+ref)
	if !ok || env.Kind != kindStream || env.Stream == nil {
		return track.StreamResource{}, false
	}
	if env.Stream.Expired(c.now()) {
		return track.StreamResource{}, false
	}
	return *env.Stream, true
}

// PutStreamResource caches res for at most the stream TTL and never beyond
// res.ExpiresAt. Already-expired resources are not stored.
func (c *Cache) PutStreamResource(ctx context.Context, ref string, res track.StreamResource) {
	if c == nil {
		return
	}
	ttl := c.ttls.Stream
	if !res.ExpiresAt.IsZero() {
		remaining := res.ExpiresAt.Sub(c.now())
		if remaining <= 0 {
			return
		}
		if remaining < ttl {
			ttl = remaining
		}
	}
	c.store(ctx, streamPrefix+ref, envelope{Kind: kindStream, Stream: &res}, ttl)
}

// InvalidateStreamResource drops the cached stream for ref so the next
// request re-extracts it.
func (c *Cache) InvalidateStreamResource(ctx context.Context, ref string) {
	if c == nil || c.backend == nil {
		return
	}
	if err := c.backend.Delete(ctx, streamPrefix+ref); err != nil {
		c.logger.Debug("cache delete %s failed: %v", ref, err)
	}
}

func (c *Cache) load(ctx context.Context, key string) (envelope, bool) {
	if c == nil || c.backend == nil {
		return envelope{}, false
	}
	data, ok, err := c.backend.Get(ctx, key)
	if err != nil {
		c.logger.Debug("cache get %s failed, treating as miss: %v", key, err)
		return envelope{}, false
	}
	if !ok {
		return envelope{}, false
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.logger.Debug("cache entry %s is corrupt, treating as miss: %v", key, err)
		return envelope{}, false
	}
	return env, true
}

func (c *Cache) store(ctx context.Context, key string, env envelope, ttl time.Duration) {
	if c == nil || c.backend == nil {
		return
	}
	env.StoredAt = c.now().UTC()
	data, err := json.Marshal(env)
	if err != nil {
		c.logger.Debug("cache encode %s failed: %v", key, err)
		return
	}
	if err := c.backend.Set(ctx, key, data, ttl); err != nil {
		c.logger.Debug("cache set %s failed, continuing uncached: %v", key, err)
	}
}
