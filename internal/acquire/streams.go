package acquire

import (
	"context"
	"fmt"
	"time"

	"trackfetch/internal/cache"
	"trackfetch/internal/logger"
	"trackfetch/internal/track"
)

// DefaultStreamTimeout bounds one stream extraction.
const DefaultStreamTimeout = 30 * time.Second

// Streams manages transient playable URLs independently of match
// decisions: a match can stay valid for a day while its URL expires within
// hours or breaks early.
type Streams struct {
	resolvers map[string]StreamResolver
	cache     *cache.Cache
	timeout   time.Duration
	logger    *logger.Logger
	now       func() time.Time
}

// NewStreams picks the providers that implement StreamResolver.
func NewStreams(providers []Provider, c *cache.Cache, timeout time.Duration, log *logger.Logger) *Streams {
	if timeout <= 0 {
		timeout = DefaultStreamTimeout
	}
	resolvers := make(map[string]StreamResolver)
	for _, p := range providers {
		if r, ok := p.(StreamResolver); ok {
			resolvers[p.Name()] = r
		}
	}
	return &Streams{
		resolvers: resolvers,
		cache:     c,
		timeout:   timeout,
		logger:    log.With("streams"),
		now:       time.Now,
	}
}

func streamKey(provider, ref string) string {
	return provider + ":" + ref
}

// Stream returns a usable stream for c, extracting a fresh one when the
// cached entry is missing, expired or was invalidated.
func (s *Streams) Stream(ctx context.Context, c track.Candidate) (track.StreamResource, error) {
	key := streamKey(c.Provider, c.Ref)
	if res, ok := s.cache.StreamResource(ctx, key); ok {
		return res, nil
	}

	resolver, ok := s.resolvers[c.Provider]
	if !ok {
		return track.StreamResource{}, fmt.Errorf("%w: %s", ErrStreamUnsupported, c.Provider)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := resolver.ResolveStream(ctx, c.Ref)
	if err != nil {
		return track.StreamResource{}, fmt.Errorf("resolving stream for %s: %w", c.Ref, err)
	}

	now := s.now()
	if res.ExpiresAt.IsZero() {
		res.ExpiresAt = now.Add(cache.DefaultStreamTTL)
	}
	if res.Expired(now) {
		return track.StreamResource{}, fmt.Errorf("stream for %s expired on arrival", c.Ref)
	}

	s.cache.PutStreamResource(ctx, key, res)
	s.logger.Debug("Resolved stream for %s:%s, expires %s", c.Provider, c.Ref, res.ExpiresAt.Format(time.RFC3339))
	return res, nil
}

// Invalidate drops the cached stream so the next Stream call re-extracts.
// Playback calls this when delivery fails, e.g. an upstream 403.
func (s *Streams) Invalidate(ctx context.Context, provider, ref string) {
	s.cache.InvalidateStreamResource(ctx, streamKey(provider, ref))
	s.logger.Debug("Invalidated stream for %s:%s", provider, ref)
}
