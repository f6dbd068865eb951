// Package acquire drives track acquisition end to end: cache lookup, the
// provider fallback chain, candidate scoring and selection, download, tag
// rewriting and job reporting, plus bounded batches and stream URL upkeep.
package acquire

import (
	"context"

	"trackfetch/internal/track"
)

// Provider is an external audio source. Implementations live under
// internal/provider and translate their native results into track.Candidate,
// keeping every transport detail inside Candidate.Ref.
type Provider interface {
	Name() string

	// Ready establishes or verifies the provider session. It is safe to
	// call concurrently and returns an error wrapping ErrProviderUnavailable
	// when the provider cannot serve requests.
	Ready(ctx context.Context) error

	Search(ctx context.Context, query string, limit int) ([]track.Candidate, error)

	// Download fetches c into destDir and returns the absolute path of the
	// resulting file. Re-downloading into the same destination is safe.
	Download(ctx context.Context, c track.Candidate, destDir string, opts DownloadOptions) (string, error)
}

// DownloadOptions carries caller preferences for a download.
type DownloadOptions struct {
	// FileStem is the file name without extension.
	FileStem string
}

// StreamResolver is implemented by providers whose candidates can be played
// through a transient URL.
type StreamResolver interface {
	ResolveStream(ctx context.Context, ref string) (track.StreamResource, error)
}

// TagWriter rewrites file tags after a download.
type TagWriter interface {
	RewriteTags(ctx context.Context, path string, target track.Descriptor) error
}
