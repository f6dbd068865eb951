// Package metadata rewrites tags of downloaded files so that a library
// reflects the metadata the caller asked for rather than whatever the
// provider's upload carried.
package metadata

import (
	"context"
	"fmt"

	"go.senan.xyz/taglib"

	"trackfetch/internal/logger"
	"trackfetch/internal/lyrics"
	"trackfetch/internal/track"
)

// lyricsTag is TagLib's property name for unsynchronised lyrics.
const lyricsTag = "LYRICS"

// LyricsFetcher looks up lyrics for a track.
type LyricsFetcher interface {
	Fetch(ctx context.Context, t track.Descriptor) (lyrics.Result, error)
}

// Tagger writes the target descriptor's metadata into audio files,
// optionally embedding lyrics.
type Tagger struct {
	Lyrics LyricsFetcher // nil disables lyrics embedding

	logger    *logger.Logger
	writeTags func(path string, tags map[string][]string) error
}

// NewTagger creates a Tagger backed by taglib.
func NewTagger(log *logger.Logger) *Tagger {
	return &Tagger{
		logger: log.With("tagger"),
		writeTags: func(path string, tags map[string][]string) error {
			return taglib.WriteTags(path, tags, 0)
		},
	}
}

// RewriteTags sets title, artist and album from target. Tags not named
// here are left untouched. A failed lyrics lookup does not fail the rewrite.
func (t *Tagger) RewriteTags(ctx context.Context, path string, target track.Descriptor) error {
	tags := make(map[string][]string)

	if target.Title != "" {
		tags[taglib.Title] = []string{target.Title}
	}
	if target.Artist != "" {
		tags[taglib.Artist] = []string{target.Artist}
	}
	if target.Album != "" {
		tags[taglib.Album] = []string{target.Album}
	}

	if t.Lyrics != nil {
		res, err := t.Lyrics.Fetch(ctx, target)
		switch {
		case err != nil:
			t.logger.Debug("Lyrics lookup failed for %s: %v", target, err)
		case res.Empty():
			t.logger.Debug("No lyrics for %s", target)
		default:
			tags[lyricsTag] = []string{res.Best()}
		}
	}

	if len(tags) == 0 {
		return nil
	}
	if err := t.writeTags(path, tags); err != nil {
		return fmt.Errorf("failed to write tags to %s: %w", path, err)
	}
	return nil
}
