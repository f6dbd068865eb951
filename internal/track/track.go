// Package track holds the data model shared by the matching engine: the
// descriptor a caller wants resolved, the candidates providers propose, and
// the outcomes and stream resources that get cached.
package track

import (
	"fmt"
	"time"
)

// Descriptor is the resolution target supplied by the caller.
// A zero Duration means the duration is unknown.
type Descriptor struct {
	Artist   string        `json:"artist" yaml:"artist"`
	Title    string        `json:"title" yaml:"title"`
	Album    string        `json:"album,omitempty" yaml:"album"`
	Duration time.Duration `json:"duration,omitempty" yaml:"duration"`
}

// Query returns the free-text search query sent to providers.
func (d Descriptor) Query() string {
	if d.Artist == "" {
		return d.Title
	}
	return d.Artist + " " + d.Title
}

func (d Descriptor) String() string {
	if d.Duration > 0 {
		return fmt.Sprintf("%s - %s (%s)", d.Artist, d.Title, d.Duration)
	}
	return fmt.Sprintf("%s - %s", d.Artist, d.Title)
}

// Candidate is a provider's proposed match for a Descriptor.
// Ref is opaque outside the provider that produced it.
type Candidate struct {
	Provider string        `json:"provider"`
	Ref      string        `json:"ref"`
	Title    string        `json:"title"`
	Artist   string        `json:"artist"`
	Album    string        `json:"album,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
}

// HasDuration reports whether the provider knew the candidate's length.
func (c Candidate) HasDuration() bool { return c.Duration > 0 }

// Score is the weighted similarity between a candidate and a target.
type Score struct {
	Total    float64 `json:"total"`
	Title    float64 `json:"title"`
	Artist   float64 `json:"artist"`
	Duration float64 `json:"duration"`
}

func (s Score) String() string {
	return fmt.Sprintf("%.4f (title=%.2f artist=%.2f duration=%.2f)", s.Total, s.Title, s.Artist, s.Duration)
}

// Reason explains a NoMatch outcome.
type Reason string

const (
	ReasonNoCandidates         Reason = "no_candidates"
	ReasonNoAcceptableMatch    Reason = "no_acceptable_match"
	ReasonProvidersUnavailable Reason = "providers_unavailable"
)

// Message returns the human-readable form used in job details.
func (r Reason) Message() string {
	switch r {
	case ReasonNoCandidates:
		return "no candidates found"
	case ReasonNoAcceptableMatch:
		return "no candidate met threshold"
	case ReasonProvidersUnavailable:
		return "all providers unavailable"
	default:
		return string(r)
	}
}

// Outcome is the result of a resolution attempt: either a matched candidate
// with its score, or a NoMatch with a reason.
type Outcome struct {
	Matched   bool       `json:"matched"`
	Candidate *Candidate `json:"candidate,omitempty"`
	Score     Score      `json:"score"`
	Reason    Reason     `json:"reason,omitempty"`
}

// Matched builds a positive outcome.
func Matched(c Candidate, s Score) Outcome {
	return Outcome{Matched: true, Candidate: &c, Score: s}
}

// NoMatch builds a negative outcome.
func NoMatch(reason Reason) Outcome {
	return Outcome{Reason: reason}
}

// StreamResource is a time-limited playable URL for a candidate.
type StreamResource struct {
	URL       string    `json:"url"`
	Format    string    `json:"format"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the resource must no longer be used at now.
func (r StreamResource) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}
