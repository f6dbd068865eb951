package match

import (
	"math"
	"time"

	"github.com/hbollon/go-edlib"

	"trackfetch/internal/track"
)

// Scoring policy. The weights and the threshold are not derived from data;
// they are kept at these exact values until someone calibrates them.
const (
	TitleWeight     = 0.40
	ArtistWeight    = 0.35
	DurationWeight  = 0.25
	AcceptThreshold = 0.65

	// UnknownDurationScore is used when either side has no duration.
	UnknownDurationScore = 0.5
)

// durationSteps maps an absolute duration difference to a score; anything
// beyond the last step scores farDurationScore.
var durationSteps = []struct {
	within time.Duration
	score  float64
}{
	{5 * time.Second, 1.0},
	{10 * time.Second, 0.8},
	{20 * time.Second, 0.5},
	{30 * time.Second, 0.3},
}

const farDurationScore = 0.1

// Score computes the weighted similarity between candidate c and target t.
// It is pure: the same inputs always produce the same Score.
func Score(c track.Candidate, t track.Descriptor) track.Score {
	s := track.Score{
		Title:    Ratio(Normalize(c.Title), Normalize(t.Title)),
		Artist:   artistScore(c.Artist, t.Artist),
		Duration: DurationScore(c.Duration, t.Duration),
	}
	s.Total = round4(TitleWeight*s.Title + ArtistWeight*s.Artist + DurationWeight*s.Duration)
	return s
}

// Accepted reports whether a score clears the acceptance threshold.
func Accepted(s track.Score) bool {
	return s.Total >= AcceptThreshold
}

// artistScore tolerates "Artist A, Artist B" against "Artist A" by also
// comparing the primary credit on each side.
func artistScore(candidate, target string) float64 {
	full := Ratio(Normalize(candidate), Normalize(target))
	primary := Ratio(Normalize(PrimaryArtist(candidate)), Normalize(PrimaryArtist(target)))
	return math.Max(full, primary)
}

// DurationScore is the step function over |a-b|. Zero means unknown.
func DurationScore(a, b time.Duration) float64 {
	if a <= 0 || b <= 0 {
		return UnknownDurationScore
	}
	diff := (a - b).Abs()
	for _, step := range durationSteps {
		if diff <= step.within {
			return step.score
		}
	}
	return farDurationScore
}

// Ratio is the Levenshtein similarity of two already-normalized strings,
// 1 - distance/maxLen, in [0,1].
func Ratio(a, b string) float64 {
	if a == b {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}
	sim, err := edlib.StringsSimilarity(a, b, edlib.Levenshtein)
	if err != nil {
		return 0
	}
	return round4(float64(sim))
}

func round4(f float64) float64 {
	return math.Round(f*10000) / 10000
}
