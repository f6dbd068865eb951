package match

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trackfetch/internal/track"
)

func TestWeightsArePinned(t *testing.T) {
	assert.Equal(t, 0.40, TitleWeight)
	assert.Equal(t, 0.35, ArtistWeight)
	assert.Equal(t, 0.25, DurationWeight)
	assert.Equal(t, 0.65, AcceptThreshold)
	assert.InDelta(t, 1.0, TitleWeight+ArtistWeight+DurationWeight, 1e-12)
}

func TestDurationScore(t *testing.T) {
	tests := []struct {
		name string
		a, b time.Duration
		want float64
	}{
		{"exact", 200 * time.Second, 200 * time.Second, 1.0},
		{"5s", 200 * time.Second, 205 * time.Second, 1.0},
		{"6s", 200 * time.Second, 194 * time.Second, 0.8},
		{"10s", 200 * time.Second, 210 * time.Second, 0.8},
		{"20s", 200 * time.Second, 180 * time.Second, 0.5},
		{"30s", 200 * time.Second, 230 * time.Second, 0.3},
		{"31s", 200 * time.Second, 231 * time.Second, 0.1},
		{"candidate unknown", 0, 200 * time.Second, 0.5},
		{"target unknown", 200 * time.Second, 0, 0.5},
		{"both unknown", 0, 0, 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DurationScore(tt.a, tt.b))
		})
	}
}

func TestRatio(t *testing.T) {
	assert.Equal(t, 1.0, Ratio("", ""))
	assert.Equal(t, 0.0, Ratio("abc", ""))
	assert.Equal(t, 1.0, Ratio("lauren", "lauren"))
	assert.Equal(t, 0.0, Ratio("abc", "xyz"))
	assert.Equal(t, 0.5455, Ratio("lauren live", "lauren"))
}

func TestScoreExampleScenario(t *testing.T) {
	target := track.Descriptor{Artist: "Men I Trust", Title: "Lauren", Duration: 222 * time.Second}
	studio := track.Candidate{Title: "Lauren", Artist: "Men I Trust", Duration: 220 * time.Second}
	live := track.Candidate{Title: "Lauren (Live)", Artist: "Men I Trust", Duration: 260 * time.Second}

	s := Score(studio, target)
	assert.Equal(t, track.Score{Total: 1.0, Title: 1.0, Artist: 1.0, Duration: 1.0}, s)
	assert.True(t, Accepted(s))

	l := Score(live, target)
	assert.Less(t, l.Total, s.Total)
	assert.False(t, Accepted(l))
}

func TestScoreDeterministic(t *testing.T) {
	target := track.Descriptor{Artist: "Sigur Rós", Title: "Hoppípolla", Duration: 268 * time.Second}
	c := track.Candidate{Title: "Hoppipolla (Remastered)", Artist: "Sigur Ros", Duration: 271 * time.Second}

	first := Score(c, target)
	for i := 0; i < 50; i++ {
		require.Equal(t, first, Score(c, target))
	}
}

func TestAcceptedBoundary(t *testing.T) {
	assert.True(t, Accepted(track.Score{Total: 0.65}))
	assert.False(t, Accepted(track.Score{Total: 0.6499}))
	assert.True(t, Accepted(track.Score{Total: 1}))
	assert.False(t, Accepted(track.Score{}))
}

func TestScoreExactlyAtThreshold(t *testing.T) {
	// Title and duration match perfectly, artist shares no characters:
	// 0.40*1 + 0.35*0 + 0.25*1 == 0.65.
	target := track.Descriptor{Artist: "abc", Title: "Song", Duration: 200 * time.Second}
	c := track.Candidate{Artist: "xyz", Title: "Song", Duration: 203 * time.Second}

	s := Score(c, target)
	assert.Equal(t, 0.65, s.Total)
	assert.True(t, Accepted(s))
}

func TestScorePrimaryArtist(t *testing.T) {
	target := track.Descriptor{Artist: "Daft Punk", Title: "Get Lucky"}
	c := track.Candidate{Artist: "Daft Punk, Pharrell Williams, Nile Rodgers", Title: "Get Lucky"}

	s := Score(c, target)
	assert.Equal(t, 1.0, s.Artist)
	assert.Equal(t, UnknownDurationScore, s.Duration)
	assert.True(t, Accepted(s))
}

func TestScoreDurationDisambiguation(t *testing.T) {
	target := track.Descriptor{Artist: "Tycho", Title: "Tailwhip", Duration: 182 * time.Second}
	album := track.Candidate{Artist: "Tycho", Title: "Tailwhips", Duration: 180 * time.Second}
	extended := track.Candidate{Artist: "Tycho", Title: "Tailwhip", Duration: 420 * time.Second}

	a := Score(album, target)
	e := Score(extended, target)

	assert.Greater(t, e.Title, a.Title, "extended cut has the better text match")
	assert.Greater(t, a.Total, e.Total, "duration must decide")
}
