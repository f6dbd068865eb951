package video

import (
	"regexp"
	"strings"
)

// Noise YouTube uploaders append to titles, in parentheses or brackets.
var titleNoisePattern = regexp.MustCompile(`(?i)\s*[\(\[]\s*(?:official\s+(?:music\s+|lyric\s+)?(?:video|audio|visualizer)|lyrics?(?:\s+video)?|visual(?:izer)?|audio|hd|hq|4k|explicit|clean|remastered(?:\s+\d{4})?)\s*[\)\]]`)

var featuringPattern = regexp.MustCompile(`(?i)\s*[\(\[]\s*(?:feat\.?|ft\.?|featuring)\s+[^\)\]]+[\)\]]`)

var vevoPattern = regexp.MustCompile(`(?i)vevo$`)

var topicSuffix = regexp.MustCompile(`(?i)\s+-\s+topic$`)

var artistTitleSeparator = regexp.MustCompile(`^(.+?)\s+[-–—]\s+(.+)$`)

// cleanChannel turns an uploader name into an artist name: "ArtistVEVO" and
// auto-generated "Artist - Topic" channels lose their suffix.
func cleanChannel(channel string) string {
	channel = strings.TrimSpace(channel)
	channel = topicSuffix.ReplaceAllString(channel, "")
	channel = vevoPattern.ReplaceAllString(channel, "")
	return strings.TrimSpace(channel)
}

// splitTitle extracts artist and title from a raw video title. When the
// title has an "Artist - Title" shape the left side wins over the channel
// name; otherwise the cleaned channel is the artist.
func splitTitle(raw, channel string) (artist, title string) {
	title = strings.TrimSpace(raw)
	title = titleNoisePattern.ReplaceAllString(title, "")
	title = featuringPattern.ReplaceAllString(title, "")
	title = strings.TrimSpace(title)

	if m := artistTitleSeparator.FindStringSubmatch(title); m != nil {
		return strings.TrimSpace(m[1]), strings.TrimSpace(m[2])
	}
	return cleanChannel(channel), title
}
