package match

import (
	"crypto/sha1"
	"encoding/hex"
	"math"
	"strconv"
	"strings"
	"time"

	"trackfetch/internal/track"
)

// DurationBucket is the width of the duration buckets folded into resolution
// keys. Remixes and live versions usually differ by far more than this.
const DurationBucket = 10 * time.Second

// Key derives the resolution cache key of a descriptor from its normalized
// artist, normalized title and duration bucket. Album is not part of the key.
func Key(d track.Descriptor) string {
	parts := []string{Normalize(d.Artist), Normalize(d.Title), bucket(d.Duration)}
	sum := sha1.Sum([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:])
}

func bucket(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return strconv.Itoa(int(math.Round(float64(d) / float64(DurationBucket))))
}
