package peer

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"
)

// fileRef identifies one shared file on the Soulseek network.
type fileRef struct {
	Username string
	Filename string // remote path as shared, usually backslash separated
	Size     int64
}

const refScheme = "slsk"

// encodeRef packs a fileRef into a candidate reference:
// slsk://<username>@soulseek?file=<remote path>&size=<bytes>.
func encodeRef(r fileRef) string {
	q := url.Values{}
	q.Set("file", r.Filename)
	q.Set("size", strconv.FormatInt(r.Size, 10))
	u := url.URL{
		Scheme:   refScheme,
		User:     url.User(r.Username),
		Host:     "soulseek",
		RawQuery: q.Encode(),
	}
	return u.String()
}

func decodeRef(ref string) (fileRef, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return fileRef{}, fmt.Errorf("invalid peer ref: %w", err)
	}
	if u.Scheme != refScheme || u.User == nil {
		return fileRef{}, fmt.Errorf("invalid peer ref %q", ref)
	}
	q := u.Query()
	r := fileRef{Username: u.User.Username(), Filename: q.Get("file")}
	if r.Username == "" || r.Filename == "" {
		return fileRef{}, fmt.Errorf("invalid peer ref %q", ref)
	}
	if s := q.Get("size"); s != "" {
		if r.Size, err = strconv.ParseInt(s, 10, 64); err != nil {
			return fileRef{}, fmt.Errorf("invalid size in peer ref: %w", err)
		}
	}
	return r, nil
}

// remoteSegments splits a shared path on either separator.
func remoteSegments(p string) []string {
	p = strings.ReplaceAll(p, `\`, "/")
	var out []string
	for _, s := range strings.Split(p, "/") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// remoteBase is the file name of a shared path.
func remoteBase(p string) string {
	segs := remoteSegments(p)
	if len(segs) == 0 {
		return ""
	}
	return segs[len(segs)-1]
}

// trackNumberPrefix matches "05 - ", "5. ", "(5) " and zero-padded "05 ".
// A bare number followed by a space is left alone: in "22 Acacia Avenue" it
// belongs to the title.
var trackNumberPrefix = regexp.MustCompile(`^(?:\(?\d{1,3}\)?\s*[-._]\s*|\(\d{1,3}\)\s+|0\d{1,2}\s+)`)

// parseRemotePath guesses artist, album and title from a shared path laid
// out as .../Artist/Album/NN - [Artist - ]Title.ext.
func parseRemotePath(p string) (artist, album, title string) {
	segs := remoteSegments(p)
	if len(segs) == 0 {
		return "", "", ""
	}

	base := segs[len(segs)-1]
	base = strings.TrimSuffix(base, path.Ext(base))
	base = trackNumberPrefix.ReplaceAllString(base, "")

	parts := strings.Split(base, " - ")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	switch {
	case len(parts) >= 2:
		artist, title = parts[0], parts[len(parts)-1]
	default:
		title = strings.TrimSpace(base)
	}

	if len(segs) >= 2 {
		album = segs[len(segs)-2]
	}
	if artist == "" {
		// "Artist - Album" folders are as common as Artist/Album trees.
		if a, b, ok := strings.Cut(album, " - "); ok {
			artist, album = strings.TrimSpace(a), strings.TrimSpace(b)
		} else if len(segs) >= 3 {
			artist = segs[len(segs)-3]
		}
	}
	return artist, album, title
}
