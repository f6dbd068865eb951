// Package catalog fills gaps in caller supplied track descriptors from a
// public music catalog before resolution. A known duration lets the scorer
// tell album cuts from live and extended versions.
package catalog

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"golang.org/x/time/rate"

	"trackfetch/internal/logger"
	"trackfetch/internal/match"
	"trackfetch/internal/track"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// minFieldSimilarity is the title and artist similarity a catalog entry
// needs before its duration is trusted for a target.
const minFieldSimilarity = 0.9

// Deezer is a Deezer search API client.
type Deezer struct {
	httpClient *http.Client
	apiURL     string
	limiter    *rate.Limiter
	logger     *logger.Logger
}

// NewDeezer creates a Deezer client. Deezer allows 50 requests per 5
// seconds.
func NewDeezer(log *logger.Logger) *Deezer {
	return &Deezer{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		apiURL:     "https://api.deezer.com",
		limiter:    rate.NewLimiter(rate.Every(100*time.Millisecond), 5),
		logger:     log.With("deezer"),
	}
}

// Search queries the Deezer search API with field filters for t.
func (d *Deezer) Search(ctx context.Context, t track.Descriptor) ([]track.Candidate, error) {
	q := buildQuery(t)
	if q == "" {
		return nil, nil
	}
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	reqURL := fmt.Sprintf("%s/search?q=%s&limit=5", d.apiURL, url.QueryEscape(q))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create deezer request: %w", err)
	}
	req.Header.Set("User-Agent", "trackfetch/1.0")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("deezer search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("deezer search returned %d: %s", resp.StatusCode, body)
	}

	var searchResp searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&searchResp); err != nil {
		return nil, fmt.Errorf("failed to decode deezer response: %w", err)
	}
	if searchResp.Error != nil {
		return nil, fmt.Errorf("deezer API error: %s", searchResp.Error.Message)
	}

	return toCandidates(searchResp.Data), nil
}

// Enrich returns t with an unknown duration or empty album filled in from
// the closest catalog entry. t is returned unchanged when nothing is
// missing, the lookup fails, or no entry is close enough.
func (d *Deezer) Enrich(ctx context.Context, t track.Descriptor) track.Descriptor {
	if t.Duration > 0 && t.Album != "" {
		return t
	}
	if t.Title == "" || t.Artist == "" {
		return t
	}

	// The album filter would hide the entry we are looking for.
	lookup := t
	lookup.Album = ""
	results, err := d.Search(ctx, lookup)
	if err != nil {
		d.logger.Debug("Catalog lookup failed for %s: %v", t, err)
		return t
	}

	for _, c := range results {
		s := match.Score(c, t)
		if s.Title < minFieldSimilarity || s.Artist < minFieldSimilarity {
			continue
		}
		if t.Duration == 0 && c.Duration > 0 {
			t.Duration = c.Duration
		}
		if t.Album == "" {
			t.Album = c.Album
		}
		d.logger.Debug("Enriched %s from catalog", t)
		return t
	}
	return t
}

func buildQuery(t track.Descriptor) string {
	escape := func(s string) string {
		return strings.ReplaceAll(s, "\"", "")
	}
	var parts []string
	if t.Title != "" {
		parts = append(parts, "track:\""+escape(t.Title)+"\"")
	}
	if t.Artist != "" {
		parts = append(parts, "artist:\""+escape(t.Artist)+"\"")
	}
	if t.Album != "" {
		parts = append(parts, "album:\""+escape(t.Album)+"\"")
	}
	return strings.Join(parts, " ")
}

func toCandidates(items []trackItem) []track.Candidate {
	var results []track.Candidate
	for _, item := range items {
		title := item.TitleShort
		if title == "" {
			title = item.Title
		}
		results = append(results, track.Candidate{
			Provider: "deezer",
			Ref:      fmt.Sprint(item.ID),
			Title:    title,
			Artist:   item.Artist.Name,
			Album:    item.Album.Title,
			Duration: time.Duration(item.Duration) * time.Second,
		})
	}
	return results
}

// Deezer API response types

type searchResponse struct {
	Data  []trackItem `json:"data"`
	Error *apiError   `json:"error,omitempty"`
}

type apiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

type trackItem struct {
	ID         int       `json:"id"`
	Title      string    `json:"title"`
	TitleShort string    `json:"title_short"`
	Duration   int       `json:"duration"`
	Artist     artist    `json:"artist"`
	Album      albumInfo `json:"album"`
}

type artist struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type albumInfo struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
}
