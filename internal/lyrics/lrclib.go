// Package lyrics looks up song lyrics on LRCLib.
package lyrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"

	"trackfetch/internal/track"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Result struct {
	Synced string // LRC format with timestamps, empty if unavailable
	Plain  string // plain text lyrics, empty if unavailable
}

// Best returns synced lyrics when available, plain lyrics otherwise.
func (r Result) Best() string {
	if r.Synced != "" {
		return r.Synced
	}
	return r.Plain
}

// Empty reports whether no lyrics were found.
func (r Result) Empty() bool { return r.Synced == "" && r.Plain == "" }

type Client struct {
	httpClient *http.Client
	apiURL     string
	retryDelay time.Duration
}

func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		apiURL:     "https://lrclib.net/api/get",
		retryDelay: 2 * time.Second,
	}
}

// Fetch retrieves lyrics for t from LRCLib.
// Returns empty Result (no error) when lyrics are not found.
// Retries once on transient network errors.
func (c *Client) Fetch(ctx context.Context, t track.Descriptor) (Result, error) {
	result, err := c.doFetch(ctx, t)
	if err == nil {
		return result, nil
	}

	// API errors (4xx, 5xx) would fail identically on retry.
	if !isTransient(err) {
		return Result{}, err
	}

	select {
	case <-ctx.Done():
		return Result{}, err
	case <-time.After(c.retryDelay):
	}
	return c.doFetch(ctx, t)
}

func isTransient(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr)
}

func (c *Client) doFetch(ctx context.Context, t track.Descriptor) (Result, error) {
	params := url.Values{}
	params.Set("artist_name", t.Artist)
	params.Set("track_name", t.Title)
	if t.Album != "" {
		params.Set("album_name", t.Album)
	}
	// LRCLib matches within two seconds of the given duration.
	if t.Duration > 0 {
		params.Set("duration", strconv.Itoa(int(t.Duration.Round(time.Second)/time.Second)))
	}

	reqURL := fmt.Sprintf("%s?%s", c.apiURL, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return Result{}, fmt.Errorf("failed to create lrclib request: %w", err)
	}
	req.Header.Set("User-Agent", "trackfetch/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("lrclib request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Result{}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("lrclib returned status %d", resp.StatusCode)
	}

	var apiResp apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return Result{}, fmt.Errorf("failed to decode lrclib response: %w", err)
	}

	return Result{
		Synced: apiResp.SyncedLyrics,
		Plain:  apiResp.PlainLyrics,
	}, nil
}

type apiResponse struct {
	SyncedLyrics string `json:"syncedLyrics"`
	PlainLyrics  string `json:"plainLyrics"`
}
