// Package peer implements the peer network search provider against an
// slskd instance (a Soulseek client with an HTTP API). Peers typically share
// lossless rips, so this provider is queried before the video platform.
package peer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"trackfetch/internal/acquire"
	"trackfetch/internal/logger"
	"trackfetch/internal/track"
	"trackfetch/pkg/utils"
)

// Name identifies this provider in candidates and configuration.
const Name = "peer"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	defaultSearchTime     = 5 * time.Second
	defaultPollInterval   = 500 * time.Millisecond
	defaultRequestsPerSec = 2
	httpTimeout           = 10 * time.Second

	// readyTTL is how long a session check result is trusted.
	readyTTL = 30 * time.Second
)

// Options configures the provider.
type Options struct {
	URL      string
	Username string
	Password string
	APIKey   string

	// DownloadsDir is slskd's download directory as seen from this process.
	DownloadsDir string

	SearchTime     time.Duration // how long slskd collects responses
	PollInterval   time.Duration
	RequestsPerSec float64
}

// Provider talks to slskd.
type Provider struct {
	opts    Options
	client  *http.Client
	logger  *logger.Logger
	limiter *rate.Limiter

	group      singleflight.Group
	mu         sync.Mutex
	readyErr   error
	readyUntil time.Time

	now   func() time.Time
	newID func() string
}

// New creates a peer Provider. A missing URL or missing credentials leave
// the provider permanently unavailable rather than failing construction.
func New(opts Options, log *logger.Logger) *Provider {
	opts.URL = strings.TrimRight(opts.URL, "/")
	if opts.SearchTime <= 0 {
		opts.SearchTime = defaultSearchTime
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.RequestsPerSec <= 0 {
		opts.RequestsPerSec = defaultRequestsPerSec
	}
	return &Provider{
		opts:    opts,
		client:  newHTTPClient(opts, httpTimeout),
		logger:  log.With(Name),
		limiter: rate.NewLimiter(rate.Limit(opts.RequestsPerSec), 4),
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

func (p *Provider) Name() string { return Name }

func (p *Provider) configured() bool {
	return p.opts.URL != "" && (p.opts.APIKey != "" || p.opts.Username != "")
}

// Ready verifies that slskd is reachable and logged in to Soulseek. The
// result is shared by concurrent callers and trusted for 30 seconds.
func (p *Provider) Ready(ctx context.Context) error {
	if !p.configured() {
		return fmt.Errorf("%w: slskd url or credentials not configured", acquire.ErrProviderUnavailable)
	}

	if ok, err := p.cachedReady(); ok {
		return err
	}

	_, err, _ := p.group.Do("ready", func() (interface{}, error) {
		if ok, err := p.cachedReady(); ok {
			return nil, err
		}
		err := p.checkServer(ctx)
		if err != nil {
			err = fmt.Errorf("%w: %v", acquire.ErrProviderUnavailable, err)
		}
		// A cancelled check says nothing about slskd.
		if ctx.Err() == nil {
			p.mu.Lock()
			p.readyErr = err
			p.readyUntil = p.now().Add(readyTTL)
			p.mu.Unlock()
		}
		return nil, err
	})
	return err
}

func (p *Provider) cachedReady() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.now().Before(p.readyUntil) {
		return true, p.readyErr
	}
	return false, nil
}

type serverState struct {
	IsConnected bool   `json:"isConnected"`
	IsLoggedIn  bool   `json:"isLoggedIn"`
	State       string `json:"state"`
}

func (p *Provider) checkServer(ctx context.Context) error {
	var st serverState
	if err := p.do(ctx, http.MethodGet, "/api/v0/server", nil, &st); err != nil {
		return err
	}
	if !st.IsLoggedIn {
		return fmt.Errorf("slskd is not logged in to soulseek (state %q)", st.State)
	}
	return nil
}

// do sends a JSON request to slskd and decodes a JSON response into out
// when out is non-nil.
func (p *Provider) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.opts.URL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("slskd %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slskd %s %s returned status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("slskd %s %s: decoding response: %w", method, path, err)
	}
	return nil
}

type searchRequest struct {
	ID              string `json:"id"`
	SearchText      string `json:"searchText"`
	SearchTimeout   int64  `json:"searchTimeout"`
	ResponseLimit   int    `json:"responseLimit"`
	FileLimit       int    `json:"fileLimit"`
	FilterResponses bool   `json:"filterResponses"`
}

type searchState struct {
	ID         string `json:"id"`
	IsComplete bool   `json:"isComplete"`
	State      string `json:"state"`
}

type searchResponse struct {
	Username          string       `json:"username"`
	HasFreeUploadSlot bool         `json:"hasFreeUploadSlot"`
	UploadSpeed       int64        `json:"uploadSpeed"`
	QueueLength       int64        `json:"queueLength"`
	Files             []sharedFile `json:"files"`
}

type sharedFile struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	Length   int    `json:"length"` // seconds, absent when the peer did not index it
	BitRate  int    `json:"bitRate"`
}

// Search runs a network-wide search and waits for slskd to finish
// collecting responses. An unavailable session yields no candidates.
func (p *Provider) Search(ctx context.Context, query string, limit int) ([]track.Candidate, error) {
	if err := p.Ready(ctx); err != nil {
		p.logger.Debug("Skipping search, %v", err)
		return nil, nil
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	id := p.newID()
	req := searchRequest{
		ID:              id,
		SearchText:      query,
		SearchTimeout:   p.opts.SearchTime.Milliseconds(),
		ResponseLimit:   100,
		FileLimit:       1000,
		FilterResponses: true,
	}
	if err := p.do(ctx, http.MethodPost, "/api/v0/searches", req, nil); err != nil {
		return nil, err
	}
	defer p.deleteSearch(ctx, id)

	err := p.poll(ctx, func() (bool, error) {
		var st searchState
		if err := p.do(ctx, http.MethodGet, "/api/v0/searches/"+id, nil, &st); err != nil {
			return false, err
		}
		return st.IsComplete, nil
	})
	if err != nil {
		return nil, fmt.Errorf("waiting for search %q: %w", query, err)
	}

	var responses []searchResponse
	if err := p.do(ctx, http.MethodGet, "/api/v0/searches/"+id+"/responses", nil, &responses); err != nil {
		return nil, err
	}

	candidates := toCandidates(responses, limit)
	p.logger.Debug("Search %q: %d responses, %d audio candidates", query, len(responses), len(candidates))
	return candidates, nil
}

// deleteSearch removes the search from slskd even when ctx is done.
func (p *Provider) deleteSearch(ctx context.Context, id string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), httpTimeout)
	defer cancel()
	if err := p.do(ctx, http.MethodDelete, "/api/v0/searches/"+id, nil, nil); err != nil {
		p.logger.Debug("Could not delete search %s: %v", id, err)
	}
}

// toCandidates flattens responses into audio candidates, peers with a free
// upload slot and faster uploads first.
func toCandidates(responses []searchResponse, limit int) []track.Candidate {
	sort.SliceStable(responses, func(i, j int) bool {
		a, b := responses[i], responses[j]
		if a.HasFreeUploadSlot != b.HasFreeUploadSlot {
			return a.HasFreeUploadSlot
		}
		return a.UploadSpeed > b.UploadSpeed
	})

	var out []track.Candidate
	for _, r := range responses {
		for _, f := range r.Files {
			if !utils.IsAudioFile(f.Filename) {
				continue
			}
			artist, album, title := parseRemotePath(f.Filename)
			out = append(out, track.Candidate{
				Provider: Name,
				Ref:      encodeRef(fileRef{Username: r.Username, Filename: f.Filename, Size: f.Size}),
				Title:    title,
				Artist:   artist,
				Album:    album,
				Duration: time.Duration(f.Length) * time.Second,
			})
			if limit > 0 && len(out) >= limit {
				return out
			}
		}
	}
	return out
}

// poll calls check every PollInterval until it reports done, fails, or ctx
// ends.
func (p *Provider) poll(ctx context.Context, check func() (bool, error)) error {
	ticker := time.NewTicker(p.opts.PollInterval)
	defer ticker.Stop()
	for {
		done, err := check()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

type transferRequest struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
}

type userTransfers struct {
	Username    string              `json:"username"`
	Directories []transferDirectory `json:"directories"`
}

type transferDirectory struct {
	Directory string     `json:"directory"`
	Files     []transfer `json:"files"`
}

type transfer struct {
	ID              string  `json:"id"`
	Filename        string  `json:"filename"`
	State           string  `json:"state"`
	PercentComplete float64 `json:"percentComplete"`
}

var errTransferFailed = errors.New("transfer failed")

// transferDone interprets slskd's flag-style transfer state, e.g.
// "Completed, Succeeded" or "Completed, Rejected".
func transferDone(state string) (bool, error) {
	for _, bad := range []string{"Errored", "Rejected", "Cancelled", "TimedOut"} {
		if strings.Contains(state, bad) {
			return true, fmt.Errorf("%w: %s", errTransferFailed, state)
		}
	}
	return strings.Contains(state, "Succeeded"), nil
}

// Download enqueues the file with its peer, waits for the transfer to
// finish and moves the result from slskd's download directory into destDir.
func (p *Provider) Download(ctx context.Context, c track.Candidate, destDir string, opts acquire.DownloadOptions) (string, error) {
	ref, err := decodeRef(c.Ref)
	if err != nil {
		return "", err
	}
	if p.opts.DownloadsDir == "" {
		return "", fmt.Errorf("slskd downloads directory not configured")
	}
	if err := p.Ready(ctx); err != nil {
		return "", err
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return "", err
	}

	userPath := "/api/v0/transfers/downloads/" + url.PathEscape(ref.Username)
	if err := p.do(ctx, http.MethodPost, userPath, []transferRequest{{Filename: ref.Filename, Size: ref.Size}}, nil); err != nil {
		return "", fmt.Errorf("enqueueing %s from %s: %w", remoteBase(ref.Filename), ref.Username, err)
	}
	p.logger.Debug("Enqueued %s from %s", remoteBase(ref.Filename), ref.Username)

	err = p.poll(ctx, func() (bool, error) {
		var ut userTransfers
		if err := p.do(ctx, http.MethodGet, userPath, nil, &ut); err != nil {
			return false, err
		}
		for _, d := range ut.Directories {
			for _, t := range d.Files {
				if t.Filename == ref.Filename {
					return transferDone(t.State)
				}
			}
		}
		return false, nil
	})
	if err != nil {
		return "", err
	}

	src, err := p.locateDownload(ref.Filename)
	if err != nil {
		return "", err
	}

	stem := opts.FileStem
	if stem == "" {
		base := remoteBase(ref.Filename)
		stem = strings.TrimSuffix(base, filepath.Ext(base))
	}
	dst, err := filepath.Abs(filepath.Join(destDir, stem+strings.ToLower(filepath.Ext(src))))
	if err != nil {
		return "", err
	}
	if err := utils.MoveFile(src, dst); err != nil {
		return "", err
	}
	return dst, nil
}

// locateDownload finds a finished file in slskd's download directory. slskd
// stores files under the name of their remote parent folder; other layouts
// are found by walking the directory for the file name.
func (p *Provider) locateDownload(remote string) (string, error) {
	segs := remoteSegments(remote)
	if len(segs) == 0 {
		return "", fmt.Errorf("empty remote path")
	}
	base := segs[len(segs)-1]

	if len(segs) >= 2 {
		candidate := filepath.Join(p.opts.DownloadsDir, segs[len(segs)-2], base)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}

	files, err := utils.FindAudioFiles(p.opts.DownloadsDir)
	if err != nil {
		return "", err
	}
	for _, f := range files {
		if filepath.Base(f) == base {
			return f, nil
		}
	}
	return "", fmt.Errorf("downloaded file %s not found in %s", base, p.opts.DownloadsDir)
}
