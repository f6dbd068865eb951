// Package video implements the video platform search provider on top of
// yt-dlp. Search results come from YouTube's index, downloads extract the
// best audio stream, and candidates can be played through a transient
// stream URL.
package video

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"trackfetch/internal/acquire"
	"trackfetch/internal/logger"
	"trackfetch/internal/track"
	"trackfetch/pkg/utils"
)

// Name identifies this provider in candidates and configuration.
const Name = "video"

const watchURL = "https://www.youtube.com/watch?v="

// streamFallbackTTL applies when the stream URL carries no expire parameter.
const streamFallbackTTL = 4 * time.Hour

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Options configures the provider.
type Options struct {
	Binary         string  // yt-dlp executable, default "yt-dlp"
	AudioFormat    string  // --audio-format, default "opus"
	CookiesBrowser string  // optional --cookies-from-browser
	RequestsPerSec float64 // yt-dlp invocations per second, default 1
}

// runFunc executes a command and returns its stdout.
type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// Provider searches and downloads through yt-dlp.
type Provider struct {
	opts    Options
	logger  *logger.Logger
	limiter *rate.Limiter

	group     singleflight.Group
	mu        sync.Mutex
	ready     bool
	run       runFunc
	checkDeps func(name string) error
	now       func() time.Time
}

// New creates a video Provider.
func New(opts Options, log *logger.Logger) *Provider {
	if opts.Binary == "" {
		opts.Binary = "yt-dlp"
	}
	if opts.AudioFormat == "" {
		opts.AudioFormat = "opus"
	}
	if opts.RequestsPerSec <= 0 {
		opts.RequestsPerSec = 1
	}
	return &Provider{
		opts:      opts,
		logger:    log.With(Name),
		limiter:   rate.NewLimiter(rate.Limit(opts.RequestsPerSec), 2),
		run:       runCommand,
		checkDeps: utils.CheckDependency,
		now:       time.Now,
	}
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%s failed: %w\nDetails: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

func (p *Provider) Name() string { return Name }

// Ready checks that yt-dlp is installed. A successful check is remembered;
// a failed one is retried on the next call.
func (p *Provider) Ready(ctx context.Context) error {
	p.mu.Lock()
	ready := p.ready
	p.mu.Unlock()
	if ready {
		return nil
	}

	_, err, _ := p.group.Do("ready", func() (interface{}, error) {
		if err := p.checkDeps(p.opts.Binary); err != nil {
			return nil, fmt.Errorf("%w: %v", acquire.ErrProviderUnavailable, err)
		}
		p.mu.Lock()
		p.ready = true
		p.mu.Unlock()
		return nil, nil
	})
	return err
}

// searchEntry is one line of `yt-dlp --flat-playlist --dump-json`.
type searchEntry struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Channel  string  `json:"channel"`
	Uploader string  `json:"uploader"`
	Duration float64 `json:"duration"`

	// Set for YouTube Music uploads.
	Track  string `json:"track"`
	Artist string `json:"artist"`
	Album  string `json:"album"`
}

func (e searchEntry) candidate() track.Candidate {
	c := track.Candidate{
		Provider: Name,
		Ref:      e.ID,
		Album:    e.Album,
		Duration: time.Duration(e.Duration * float64(time.Second)),
	}
	if e.Track != "" && e.Artist != "" {
		c.Title = e.Track
		c.Artist = primaryCredit(e.Artist)
		return c
	}
	channel := e.Channel
	if channel == "" {
		channel = e.Uploader
	}
	c.Artist, c.Title = splitTitle(e.Title, channel)
	return c
}

// primaryCredit keeps the first of yt-dlp's comma separated artist credits.
func primaryCredit(artist string) string {
	if i := strings.Index(artist, ","); i > 0 {
		return strings.TrimSpace(artist[:i])
	}
	return artist
}

// Search runs a ytsearch query and returns up to limit candidates.
func (p *Provider) Search(ctx context.Context, query string, limit int) ([]track.Candidate, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	out, err := p.run(ctx, p.opts.Binary,
		"--flat-playlist",
		"--dump-json",
		"--no-warnings",
		fmt.Sprintf("ytsearch%d:%s", limit, query),
	)
	if err != nil {
		return nil, fmt.Errorf("searching %q: %w", query, err)
	}

	var candidates []track.Candidate
	scanner := bufio.NewScanner(bytes.NewReader(out))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var e searchEntry
		if err := json.Unmarshal(line, &e); err != nil {
			p.logger.Debug("Skipping unparsable search entry: %v", err)
			continue
		}
		if e.ID == "" {
			continue
		}
		candidates = append(candidates, e.candidate())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading yt-dlp output: %w", err)
	}

	p.logger.Debug("ytsearch %q: %d results", query, len(candidates))
	return candidates, nil
}

func (p *Provider) downloadArgs(ref, destDir, stem string) []string {
	args := []string{
		"--extract-audio",
		"--audio-format", p.opts.AudioFormat,
		"-f", "bestaudio[ext=m4a]/bestaudio/best",
		"--retries", "10",
		"--fragment-retries", "10",
		"--no-playlist",
		"--no-progress",
		"--embed-metadata",
		"--force-overwrites",
		"--print", "after_move:filepath",
		"-o", filepath.Join(destDir, stem+".%(ext)s"),
	}

	// If empty yt-dlp will go to default (--no-cookies-from-browser)
	if p.opts.CookiesBrowser != "" {
		args = append(args, "--cookies-from-browser", p.opts.CookiesBrowser)
	}

	return append(args, watchURL+ref)
}

// Download extracts the audio of c into destDir and returns the final path
// yt-dlp reports after post-processing.
func (p *Provider) Download(ctx context.Context, c track.Candidate, destDir string, opts acquire.DownloadOptions) (string, error) {
	if c.Ref == "" {
		return "", fmt.Errorf("candidate has no video id")
	}
	stem := opts.FileStem
	if stem == "" {
		stem = c.Ref
	}
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return "", err
	}

	p.logger.Debug("Downloading %s into %s", c.Ref, destDir)
	out, err := p.run(ctx, p.opts.Binary, p.downloadArgs(c.Ref, destDir, stem)...)
	if err != nil {
		return "", err
	}

	path := lastLine(out)
	if path == "" {
		return "", fmt.Errorf("yt-dlp reported no output file for %s", c.Ref)
	}
	path, err = filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("downloaded file missing: %w", err)
	}
	return path, nil
}

func lastLine(out []byte) string {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

// streamInfo is the subset of `--dump-single-json` used for streaming.
type streamInfo struct {
	URL    string `json:"url"`
	Ext    string `json:"ext"`
	ACodec string `json:"acodec"`
}

// ResolveStream extracts a direct audio URL for a video id.
func (p *Provider) ResolveStream(ctx context.Context, ref string) (track.StreamResource, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return track.StreamResource{}, err
	}

	out, err := p.run(ctx, p.opts.Binary,
		"-f", "bestaudio",
		"--dump-single-json",
		"--no-playlist",
		"--no-warnings",
		watchURL+ref,
	)
	if err != nil {
		return track.StreamResource{}, err
	}

	var info streamInfo
	if err := json.Unmarshal(out, &info); err != nil {
		return track.StreamResource{}, fmt.Errorf("parsing stream info: %w", err)
	}
	if info.URL == "" {
		return track.StreamResource{}, fmt.Errorf("no audio stream for %s", ref)
	}

	format := info.Ext
	if info.ACodec != "" && info.ACodec != "none" {
		format = info.Ext + "/" + info.ACodec
	}
	return track.StreamResource{
		URL:       info.URL,
		Format:    format,
		ExpiresAt: p.streamExpiry(info.URL),
	}, nil
}

// streamExpiry reads the unix "expire" query parameter googlevideo URLs
// carry.
func (p *Provider) streamExpiry(raw string) time.Time {
	if u, err := url.Parse(raw); err == nil {
		if v := u.Query().Get("expire"); v != "" {
			if sec, err := strconv.ParseInt(v, 10, 64); err == nil && sec > 0 {
				return time.Unix(sec, 0)
			}
		}
	}
	return p.now().Add(streamFallbackTTL)
}
