package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Provider names accepted in Config.Providers.
const (
	ProviderPeer  = "peer"
	ProviderVideo = "video"
)

// Cache backends accepted in CacheConfig.Backend.
const (
	CacheMemory = "memory"
	CacheSQLite = "sqlite"
	CacheNone   = "none"
)

// Config contains the program configuration
type Config struct {
	Verbose     bool   `yaml:"verbose"`
	OutputDir   string `yaml:"output_dir"`
	Concurrency int    `yaml:"concurrency"`
	MaxAttempts int    `yaml:"max_attempts"`
	RewriteTags bool   `yaml:"rewrite_tags"`
	EmbedLyrics bool   `yaml:"embed_lyrics"`

	// EnrichTargets fills unknown durations and albums from the Deezer
	// catalog before resolution.
	EnrichTargets bool `yaml:"enrich_targets"`

	// Providers lists the enabled search providers in priority order.
	Providers []string `yaml:"providers"`

	Log      LogConfig     `yaml:"log"`
	Peer     PeerConfig    `yaml:"peer"`
	Video    VideoConfig   `yaml:"video"`
	Cache    CacheConfig   `yaml:"cache"`
	Timeouts TimeoutConfig `yaml:"timeouts"`
	Server   ServerConfig  `yaml:"server"`
}

// LogConfig controls log output.
type LogConfig struct {
	Format string `yaml:"format"` // text or json
	File   string `yaml:"file"`   // rotated log file, empty to disable
}

// PeerConfig holds the slskd connection.
type PeerConfig struct {
	URL          string        `yaml:"url"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	APIKey       string        `yaml:"api_key"`
	DownloadsDir string        `yaml:"downloads_dir"`
	SearchTime   time.Duration `yaml:"search_time"`
}

// VideoConfig holds yt-dlp settings.
type VideoConfig struct {
	Binary         string `yaml:"binary"`
	CookiesBrowser string `yaml:"cookies_browser"`
	AudioFormat    string `yaml:"audio_format"`
}

// CacheConfig selects the resolution cache backend and its TTL classes.
type CacheConfig struct {
	Backend       string        `yaml:"backend"`
	Path          string        `yaml:"path"`
	SearchTTL     time.Duration `yaml:"search_ttl"`
	ResolutionTTL time.Duration `yaml:"resolution_ttl"`
	StreamTTL     time.Duration `yaml:"stream_ttl"`
}

// TimeoutConfig bounds individual provider calls.
type TimeoutConfig struct {
	Search   time.Duration `yaml:"search"`
	Download time.Duration `yaml:"download"`
	Stream   time.Duration `yaml:"stream"`
}

// ServerConfig configures the serve command.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		OutputDir:   filepath.Join(homeDir(), "Music"),
		Concurrency: 3,
		MaxAttempts: 3,
		RewriteTags: true,
		Providers:   []string{ProviderPeer, ProviderVideo},
		Log: LogConfig{
			Format: "text",
		},
		Peer: PeerConfig{
			SearchTime: 5 * time.Second,
		},
		Video: VideoConfig{
			Binary:      "yt-dlp",
			AudioFormat: "opus",
		},
		Cache: CacheConfig{
			Backend:       CacheMemory,
			Path:          filepath.Join(GetDefaultDataPath(), "cache.db"),
			SearchTTL:     time.Hour,
			ResolutionTTL: 24 * time.Hour,
			StreamTTL:     4 * time.Hour,
		},
		Timeouts: TimeoutConfig{
			Search:   8 * time.Second,
			Download: 3 * time.Minute,
			Stream:   30 * time.Second,
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
	}
}

// LoadConfigFile loads configuration from a YAML file.
// If path is empty, searches standard locations. Returns defaults if no file found.
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = FindConfigFile()
		if path == "" {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	cfg.OutputDir = ExpandHome(cfg.OutputDir)
	cfg.Cache.Path = ExpandHome(cfg.Cache.Path)
	cfg.Peer.DownloadsDir = ExpandHome(cfg.Peer.DownloadsDir)
	cfg.Log.File = ExpandHome(cfg.Log.File)

	return cfg, nil
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir(), path[2:])
	}
	return path
}

// FindConfigFile searches for a config file in standard locations
func FindConfigFile() string {
	home := homeDir()
	locations := []string{
		"./trackfetch.yaml",
		"./trackfetch.yml",
		filepath.Join(home, ".config", "trackfetch", "config.yaml"),
		filepath.Join(home, ".config", "trackfetch", "config.yml"),
		filepath.Join(home, ".trackfetch.yaml"),
		filepath.Join(home, ".trackfetch.yml"),
	}

	for _, path := range locations {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// SaveConfigFile saves the current configuration to a YAML file
func SaveConfigFile(cfg Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// 0600: the file may hold slskd credentials.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GetDefaultConfigPath returns the default config file path
func GetDefaultConfigPath() string {
	return filepath.Join(homeDir(), ".config", "trackfetch", "config.yaml")
}

// GetDefaultDataPath returns the directory for persistent state such as
// the sqlite cache.
func GetDefaultDataPath() string {
	return filepath.Join(homeDir(), ".local", "share", "trackfetch")
}

// GetDefaultLogPath returns the default log file path
func GetDefaultLogPath() string {
	return filepath.Join(GetDefaultDataPath(), "logs", "trackfetch.log")
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return os.Getenv("HOME")
	}
	return home
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency)
	}
	if c.Concurrency > 10 {
		return fmt.Errorf("concurrency cannot exceed 10 (to avoid rate limiting), got %d", c.Concurrency)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1, got %d", c.MaxAttempts)
	}

	if c.OutputDir == "" {
		return fmt.Errorf("output_dir cannot be empty")
	}

	if len(c.Providers) == 0 {
		return fmt.Errorf("at least one provider must be enabled, valid providers: %s, %s", ProviderPeer, ProviderVideo)
	}
	seen := make(map[string]bool)
	for _, p := range c.Providers {
		if p != ProviderPeer && p != ProviderVideo {
			return fmt.Errorf("unknown provider %q, valid providers: %s, %s", p, ProviderPeer, ProviderVideo)
		}
		if seen[p] {
			return fmt.Errorf("provider %q listed twice", p)
		}
		seen[p] = true
	}

	if c.HasProvider(ProviderPeer) && c.Peer.URL != "" {
		if !strings.HasPrefix(c.Peer.URL, "http://") && !strings.HasPrefix(c.Peer.URL, "https://") {
			return fmt.Errorf("peer.url must start with http:// or https://")
		}
		if c.Peer.APIKey == "" && (c.Peer.Username == "" || c.Peer.Password == "") {
			return fmt.Errorf("peer.api_key or peer.username and peer.password are required when peer.url is set")
		}
		if c.Peer.DownloadsDir == "" {
			return fmt.Errorf("peer.downloads_dir is required when peer.url is set")
		}
	}

	validFormats := []string{"mp3", "m4a", "opus", "flac", "wav", "aac"}
	if !slices.Contains(validFormats, c.Video.AudioFormat) {
		return fmt.Errorf("unsupported audio format '%s', valid formats: %v", c.Video.AudioFormat, validFormats)
	}

	switch c.Cache.Backend {
	case CacheMemory, CacheNone:
	case CacheSQLite:
		if c.Cache.Path == "" {
			return fmt.Errorf("cache.path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("unknown cache backend %q, valid backends: %s, %s, %s", c.Cache.Backend, CacheMemory, CacheSQLite, CacheNone)
	}

	for name, d := range map[string]time.Duration{
		"cache.search_ttl":     c.Cache.SearchTTL,
		"cache.resolution_ttl": c.Cache.ResolutionTTL,
		"cache.stream_ttl":     c.Cache.StreamTTL,
		"timeouts.search":      c.Timeouts.Search,
		"timeouts.download":    c.Timeouts.Download,
		"timeouts.stream":      c.Timeouts.Stream,
	} {
		if d < 0 {
			return fmt.Errorf("%s cannot be negative, got %s", name, d)
		}
	}

	if c.Log.Format != "" && c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	return nil
}

// HasProvider reports whether name is enabled.
func (c *Config) HasProvider(name string) bool {
	return slices.Contains(c.Providers, name)
}
