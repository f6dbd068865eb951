package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"trackfetch/internal/config"
	"trackfetch/internal/logger"
	"trackfetch/internal/pipeline"
	"trackfetch/internal/shutdown"
)

var cmdRoot = &cobra.Command{
	Use:   "trackfetch",
	Short: "Find, download and tag tracks from peer-to-peer and video sources",
	Long: `trackfetch resolves an artist/title pair against a peer-to-peer network
(through slskd) and a video platform (through yt-dlp), picks the best scoring
candidate, downloads it and rewrites its tags.`,
	SilenceUsage: true,
}

func init() {
	cmdRoot.PersistentFlags().StringP("config", "c", "", "path to config file")
	cmdRoot.PersistentFlags().BoolP("verbose", "v", false, "show detailed output")
}

// Execute runs the root command.
func Execute() {
	if err := cmdRoot.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

// app is the per-invocation runtime shared by the engine commands.
type app struct {
	cfg        config.Config
	configPath string
	log        *logger.Logger
	sh         *shutdown.Handler
	engine     *pipeline.Engine
}

// loadConfig reads the config file named by --config, or the first one found
// in the standard locations, and applies global flag overrides.
func loadConfig(cmd *cobra.Command) (config.Config, string, error) {
	path, _ := cmd.Flags().GetString("config")

	cfg, err := config.LoadConfigFile(path)
	if err != nil {
		return cfg, "", fmt.Errorf("failed to load config: %w", err)
	}
	if path == "" {
		path = config.FindConfigFile()
	}

	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		cfg.Verbose = true
	}
	return cfg, path, nil
}

// newLogger logs to the console and, unless verbose, to a rotated file.
func newLogger(cfg config.Config) *logger.Logger {
	log := logger.NewWithOptions(logger.Options{
		Verbose: cfg.Verbose,
		Format:  cfg.Log.Format,
	})

	path := cfg.Log.File
	if path == "" && !cfg.Verbose {
		path = config.GetDefaultLogPath()
	}
	if path == "" {
		return log
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		fmt.Fprintf(os.Stderr, "[WARN] Failed to create log directory: %v\n", err)
		return log
	}
	if err := log.SetFileLog(path); err != nil {
		fmt.Fprintf(os.Stderr, "[WARN] Failed to setup file logging: %v\n", err)
	}
	return log
}

// newApp loads and validates configuration, installs the signal handler and
// builds the engine. Callers must call close.
func newApp(cmd *cobra.Command, override func(*config.Config)) (*app, error) {
	cfg, path, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if override != nil {
		override(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}

	a := &app{cfg: cfg, configPath: path}
	a.log = newLogger(cfg)
	if path != "" {
		a.log.Debug("Loaded configuration from: %s", path)
	}

	a.sh = shutdown.New(cmd.Context())
	a.sh.Listen()
	a.sh.AddCleanup(func() { a.log.Close() })

	a.engine, err = pipeline.Build(a.sh.Context(), cfg, a.log)
	if err != nil {
		a.sh.Shutdown()
		return nil, err
	}
	a.sh.AddCleanup(func() {
		if err := a.engine.Close(); err != nil {
			a.log.Warn("Error closing engine: %v", err)
		}
	})
	return a, nil
}

func (a *app) close() {
	a.sh.Shutdown()
}
