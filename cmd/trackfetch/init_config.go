package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"trackfetch/internal/config"
)

func init() {
	cmdRoot.AddCommand(cmdInitConfig())
}

func cmdInitConfig() *cobra.Command {
	return &cobra.Command{
		Use:   "init-config [path]",
		Short: "Create a config file with default values",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.GetDefaultConfigPath()
			if len(args) == 1 {
				path = args[0]
			}

			out := cmd.OutOrStdout()
			if _, err := os.Stat(path); err == nil {
				fmt.Fprintf(out, "Config file already exists at: %s\n", path)
				fmt.Fprintln(out, "Delete it first if you want to recreate it.")
				return nil
			}

			if err := config.SaveConfigFile(config.DefaultConfig(), path); err != nil {
				return fmt.Errorf("failed to create config file: %w", err)
			}

			fmt.Fprintf(out, "Created default config file at: %s\n", path)
			fmt.Fprintln(out, "\nSettings worth reviewing:")
			fmt.Fprintln(out, "  providers: priority order, peer and/or video")
			fmt.Fprintln(out, "  peer.url, peer.api_key or peer.username/password: slskd connection")
			fmt.Fprintln(out, "  peer.downloads_dir: slskd's download directory as seen from here")
			fmt.Fprintln(out, "  cache.backend: memory, sqlite or none")
			fmt.Fprintln(out, "  concurrency: 1-10 parallel acquisitions in a batch")
			return nil
		},
	}
}
