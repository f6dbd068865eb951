package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"trackfetch/internal/acquire"
	"trackfetch/internal/config"
)

func init() {
	cmdRoot.AddCommand(cmdAcquire())
}

func cmdAcquire() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "acquire",
		Short: "Resolve, download and tag a single track",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			output, _ := cmd.Flags().GetString("output")
			a, err := newApp(cmd, func(cfg *config.Config) {
				if output != "" {
					cfg.OutputDir = config.ExpandHome(output)
				}
			})
			if err != nil {
				return err
			}
			defer a.close()

			ctx := a.sh.Context()
			target := targetFromFlags(cmd)

			// Download failures are retried until the orchestrator reports the
			// job exhausted; match failures are final.
			var res acquire.Result
			for attempt := 1; ; attempt++ {
				res = a.engine.Acquire(ctx, acquire.Request{Target: target, Attempt: attempt})
				if res.Status != acquire.StatusFailed || ctx.Err() != nil ||
					!errors.Is(res.Cause(), acquire.ErrDownloadFailed) {
					break
				}
				a.log.Warn("Attempt %d for %s failed, retrying", attempt, target)
			}

			printResult(cmd.OutOrStdout(), res)
			if !res.Succeeded() {
				return fmt.Errorf("could not acquire %s: %w", target, res.Cause())
			}
			return nil
		},
	}
	addTargetFlags(cmd)
	cmd.Flags().StringP("output", "o", "", "destination directory (overrides output_dir)")
	return cmd
}

func printResult(w io.Writer, r acquire.Result) {
	switch {
	case r.Succeeded():
		color.New(color.FgGreen).Fprintf(w, "✓ %s\n", r.Target)
		fmt.Fprintf(w, "  %s (%s)\n", r.FilePath, r.Provider)
	case r.Status == acquire.StatusExhausted:
		color.New(color.FgYellow).Fprintf(w, "✗ %s: %s\n", r.Target, r.Detail)
	default:
		color.New(color.FgRed).Fprintf(w, "✗ %s: %s\n", r.Target, r.Detail)
	}
}
