package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"trackfetch/internal/acquire"
	"trackfetch/internal/config"
	"trackfetch/internal/progress"
)

func init() {
	cmdRoot.AddCommand(cmdBatch())
}

func cmdBatch() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch <targets.yaml>",
		Short: "Acquire every track listed in a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tf, err := loadTargets(args[0])
			if err != nil {
				return err
			}

			concurrency, _ := cmd.Flags().GetInt("concurrency")
			a, err := newApp(cmd, func(cfg *config.Config) {
				if concurrency > 0 {
					cfg.Concurrency = concurrency
				}
			})
			if err != nil {
				return err
			}
			defer a.close()

			reqs := make([]acquire.Request, len(tf.Tracks))
			for i, t := range tf.Tracks {
				reqs[i] = acquire.Request{Target: t, DestDir: config.ExpandHome(tf.DestDir), Attempt: 1}
			}

			var bar *progress.Bar
			if !a.cfg.Verbose {
				bar = progress.New(len(reqs))
				a.log.SetProgressBar(true)
				a.engine.Scheduler.OnItemDone = func(_ int, r acquire.Result) {
					bar.Increment(r.Succeeded())
				}
			}

			res := a.engine.ResolveAll(a.sh.Context(), "", reqs, a.cfg.Concurrency)

			if bar != nil {
				bar.Finish()
				a.log.SetProgressBar(false)
			}

			printBatch(cmd.OutOrStdout(), res)
			if res.Successful == 0 {
				return fmt.Errorf("none of %d tracks acquired", len(reqs))
			}
			return nil
		},
	}
	cmd.Flags().IntP("concurrency", "p", 0, "parallel acquisitions (1-10, default from config)")
	return cmd
}

func printBatch(w io.Writer, res acquire.BatchResult) {
	for _, r := range res.Items {
		if !r.Succeeded() {
			printResult(w, r)
		}
	}
	summary := color.New(color.FgGreen)
	if res.Failed > 0 {
		summary = color.New(color.FgYellow)
	}
	summary.Fprintf(w, "=== %d acquired, %d failed ===\n", res.Successful, res.Failed)
}
