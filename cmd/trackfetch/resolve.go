package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"trackfetch/internal/track"
)

func init() {
	cmdRoot.AddCommand(cmdResolve())
}

func cmdResolve() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Find the best candidate for a track without downloading it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd, nil)
			if err != nil {
				return err
			}
			defer a.close()

			target := targetFromFlags(cmd)
			outcome, err := a.engine.Resolve(a.sh.Context(), target)
			if err != nil {
				return err
			}

			printOutcome(cmd.OutOrStdout(), target, outcome)
			if !outcome.Matched {
				return fmt.Errorf("no match for %s", target)
			}
			return nil
		},
	}
	addTargetFlags(cmd)
	return cmd
}

func printOutcome(w io.Writer, target track.Descriptor, o track.Outcome) {
	if !o.Matched {
		color.New(color.FgRed).Fprintf(w, "✗ %s: %s\n", target, o.Reason.Message())
		return
	}
	c := o.Candidate
	color.New(color.FgGreen).Fprintf(w, "✓ %s - %s (%s)\n", c.Artist, c.Title, formatDuration(c.Duration))
	fmt.Fprintf(w, "  provider: %s\n", c.Provider)
	fmt.Fprintf(w, "  ref:      %s\n", c.Ref)
	fmt.Fprintf(w, "  score:    %s\n", o.Score)
}
