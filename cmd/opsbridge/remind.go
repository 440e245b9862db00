package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	remindDryRun bool
	remindAt     string
)

var remindCmd = &cobra.Command{
	Use:   "remind",
	Short: "Run the missing-document reminders once",
	Long: `Run the missing-document reminders once and exit.

--at evaluates the rules as of another instant (RFC 3339), which is useful
together with --dry-run to preview what a scheduled run would send.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		now := time.Now()
		if remindAt != "" {
			t, err := time.Parse(time.RFC3339, remindAt)
			if err != nil {
				return fmt.Errorf("--at: %w", err)
			}
			now = t
		}

		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Minute)
		defer cancel()

		out := cmd.OutOrStdout()
		if remindDryRun {
			decisions, err := a.reminder.Plan(ctx, now)
			if err != nil {
				return err
			}
			for _, d := range decisions {
				fmt.Fprintf(out, "%s\t%s\t%s\t%s\n", d.JobID, d.Threshold.Label, d.Recipient, strings.Join(d.MissingLabels(), ", "))
			}
			fmt.Fprintf(out, "%d reminder(s) due\n", len(decisions))
			return nil
		}

		sent, err := a.reminder.Run(ctx, now)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%d reminder(s) sent\n", sent)
		return nil
	},
}

func init() {
	remindCmd.Flags().BoolVar(&remindDryRun, "dry-run", false, "list due reminders without sending")
	remindCmd.Flags().StringVar(&remindAt, "at", "", "evaluate as of this RFC 3339 instant")
}
