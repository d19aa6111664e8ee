package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/kirillkom/idverify/internal/core/domain"
)

func newRootCmd(env *cliEnv) *cobra.Command {
	root := &cobra.Command{
		Use:   "queuectl",
		Short: "Operate the document verification queue",
		Long: `queuectl inspects and repairs the Redis verification queue.

Examples:
  queuectl stats --details          # Counts plus processing and delayed members
  queuectl recover                  # Move stuck processing ids back, keep attempts
  queuectl requeue-stuck            # Move stuck processing ids back, clear attempts
  queuectl promote-delayed          # Push every ready delayed id onto the queue
  queuectl reset-attempts <id>      # Forget the retry history of one document
  queuectl attempts <id>            # Show the audited pipeline runs of one document
  queuectl export-reviews --out reviews.xlsx
  queuectl events                   # Tail status events from NATS`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newStatsCmd(env),
		newRecoverCmd(env),
		newRequeueStuckCmd(env),
		newPromoteDelayedCmd(env),
		newResetAttemptsCmd(env),
		newAttemptsCmd(env),
		newExportReviewsCmd(env),
		newEventsCmd(env),
	)
	return root
}

func newStatsCmd(env *cliEnv) *cobra.Command {
	var (
		details bool
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show queued, processing and delayed counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			queue, closeQueue, err := env.openQueue()
			if err != nil {
				return err
			}
			defer closeQueue()

			ctx := cmd.Context()
			stats, err := queue.Stats(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return json.NewEncoder(out).Encode(stats)
			}

			fmt.Fprintf(out, "queued:     %d\n", stats.Queued)
			fmt.Fprintf(out, "processing: %d\n", stats.Processing)
			fmt.Fprintf(out, "delayed:    %d\n", stats.Delayed)
			if !details {
				return nil
			}

			processing, err := queue.ProcessingMembers(ctx)
			if err != nil {
				return err
			}
			sort.Strings(processing)
			if len(processing) > 0 {
				fmt.Fprintln(out, "\nprocessing:")
			}
			for _, id := range processing {
				attempts, err := queue.Attempts(ctx, id)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "  %s attempts=%d\n", id, attempts)
			}

			delayed, err := queue.DelayedEntries(ctx)
			if err != nil {
				return err
			}
			if len(delayed) > 0 {
				fmt.Fprintln(out, "\ndelayed:")
			}
			now := env.now()
			for _, entry := range delayed {
				wait := entry.ReadyAt.Sub(now)
				if wait < 0 {
					wait = 0
				}
				fmt.Fprintf(out, "  %s ready_at=%s in=%s\n", entry.DocumentID, entry.ReadyAt.UTC().Format(time.RFC3339), wait.Truncate(time.Second))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&details, "details", false, "List processing and delayed members")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print counts as JSON")
	return cmd
}

func newRecoverCmd(env *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Move every processing id back to the queue and keep attempt counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			queue, closeQueue, err := env.openQueue()
			if err != nil {
				return err
			}
			defer closeQueue()

			moved, err := queue.RecoverStuck(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "recovered %d document(s)\n", moved)
			return nil
		},
	}
}

func newRequeueStuckCmd(env *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "requeue-stuck",
		Short: "Move every processing id back to the queue and clear attempt counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			queue, closeQueue, err := env.openQueue()
			if err != nil {
				return err
			}
			defer closeQueue()

			moved, err := queue.RequeueStuck(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "requeued %d document(s)\n", moved)
			return nil
		},
	}
}

func newPromoteDelayedCmd(env *cliEnv) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "promote-delayed",
		Short: "Push ready delayed ids onto the queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			queue, closeQueue, err := env.openQueue()
			if err != nil {
				return err
			}
			defer closeQueue()

			cutoff := env.now()
			if all {
				cutoff = time.Unix(1<<40, 0)
			}
			promoted, err := queue.PromoteDelayed(cmd.Context(), cutoff)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "promoted %d document(s)\n", promoted)
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Promote every delayed id regardless of its ready time")
	return cmd
}

func newResetAttemptsCmd(env *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "reset-attempts <documentID>",
		Short: "Clear the attempt counter of one document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			queue, closeQueue, err := env.openQueue()
			if err != nil {
				return err
			}
			defer closeQueue()

			ctx := cmd.Context()
			before, err := queue.Attempts(ctx, args[0])
			if err != nil {
				return err
			}
			if err := queue.ResetAttempts(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s attempts %d -> 0\n", args[0], before)
			return nil
		},
	}
}

func newAttemptsCmd(env *cliEnv) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "attempts <documentID>",
		Short: "List the recorded processing attempts of one document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			docs, closeDocs, err := env.openDocuments()
			if err != nil {
				return err
			}
			defer closeDocs()

			attempts, err := docs.ListAttempts(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return json.NewEncoder(out).Encode(attempts)
			}
			if len(attempts) == 0 {
				fmt.Fprintf(out, "no attempts recorded for %s\n", args[0])
				return nil
			}
			for _, a := range attempts {
				line := fmt.Sprintf("#%d %s started=%s took=%s",
					a.Attempt, a.Outcome,
					a.StartedAt.UTC().Format(time.RFC3339),
					a.FinishedAt.Sub(a.StartedAt).Truncate(time.Millisecond))
				if a.Error != "" {
					line += fmt.Sprintf(" error=%q", a.Error)
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print attempts as JSON")
	return cmd
}

func newExportReviewsCmd(env *cliEnv) *cobra.Command {
	var (
		out    string
		status string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "export-reviews",
		Short: "Export documents awaiting manual review to an .xlsx workbook",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			wanted := domain.VerificationStatus(status)
			if !wanted.Valid() {
				return fmt.Errorf("unknown status %q", status)
			}
			docs, closeDocs, err := env.openDocuments()
			if err != nil {
				return err
			}
			defer closeDocs()

			list, err := docs.ListByStatus(cmd.Context(), wanted, limit)
			if err != nil {
				return err
			}
			if err := writeReviewWorkbook(list, out, env.now()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d document(s) to %s\n", len(list), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "reviews.xlsx", "Workbook path")
	cmd.Flags().StringVar(&status, "status", string(domain.StatusPendingManualReview), "Document status to export")
	cmd.Flags().IntVar(&limit, "limit", 500, "Maximum number of documents")
	return cmd
}

func newEventsCmd(env *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "events",
		Short: "Print verification status events until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			events, closeEvents, err := env.openEvents()
			if err != nil {
				return err
			}
			defer closeEvents()

			out := cmd.OutOrStdout()
			return events.Subscribe(cmd.Context(), func(event domain.StatusEvent) {
				line := fmt.Sprintf("%s %s %s", event.OccurredAt.UTC().Format(time.RFC3339), event.DocumentID, event.Status)
				if event.Score != nil {
					line += fmt.Sprintf(" score=%d", *event.Score)
				}
				if event.TicketID != "" {
					line += " ticket=" + event.TicketID
				}
				if event.Failed {
					line += " failed"
				}
				fmt.Fprintln(out, line)
			})
		},
	}
}
