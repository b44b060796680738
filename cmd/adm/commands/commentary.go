// Package commands provides CLI commands for the admin tool
package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"commentaryapp/internal/models"
	"commentaryapp/internal/observability"
	contextutils "commentaryapp/internal/utils"

	"github.com/spf13/cobra"
)

// Pipeline is what the commentary commands need from the dispatcher
type Pipeline interface {
	Process(ctx context.Context) (*models.ProcessResult, error)
	Stats(ctx context.Context) (*models.QueueStats, error)
	Wait(ctx context.Context) error
}

// Requeuer puts questions back into the pending queue
type Requeuer interface {
	Requeue(ctx context.Context, ids []int64, statuses []models.CommentaryStatus) (int64, error)
}

// CommentaryCommands returns the commentary pipeline commands
func CommentaryCommands(pipeline Pipeline, requeuer Requeuer, logger *observability.Logger) *cobra.Command {
	commentaryCmd := &cobra.Command{
		Use:   "commentary",
		Short: "Commentary pipeline commands",
		Long: `Commentary pipeline commands.

Available commands:
  process   - Run one invocation of the pipeline
  stats     - Show status counts and stored commentary totals
  requeue   - Put questions back into the pending queue`,
	}

	commentaryCmd.AddCommand(processCmd(pipeline, logger))
	commentaryCmd.AddCommand(commentaryStatsCmd(pipeline))
	commentaryCmd.AddCommand(requeueCmd(requeuer, logger))

	return commentaryCmd
}

func processCmd(pipeline Pipeline, logger *observability.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "process",
		Short: "Run one invocation of the pipeline",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			result, err := pipeline.Process(ctx)
			if err != nil {
				logger.Error(ctx, "Commentary invocation failed", err, nil)
				return err
			}
			// status corrections run in the background and must finish before the process exits
			if err := pipeline.Wait(ctx); err != nil {
				logger.Warn(ctx, "Background status corrections did not finish", map[string]interface{}{"error": err.Error()})
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
}

func commentaryStatsCmd(pipeline Pipeline) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show status counts and stored commentary totals",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			stats, err := pipeline.Stats(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		},
	}
}

func requeueCmd(requeuer Requeuer, logger *observability.Logger) *cobra.Command {
	var (
		ids      []int64
		statuses []string
	)

	cmd := &cobra.Command{
		Use:   "requeue",
		Short: "Put questions back into the pending queue",
		Long: `Put questions back into the pending queue with a fresh queued_at.

Select questions with --ids, or with --status when no ids are given.
The debounce delay applies again before they are picked up.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if len(ids) == 0 && len(statuses) == 0 {
				return contextutils.WrapError(contextutils.ErrInvalidInput, "either --ids or --status is required")
			}

			selected := make([]models.CommentaryStatus, 0, len(statuses))
			for _, s := range statuses {
				st := models.CommentaryStatus(s)
				if !st.Valid() {
					return contextutils.WrapErrorf(contextutils.ErrInvalidInput, "unknown status %q", s)
				}
				selected = append(selected, st)
			}

			affected, err := requeuer.Requeue(ctx, ids, selected)
			if err != nil {
				return err
			}
			logger.Info(ctx, "Questions requeued", map[string]interface{}{"requeued": affected})
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Requeued %d questions\n", affected)
			return err
		},
	}

	cmd.Flags().Int64SliceVar(&ids, "ids", nil, "Question ids to requeue")
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Requeue every question in these statuses (e.g. failed,completed)")

	return cmd
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
