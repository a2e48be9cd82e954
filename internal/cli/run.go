package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/shaiso/meshflow/internal/domain"
	"github.com/shaiso/meshflow/internal/engine"
)

// pollInterval — период опроса run при --wait.
const pollInterval = 500 * time.Millisecond

// NewRunCmd создаёт группу команд для управления runs.
func NewRunCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Manage runs",
	}

	cmd.AddCommand(
		newRunListCmd(clientFn, outputFn),
		newRunStartCmd(clientFn, outputFn),
		newRunShowCmd(clientFn, outputFn),
		newRunRetryCmd(clientFn, outputFn),
		newRunCancelCmd(clientFn, outputFn),
		newRunWatchCmd(clientFn, outputFn),
	)

	return cmd
}

func newRunListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			if !all {
				ids, err := client.ListActiveRuns()
				if err != nil {
					return err
				}
				rows := make([][]string, len(ids))
				for i, id := range ids {
					rows[i] = []string{id.String()}
				}
				out.Print([]string{"RUN_ID"}, rows, ids)
				return nil
			}

			runs, err := client.ListRuns()
			if err != nil {
				return err
			}

			headers := []string{"RUN_ID", "GOAL", "STATUS", "ATTEMPT", "STEPS", "FAILED", "CREATED"}
			rows := make([][]string, len(runs))
			for i, r := range runs {
				rows[i] = []string{
					r.RunID.String(),
					truncate(r.Goal, 40),
					string(r.Status),
					fmt.Sprint(r.Attempt),
					fmt.Sprint(r.Steps),
					fmt.Sprint(r.Failed),
					formatTime(&r.CreatedAt),
				}
			}

			out.Print(headers, rows, runs)
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Show all runs held by the server, not only active ones")

	return cmd
}

func newRunStartCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var opts domain.RunOptions
	var timeout time.Duration
	var wait bool

	cmd := &cobra.Command{
		Use:   "start FILE",
		Short: "Start a run from a plan file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			// план проверяется локально, чтобы не отправлять заведомо невалидный
			plan, _, err := engine.LoadPlanFile(args[0])
			if err != nil {
				return err
			}

			if timeout > 0 {
				opts.DefaultStepTimeoutMs = int(timeout.Milliseconds())
			}

			created, err := client.StartRun(CreateRunRequest{
				Plan: domain.PlanDraft{
					PlanID:    plan.PlanID,
					Goal:      plan.Goal,
					CreatedAt: plan.CreatedAt,
					Steps:     plan.Steps,
				},
				Options: opts,
			})
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Run started: %s", created.RunID))
			if !wait {
				out.Print(
					[]string{"RUN_ID", "PLAN_ID", "STATUS"},
					[][]string{{created.RunID.String(), created.PlanID, string(created.Status)}},
					created,
				)
				return nil
			}

			snap, err := client.WaitRun(cmd.Context(), created.RunID.String(), pollInterval)
			if err != nil {
				return err
			}
			out.RunSnapshot(snap)
			return finishedError(snap)
		},
	}

	cmd.Flags().BoolVar(&opts.ContinueOnError, "continue-on-error", false, "Keep running independent branches after a failure")
	cmd.Flags().IntVar(&opts.MaxParallel, "max-parallel", 0, "Maximum concurrent steps (server default if 0)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Default step timeout, e.g. 30s (server default if 0)")
	cmd.Flags().StringVar(&opts.Lane, "lane", "", "Lane key passed to the executor")
	cmd.Flags().StringVar(&opts.Thinking, "thinking", "", "Default thinking level for steps")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for the run to finish and print the result")

	return cmd
}

func newRunShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show run details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := clientFn().GetRun(args[0])
			if err != nil {
				return err
			}
			outputFn().RunSnapshot(snap)
			return nil
		},
	}
}

func newRunRetryCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var steps []string

	cmd := &cobra.Command{
		Use:   "retry ID",
		Short: "Retry failed or skipped steps of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			snap, err := clientFn().RetryRun(args[0], steps)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Run retried: %s (attempt %d)", snap.RunID, snap.Attempt))
			out.RunSnapshot(snap)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&steps, "step", nil, "Step ID to retry (repeatable, all failed/skipped if omitted)")

	return cmd
}

func newRunCancelCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel ID",
		Short: "Cancel a running run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := clientFn().CancelRun(args[0])
			if err != nil {
				return err
			}

			outputFn().Success(fmt.Sprintf("Run cancel requested: %s (%s)", snap.RunID, snap.Status))
			return nil
		},
	}
}

func newRunWatchCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "watch ID",
		Short: "Stream run events until the run finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			var last *domain.RunSnapshot
			err := clientFn().WatchRun(cmd.Context(), args[0], func(ev domain.Event) error {
				if ev.Snapshot != nil {
					last = ev.Snapshot
				}
				if out.JSONMode() {
					out.JSON(ev)
					return nil
				}
				out.Line("%s", formatEvent(ev))
				return nil
			})
			if err != nil {
				return err
			}
			if last != nil && last.IsFinished() {
				return finishedError(last)
			}
			return nil
		},
	}
}

// formatEvent — однострочное представление события для watch.
func formatEvent(ev domain.Event) string {
	ts := ev.Timestamp.Local().Format(time.TimeOnly)
	if ev.StepID == "" {
		return fmt.Sprintf("%s  %-14s  run %s", ts, ev.Type, ev.RunStatus)
	}

	line := fmt.Sprintf("%s  %-14s  step %s %s", ts, ev.Type, ev.StepID, ev.StepState)
	if ev.Result != nil && ev.Result.Reason != "" {
		line += fmt.Sprintf(" (%s)", ev.Result.Reason)
	}
	return line
}

// finishedError превращает неуспешный итог run в ненулевой код выхода.
func finishedError(snap *domain.RunSnapshot) error {
	if snap.Status == domain.RunStatusCompleted {
		return nil
	}
	return fmt.Errorf("run %s finished with status %s", snap.RunID, snap.Status)
}
