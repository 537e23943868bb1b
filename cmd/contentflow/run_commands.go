package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"contentflow/internal/ipc"
	"contentflow/internal/templates"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Start, inspect, and control pipeline runs",
	}

	runCmd.AddCommand(newRunStartCommand(ctx))
	runCmd.AddCommand(newRunListCommand(ctx))
	runCmd.AddCommand(newRunShowCommand(ctx))
	runCmd.AddCommand(newRunEventsCommand(ctx))
	runCmd.AddCommand(newRunEstimateCommand(ctx))
	runCmd.AddCommand(newRunPruneCommand(ctx))
	runCmd.AddCommand(newRunLifecycleCommand(ctx, "pause", "Pause a run at its current step", (*ipc.Client).Pause))
	runCmd.AddCommand(newRunLifecycleCommand(ctx, "resume", "Resume a paused run", (*ipc.Client).Resume))
	runCmd.AddCommand(newRunLifecycleCommand(ctx, "retry", "Retry a failed or partially completed run", (*ipc.Client).Retry))
	runCmd.AddCommand(newRunLifecycleCommand(ctx, "schedule", "Start scheduling a run that is ready", (*ipc.Client).Schedule))
	runCmd.AddCommand(newRunCancelCommand(ctx))

	return runCmd
}

func newRunStartCommand(ctx *commandContext) *cobra.Command {
	var template string
	var platforms []string
	var autoApprove, skipInsights, skipPosts bool
	var maxRetries, parallelism int

	cmd := &cobra.Command{
		Use:   "start <transcript-id>",
		Short: "Create and start a run for a transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var overrides templates.Settings
			flags := cmd.Flags()
			if flags.Changed("auto-approve") {
				overrides.AutoApprove = templates.Bool(autoApprove)
			}
			if flags.Changed("skip-insight-review") {
				overrides.SkipInsightReview = templates.Bool(skipInsights)
			}
			if flags.Changed("skip-post-review") {
				overrides.SkipPostReview = templates.Bool(skipPosts)
			}
			if flags.Changed("platform") {
				overrides.Platforms = platforms
			}
			if flags.Changed("max-retries") {
				overrides.MaxRetries = templates.Int(maxRetries)
			}
			if flags.Changed("parallelism") {
				overrides.Parallelism = templates.Int(parallelism)
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.StartRun(ipc.RunStartRequest{
					TranscriptID: strings.TrimSpace(args[0]),
					Template:     template,
					Overrides:    overrides,
				})
				if err != nil {
					return err
				}
				return ctx.printRun(cmd, resp)
			})
		},
	}
	cmd.Flags().StringVarP(&template, "template", "t", "", "Template name (defaults to pipeline.default_template)")
	cmd.Flags().StringSliceVar(&platforms, "platform", nil, "Target platform (repeatable)")
	cmd.Flags().BoolVar(&autoApprove, "auto-approve", false, "Approve every insight and post automatically")
	cmd.Flags().BoolVar(&skipInsights, "skip-insight-review", false, "Skip insight review")
	cmd.Flags().BoolVar(&skipPosts, "skip-post-review", false, "Skip post review")
	cmd.Flags().IntVar(&maxRetries, "max-retries", 0, "Override the run retry limit")
	cmd.Flags().IntVar(&parallelism, "parallelism", 0, "Override per-entity stage parallelism")
	return cmd
}

func newRunListCommand(ctx *commandContext) *cobra.Command {
	var req ipc.RunListRequest
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.ListRuns(req)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, resp)
				}
				printRunList(cmd.OutOrStdout(), resp.Runs)
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVarP(&req.States, "state", "s", nil, "Filter by state (repeatable)")
	cmd.Flags().StringVar(&req.TranscriptID, "transcript", "", "Filter by transcript id")
	cmd.Flags().StringVar(&req.Template, "template", "", "Filter by template")
	cmd.Flags().BoolVar(&req.Blocked, "blocked", false, "Only runs with open blocking items")
	cmd.Flags().IntVarP(&req.Limit, "limit", "n", 0, "Maximum number of runs")
	return cmd
}

func newRunShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a run with its steps, blocking items, and entities",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.ShowRun(args[0])
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, resp)
				}
				printRunDetail(cmd.OutOrStdout(), resp.Run)
				return nil
			})
		},
	}
}

func newRunEventsCommand(ctx *commandContext) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "events <run-id>",
		Short: "Show the event journal of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Events(args[0], limit)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, resp)
				}
				printEvents(cmd.OutOrStdout(), resp.Events)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Only the most recent N events")
	return cmd
}

func newRunEstimateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "estimate <run-id>",
		Short: "Project when a run will complete",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Estimate(args[0])
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				if !resp.Estimable {
					fmt.Fprintf(out, "Run %s is not progressing; retry it to get an estimate\n", resp.RunID)
					return nil
				}
				remaining := (time.Duration(resp.RemainingSeconds) * time.Second).Round(time.Second)
				fmt.Fprintf(out, "Estimated completion: %s (in %s)\n", resp.Completion, remaining)
				if resp.SampleSize == 0 {
					fmt.Fprintln(out, "Based on configured defaults; no completed runs yet")
				} else {
					avg := (time.Duration(resp.AverageSeconds) * time.Second).Round(time.Second)
					fmt.Fprintf(out, "Based on %d completed runs (average %s)\n", resp.SampleSize, avg)
				}
				return nil
			})
		},
	}
}

func newRunPruneCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Remove completed and cancelled runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Prune()
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, resp)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d runs\n", resp.Removed)
				return nil
			})
		},
	}
}

func newRunLifecycleCommand(ctx *commandContext, use, short string, call func(*ipc.Client, string) (*ipc.RunResponse, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <run-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := call(client, args[0])
				if err != nil {
					return err
				}
				return ctx.printRun(cmd, resp)
			})
		},
	}
}

func newRunCancelCommand(ctx *commandContext) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "cancel <run-id>",
		Short: "Cancel a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Cancel(args[0], reason)
				if err != nil {
					return err
				}
				return ctx.printRun(cmd, resp)
			})
		},
	}
	cmd.Flags().StringVarP(&reason, "reason", "r", "", "Why the run is cancelled")
	return cmd
}

func (c *commandContext) printRun(cmd *cobra.Command, resp *ipc.RunResponse) error {
	if resp == nil {
		return errors.New("missing run response")
	}
	if c.jsonOutput() {
		return writeJSON(cmd, resp)
	}
	printRunSummary(cmd.OutOrStdout(), resp.Run)
	return nil
}
