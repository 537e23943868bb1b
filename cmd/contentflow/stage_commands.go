package main

import (
	"strings"

	"github.com/spf13/cobra"

	"contentflow/internal/ipc"
)

func newStageCommand(ctx *commandContext) *cobra.Command {
	stageCmd := &cobra.Command{
		Use:   "stage",
		Short: "Report results of externally executed stage work",
	}
	stageCmd.AddCommand(newStageSucceedCommand(ctx))
	stageCmd.AddCommand(newStageFailCommand(ctx))
	stageCmd.AddCommand(newStageProgressCommand(ctx))
	return stageCmd
}

func newStageSucceedCommand(ctx *commandContext) *cobra.Command {
	var outputs []string
	var source string
	cmd := &cobra.Command{
		Use:   "succeed <run-id> <stage>",
		Short: "Report a stage (or one entity of it) as succeeded",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.ReportStage(ipc.StageReportRequest{
					RunID:     args[0],
					Stage:     args[1],
					Succeeded: true,
					OutputIDs: outputs,
					SourceID:  strings.TrimSpace(source),
				})
				if err != nil {
					return err
				}
				return ctx.printRun(cmd, resp)
			})
		},
	}
	cmd.Flags().StringSliceVarP(&outputs, "output", "o", nil, "Produced insight, post, or schedule id (repeatable)")
	cmd.Flags().StringVar(&source, "source", "", "Insight the result belongs to (generate stage)")
	return cmd
}

func newStageFailCommand(ctx *commandContext) *cobra.Command {
	var source, message string
	cmd := &cobra.Command{
		Use:   "fail <run-id> <stage>",
		Short: "Report a stage (or one entity of it) as failed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.ReportStage(ipc.StageReportRequest{
					RunID:    args[0],
					Stage:    args[1],
					SourceID: strings.TrimSpace(source),
					Error:    message,
				})
				if err != nil {
					return err
				}
				return ctx.printRun(cmd, resp)
			})
		},
	}
	cmd.Flags().StringVarP(&message, "error", "e", "", "Failure detail")
	cmd.Flags().StringVar(&source, "source", "", "Insight the failure belongs to (generate stage)")
	return cmd
}

func newStageProgressCommand(ctx *commandContext) *cobra.Command {
	var percent int
	var message string
	cmd := &cobra.Command{
		Use:   "progress <run-id>",
		Short: "Report intra-stage progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Progress(ipc.ProgressRequest{RunID: args[0], Percent: percent, Message: message})
				if err != nil {
					return err
				}
				return ctx.printRun(cmd, resp)
			})
		},
	}
	cmd.Flags().IntVarP(&percent, "percent", "p", 0, "Stage completion percent (0-100)")
	cmd.Flags().StringVarP(&message, "message", "m", "", "Progress message")
	return cmd
}
