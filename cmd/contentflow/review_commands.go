package main

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"contentflow/internal/ipc"
	"contentflow/internal/pipeline"
)

func newReviewCommand(ctx *commandContext) *cobra.Command {
	var reviewer string
	reviewCmd := &cobra.Command{
		Use:   "review",
		Short: "Approve or reject insights and posts",
	}
	reviewCmd.PersistentFlags().StringVar(&reviewer, "reviewer", "", "Reviewer name (defaults to $USER)")

	reviewCmd.AddCommand(newReviewDecisionCommand(ctx, pipeline.DecisionApprove, &reviewer))
	reviewCmd.AddCommand(newReviewDecisionCommand(ctx, pipeline.DecisionReject, &reviewer))
	reviewCmd.AddCommand(newReviewAllCommand(ctx, &reviewer))
	return reviewCmd
}

func newReviewDecisionCommand(ctx *commandContext, decision pipeline.Decision, reviewer *string) *cobra.Command {
	return &cobra.Command{
		Use:   string(decision) + " <run-id> <entity-id>",
		Short: strings.ToUpper(string(decision[:1])) + string(decision[1:]) + " one insight or post",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Review(ipc.ReviewRequest{
					RunID:    args[0],
					EntityID: args[1],
					Decision: string(decision),
					Reviewer: reviewerName(*reviewer),
				})
				if err != nil {
					return err
				}
				return ctx.printRun(cmd, resp)
			})
		},
	}
}

func newReviewAllCommand(ctx *commandContext, reviewer *string) *cobra.Command {
	var kind string
	var reject bool
	cmd := &cobra.Command{
		Use:   "all <run-id>",
		Short: "Decide every entity awaiting review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			decision := pipeline.DecisionApprove
			if reject {
				decision = pipeline.DecisionReject
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.ReviewAll(ipc.ReviewAllRequest{
					RunID:    args[0],
					Kind:     kind,
					Decision: string(decision),
					Reviewer: reviewerName(*reviewer),
				})
				if err != nil {
					return err
				}
				return ctx.printRun(cmd, resp)
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "insight or post (defaults to the kind under review)")
	cmd.Flags().BoolVar(&reject, "reject", false, "Reject instead of approve")
	return cmd
}

func reviewerName(flag string) string {
	if name := strings.TrimSpace(flag); name != "" {
		return name
	}
	return os.Getenv("USER")
}
