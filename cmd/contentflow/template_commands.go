package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"contentflow/internal/ipc"
)

func newTemplateCommand(ctx *commandContext) *cobra.Command {
	templateCmd := &cobra.Command{
		Use:   "template",
		Short: "Inspect run templates",
	}
	templateCmd.AddCommand(newTemplateListCommand(ctx))
	templateCmd.AddCommand(newTemplateRecommendCommand(ctx))
	return templateCmd
}

func newTemplateListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List templates with their resolved options",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Templates()
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, resp)
				}
				rows := make([][]string, 0, len(resp.Templates))
				for _, t := range resp.Templates {
					o := t.Options
					rows = append(rows, []string{
						t.Name,
						yesNo(o.AutoApprove),
						yesNo(!o.SkipInsightReview && !o.AutoApprove),
						yesNo(!o.SkipPostReview && !o.AutoApprove),
						strconv.Itoa(o.MaxRetries),
						strings.Join(o.Platforms, ","),
						t.Description,
					})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"Template", "Auto", "Insight Review", "Post Review", "Retries", "Platforms", "Description"},
					rows,
					rightAligned{4},
				))
				return nil
			})
		},
	}
}

func newTemplateRecommendCommand(ctx *commandContext) *cobra.Command {
	var req ipc.RecommendRequest
	cmd := &cobra.Command{
		Use:   "recommend",
		Short: "Recommend a template for a piece of content",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Recommend(req)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, resp)
				}
				fmt.Fprintln(cmd.OutOrStdout(), resp.Template)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&req.ContentLength, "length", "l", 0, "Content length in characters")
	cmd.Flags().StringVar(&req.SourceType, "source", "", "Source description such as podcast or interview")
	cmd.Flags().StringVar(&req.Urgency, "urgency", "", "low, normal, or high")
	return cmd
}
