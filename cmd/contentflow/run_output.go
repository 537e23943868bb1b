package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"contentflow/internal/api"
)

func runListRows(runs []api.Run) [][]string {
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, []string{
			shortID(r.ID),
			r.TranscriptID,
			r.Template,
			r.Label,
			strconv.Itoa(r.Progress) + "%",
			strconv.Itoa(r.BlockingCount),
			r.CreatedAt,
		})
	}
	return rows
}

func printRunList(out io.Writer, runs []api.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs")
		return
	}
	fmt.Fprint(out, renderTable(
		[]string{"ID", "Transcript", "Template", "State", "Progress", "Blocking", "Created"},
		runListRows(runs),
		rightAligned{4, 5},
	))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// printRunSummary prints the one-line outcome of a lifecycle command.
func printRunSummary(out io.Writer, run api.RunDetail) {
	line := fmt.Sprintf("Run %s: %s (%d%%)", run.ID, run.Label, run.Progress)
	if run.BlockingCount > 0 {
		line += fmt.Sprintf(", %d blocking", run.BlockingCount)
	}
	if run.Reason != "" {
		line += fmt.Sprintf(", reason: %s", run.Reason)
	}
	fmt.Fprintln(out, line)
}

func printRunDetail(out io.Writer, run api.RunDetail) {
	fmt.Fprintf(out, "Run:         %s\n", run.ID)
	fmt.Fprintf(out, "Transcript:  %s\n", run.TranscriptID)
	fmt.Fprintf(out, "Template:    %s\n", run.Template)
	fmt.Fprintf(out, "State:       %s\n", run.Label)
	if run.PausedFrom != "" {
		fmt.Fprintf(out, "Paused from: %s\n", run.PausedFrom)
	}
	progress := fmt.Sprintf("%d%%", run.Progress)
	if run.StageMessage != "" {
		progress += fmt.Sprintf(" (stage %d%%: %s)", run.StagePercent, run.StageMessage)
	}
	fmt.Fprintf(out, "Progress:    %s\n", progress)
	fmt.Fprintf(out, "Insights:    %d approved of %d\n", run.ApprovedInsights, run.Insights)
	fmt.Fprintf(out, "Posts:       %d approved of %d\n", run.ApprovedPosts, run.Posts)
	fmt.Fprintf(out, "Retries:     %d used, %d remaining (retryable: %s)\n", run.RetryCount, run.RetriesRemaining, yesNo(run.Retryable))
	if run.EstimatedCompletion != "" {
		fmt.Fprintf(out, "Estimate:    %s\n", run.EstimatedCompletion)
	}
	if run.DurationSeconds > 0 {
		fmt.Fprintf(out, "Duration:    %s\n", (time.Duration(run.DurationSeconds) * time.Second).String())
	}
	if run.Reason != "" {
		fmt.Fprintf(out, "Reason:      %s\n", run.Reason)
	}
	if run.LastError != "" {
		fmt.Fprintf(out, "Last error:  %s\n", run.LastError)
	}
	if len(run.ScheduleIDs) > 0 {
		fmt.Fprintf(out, "Scheduled:   %s\n", strings.Join(run.ScheduleIDs, ", "))
	}

	if len(run.Steps) > 0 {
		fmt.Fprintln(out)
		rows := make([][]string, 0, len(run.Steps))
		for _, s := range run.Steps {
			duration := ""
			if s.DurationSeconds > 0 {
				duration = strconv.FormatFloat(s.DurationSeconds, 'f', 1, 64) + "s"
			}
			rows = append(rows, []string{s.ID, s.Status, strconv.Itoa(s.RetryCount), duration, s.Error})
		}
		fmt.Fprint(out, renderTable([]string{"Step", "Status", "Retries", "Duration", "Error"}, rows,
			rightAligned{2, 3}))
	}

	if len(run.BlockingItems) > 0 {
		fmt.Fprintln(out)
		rows := make([][]string, 0, len(run.BlockingItems))
		for _, b := range run.BlockingItems {
			rows = append(rows, []string{b.Priority, b.Type, b.EntityID, b.Description})
		}
		fmt.Fprint(out, renderTable([]string{"Priority", "Blocking", "Entity", "Description"}, rows, nil))
	}

	if len(run.Entities) > 0 {
		fmt.Fprintln(out)
		entities := append([]api.Entity(nil), run.Entities...)
		sort.SliceStable(entities, func(i, j int) bool { return entities[i].Kind < entities[j].Kind })
		rows := make([][]string, 0, len(entities))
		for _, e := range entities {
			rows = append(rows, []string{e.ID, e.Kind, e.Status, e.SourceID, e.Reviewer})
		}
		fmt.Fprint(out, renderTable([]string{"Entity", "Kind", "Status", "Source", "Reviewer"}, rows, nil))
	}
}

func printEvents(out io.Writer, events []api.Event) {
	if len(events) == 0 {
		fmt.Fprintln(out, "No events")
		return
	}
	rows := make([][]string, 0, len(events))
	for _, e := range events {
		outcome := "applied"
		if !e.Applied {
			outcome = "rejected"
		}
		rows = append(rows, []string{strconv.FormatInt(e.ID, 10), e.CreatedAt, e.Event, outcome, e.StateAfter, e.Error})
	}
	fmt.Fprint(out, renderTable([]string{"#", "At", "Event", "Outcome", "State", "Error"}, rows,
		rightAligned{0}))
}
