package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/iambrandonn/loopkeeper/internal/journal"
	"github.com/iambrandonn/loopkeeper/internal/phase"
	"github.com/iambrandonn/loopkeeper/internal/state"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the loop's persisted state",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the lifecycle journal for the project",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func init() {
	statusCmd.Flags().Bool("json", false, "Print the raw state document")
	historyCmd.Flags().IntP("limit", "n", 0, "Show only the most recent entries")
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd, "")
	if err != nil {
		return err
	}
	inst, err := a.ctl.Status(a.dir)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	asJSON, err := cmd.Flags().GetBool("json")
	if err != nil {
		return err
	}
	if asJSON {
		data, err := json.MarshalIndent(inst, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal state: %w", err)
		}
		fmt.Fprintln(out, string(data))
		return nil
	}

	printInstance(out, inst)
	for _, p := range phase.All() {
		fmt.Fprintf(out, "  %-10s %s\n", p, inst.Phases[p].Status)
	}
	if len(inst.LinkedSubmodes) > 0 {
		fmt.Fprintf(out, "Linked:     %s\n", strings.Join(inst.LinkedSubmodes, ", "))
	}
	printList(out, "Learnings", inst.Learnings)
	printList(out, "Issues", inst.Issues)
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd, "")
	if err != nil {
		return err
	}
	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return err
	}

	entries, err := journal.ReadAll(journal.Path(a.dir, state.DefaultWorkflow), a.logger)
	if err != nil {
		return err
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}

	out := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintln(out, "No history")
		return nil
	}
	for _, e := range entries {
		fmt.Fprintf(out, "%s  %-10s", e.At.Local().Format(time.DateTime), e.Kind)
		switch {
		case e.From != "" && e.To != "":
			fmt.Fprintf(out, " %s -> %s", e.From, e.To)
		case e.To != "":
			fmt.Fprintf(out, " -> %s", e.To)
		case e.From != "":
			fmt.Fprintf(out, " at %s", e.From)
		}
		if e.Iteration > 0 {
			fmt.Fprintf(out, " (iteration %d)", e.Iteration)
		}
		if e.Detail != "" {
			fmt.Fprintf(out, " %s", e.Detail)
		}
		fmt.Fprintln(out)
	}
	return nil
}

func printInstance(w io.Writer, inst *state.Instance) {
	status := "active"
	switch {
	case inst.Phase.IsTerminal():
		status = "finished"
	case !inst.Active:
		status = "paused"
	}
	fmt.Fprintf(w, "Phase:      %s (%s)\n", inst.Phase, status)
	fmt.Fprintf(w, "Iteration:  %d/%d\n", inst.Iteration, inst.MaxIterations)
	fmt.Fprintf(w, "Started:    %s\n", inst.StartedAt.Local().Format(time.DateTime))
	fmt.Fprintf(w, "Notes:      %s\n", inst.NotesHandle)
	fmt.Fprintf(w, "Prompt:     %s\n", firstLine(inst.Prompt, 72))
}

func printList(w io.Writer, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(w, "%s:\n", title)
	for _, item := range items {
		fmt.Fprintf(w, "  - %s\n", firstLine(item, 100))
	}
}

func firstLine(s string, limit int) string {
	line, _, cut := strings.Cut(s, "\n")
	runes := []rune(line)
	if len(runes) > limit {
		return string(runes[:limit-3]) + "..."
	}
	if cut {
		return line + " ..."
	}
	return line
}
