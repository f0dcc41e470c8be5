package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/iambrandonn/loopkeeper/internal/notepad"
)

var learnCmd = &cobra.Command{
	Use:   "learn <text...>",
	Short: "Record a learning for later iterations",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return addNote(cmd, notepad.Learnings, strings.Join(args, " "))
	},
}

var issueCmd = &cobra.Command{
	Use:   "issue <text...>",
	Short: "Record an issue for later iterations",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return addNote(cmd, notepad.Issues, strings.Join(args, " "))
	},
}

var noteCmd = &cobra.Command{
	Use:   "note <learning|decision|issue|problem> <text...>",
	Short: "Record a note in any notepad category",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, err := parseCategory(args[0])
		if err != nil {
			return err
		}
		return addNote(cmd, cat, strings.Join(args[1:], " "))
	},
}

func parseCategory(s string) (notepad.Category, error) {
	switch strings.ToLower(s) {
	case "learning", "learnings":
		return notepad.Learnings, nil
	case "decision", "decisions":
		return notepad.Decisions, nil
	case "issue", "issues":
		return notepad.Issues, nil
	case "problem", "problems":
		return notepad.Problems, nil
	}
	return "", fmt.Errorf("unknown note category %q (want learning, decision, issue or problem)", s)
}

func addNote(cmd *cobra.Command, cat notepad.Category, text string) error {
	a, err := loadApp(cmd, "")
	if err != nil {
		return err
	}

	var add func(context.Context, string, string) (bool, error)
	switch cat {
	case notepad.Learnings:
		add = a.ctl.AddLearning
	case notepad.Decisions:
		add = a.ctl.AddDecision
	case notepad.Issues:
		add = a.ctl.AddIssue
	case notepad.Problems:
		add = a.ctl.AddProblem
	}

	ok, err := add(cmd.Context(), a.dir, text)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("failed to record %s", cat)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Recorded %s\n", strings.TrimSuffix(string(cat), "s"))
	return nil
}
