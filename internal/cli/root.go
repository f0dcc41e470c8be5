package cli

import (
	"context"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "loopkeeper",
	Short: "Persistent multi-phase work loop for coding agents",
	Long: `loopkeeper keeps an interactive coding agent working on one request across
turns. It persists a planning -> execution -> review -> assess loop per project
directory and answers the agent host's stop hook with the next instruction
until the loop completes, fails, or is cancelled.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(transitionCmd)
	rootCmd.AddCommand(nextIterationCmd)
	rootCmd.AddCommand(learnCmd)
	rootCmd.AddCommand(issueCmd)
	rootCmd.AddCommand(noteCmd)
	rootCmd.AddCommand(linkCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(notifyCmd)
	rootCmd.AddCommand(hookCmd)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to config file (default: <dir>/.omc/loopkeeper.yaml)")
	rootCmd.PersistentFlags().StringP("dir", "C", "", "Project directory (default: nearest parent containing .omc, else the working directory)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error); overrides log.level")
	rootCmd.PersistentFlags().String("session", "", "Session id that owns the loop (default: $LOOPKEEPER_SESSION_ID)")
}

// Execute runs the root command
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}
