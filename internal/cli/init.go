package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/iambrandonn/loopkeeper/internal/config"
	"github.com/iambrandonn/loopkeeper/internal/fsutil"
	"github.com/iambrandonn/loopkeeper/internal/workspace"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the .omc layout and a default config in the project",
	Args:  cobra.NoArgs,
	RunE:  runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	dir, err := resolveDir(cmd, "")
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if err := workspace.Initialize(dir); err != nil {
		return err
	}
	fmt.Fprintf(out, "Initialized %s\n", dir)

	path := workspace.ConfigPath(dir)
	if fsutil.Exists(path) {
		fmt.Fprintf(out, "Config already exists: %s\n", path)
		return nil
	}
	if err := config.GenerateDefault().SaveToFile(path); err != nil {
		return err
	}
	fmt.Fprintf(out, "Wrote default config: %s\n", path)
	return nil
}
