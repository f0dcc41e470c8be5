package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/iambrandonn/loopkeeper/internal/lifecycle"
	"github.com/iambrandonn/loopkeeper/internal/notify"
	"github.com/iambrandonn/loopkeeper/internal/phase"
	"github.com/iambrandonn/loopkeeper/internal/state"
)

var startCmd = &cobra.Command{
	Use:   "start <prompt...>",
	Short: "Start a new autopilot loop for the project",
	Long: `Start a new autopilot loop. The prompt is the request the loop keeps working
on until it is complete. Starting fails if another exclusive mode is active in
the project directory.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runStart,
}

var transitionCmd = &cobra.Command{
	Use:       "transition <phase>",
	Short:     "Move the loop to the next phase",
	Args:      cobra.ExactArgs(1),
	ValidArgs: phaseNames(),
	RunE:      runTransition,
}

var nextIterationCmd = &cobra.Command{
	Use:   "next-iteration",
	Short: "Start another attempt from planning, or fail at the iteration limit",
	Args:  cobra.NoArgs,
	RunE:  runNextIteration,
}

var linkCmd = &cobra.Command{
	Use:   "link <sub-mode>",
	Short: "Record a helper mode the loop delegated work to",
	Args:  cobra.ExactArgs(1),
	RunE:  runLink,
}

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Deactivate the loop so a later session can resume it",
	Args:  cobra.NoArgs,
	RunE:  runPause,
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume a paused loop",
	Long: `Resume a paused loop in this session. With --check only report whether the
loop can be resumed. Paused loops older than loop.stale_state_max_age are
discarded instead.`,
	Args: cobra.NoArgs,
	RunE: runResume,
}

var cancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Stop the loop and delete its state",
	Args:  cobra.NoArgs,
	RunE:  runCancel,
}

func init() {
	startCmd.Flags().IntP("max-iterations", "n", 0, "Iteration limit (default: loop.max_iterations)")
	startCmd.Flags().Bool("skip-planning", false, "Begin in execution instead of planning")

	resumeCmd.Flags().Bool("check", false, "Only report whether the loop can be resumed")

	cancelCmd.Flags().BoolP("force", "f", false, "Also remove user-scoped sub-mode state owned by other sessions")
}

func phaseNames() []string {
	var names []string
	for _, p := range phase.All() {
		names = append(names, p.String())
	}
	return names
}

func runStart(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd, "")
	if err != nil {
		return err
	}

	maxIterations, err := cmd.Flags().GetInt("max-iterations")
	if err != nil {
		return err
	}
	skipPlanning, err := cmd.Flags().GetBool("skip-planning")
	if err != nil {
		return err
	}

	inst, err := a.ctl.Start(cmd.Context(), a.dir, strings.Join(args, " "), lifecycle.StartOptions{
		SessionID:     a.session,
		MaxIterations: maxIterations,
		SkipPlanning:  skipPlanning,
	})
	if err != nil {
		return err
	}

	a.notifier.Notify(cmd.Context(), notify.Event{
		Type:          notify.SessionStart,
		SessionID:     inst.SessionID,
		ProjectPath:   inst.ProjectPath,
		Message:       "autopilot started",
		Phase:         string(inst.Phase),
		Iteration:     inst.Iteration,
		MaxIterations: inst.MaxIterations,
	})

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Autopilot started in %s\n", a.dir)
	printInstance(out, inst)
	return nil
}

func runTransition(cmd *cobra.Command, args []string) error {
	target, err := phase.Parse(args[0])
	if err != nil {
		return err
	}
	a, err := loadApp(cmd, "")
	if err != nil {
		return err
	}

	inst, err := a.ctl.Transition(cmd.Context(), a.dir, target)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Phase: %s (iteration %d/%d)\n", inst.Phase, inst.Iteration, inst.MaxIterations)
	return nil
}

func runNextIteration(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd, "")
	if err != nil {
		return err
	}

	inst, err := a.ctl.IncrementIteration(cmd.Context(), a.dir, a.session)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if inst.Phase == phase.Failed {
		fmt.Fprintf(out, "Iteration limit reached (%d/%d): autopilot failed\n", inst.Iteration, inst.MaxIterations)
		return nil
	}
	fmt.Fprintf(out, "Iteration %d/%d started in planning\n", inst.Iteration, inst.MaxIterations)
	return nil
}

func runLink(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd, "")
	if err != nil {
		return err
	}
	inst, err := a.ctl.LinkSubmode(cmd.Context(), a.dir, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Linked sub-modes: %s\n", strings.Join(inst.LinkedSubmodes, ", "))
	return nil
}

func runPause(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd, "")
	if err != nil {
		return err
	}
	inst, err := a.ctl.Pause(cmd.Context(), a.dir, a.session)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Autopilot paused in %s (iteration %d/%d)\n", inst.Phase, inst.Iteration, inst.MaxIterations)
	return nil
}

func runResume(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd, "")
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	checkOnly, err := cmd.Flags().GetBool("check")
	if err != nil {
		return err
	}
	if checkOnly {
		res := a.ctl.CanResume(cmd.Context(), a.dir)
		if res.CanResume {
			fmt.Fprintf(out, "Resumable in %s (iteration %d/%d)\n", res.ResumePhase, res.Instance.Iteration, res.Instance.MaxIterations)
			return nil
		}
		fmt.Fprintf(out, "Not resumable: %s\n", res.Reason)
		return nil
	}

	inst, err := a.ctl.Resume(cmd.Context(), a.dir, a.session)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Autopilot resumed\n")
	printInstance(out, inst)
	return nil
}

func runCancel(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd, "")
	if err != nil {
		return err
	}
	force, err := cmd.Flags().GetBool("force")
	if err != nil {
		return err
	}

	var inst *state.Instance
	if cur, err := a.ctl.Status(a.dir); err == nil {
		inst = cur
	}
	if err := a.ctl.Cancel(cmd.Context(), a.dir, a.session, force); err != nil {
		return err
	}

	ev := notify.Event{Type: notify.SessionEnd, SessionID: a.session, Message: "autopilot cancelled"}
	if inst != nil {
		ev.ProjectPath = inst.ProjectPath
		ev.Phase = string(inst.Phase)
		ev.Iteration = inst.Iteration
		ev.MaxIterations = inst.MaxIterations
	}
	a.notifier.Notify(cmd.Context(), ev)

	fmt.Fprintln(cmd.OutOrStdout(), "Autopilot cancelled")
	return nil
}
