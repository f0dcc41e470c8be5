package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/iambrandonn/loopkeeper/internal/hook"
	"github.com/iambrandonn/loopkeeper/internal/lifecycle"
	"github.com/iambrandonn/loopkeeper/internal/loop"
	"github.com/iambrandonn/loopkeeper/internal/notify"
	"github.com/iambrandonn/loopkeeper/internal/phase"
)

var hookCmd = &cobra.Command{
	Use:   "hook",
	Short: "Agent host hook entry points (JSON on stdin, JSON on stdout)",
}

var hookStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Decide whether the agent may stop",
	Args:  cobra.NoArgs,
	RunE:  runHookStop,
}

var hookSessionStartCmd = &cobra.Command{
	Use:   "session-start",
	Short: "Offer to resume a paused loop",
	Args:  cobra.NoArgs,
	RunE:  runHookSessionStart,
}

var hookSessionEndCmd = &cobra.Command{
	Use:   "session-end",
	Short: "Pause the session's loop so it can be resumed later",
	Args:  cobra.NoArgs,
	RunE:  runHookSessionEnd,
}

func init() {
	hookCmd.AddCommand(hookStopCmd)
	hookCmd.AddCommand(hookSessionStartCmd)
	hookCmd.AddCommand(hookSessionEndCmd)
}

// hookApp reads the event and wires an app for its working directory. When
// either step fails the hook still answers, letting the agent stop.
func hookApp(cmd *cobra.Command) (*app, *hook.Input, bool) {
	in, err := hook.ReadInput(cmd.InOrStdin())
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "loopkeeper: %v\n", err)
		_ = hook.Write(cmd.OutOrStdout(), hook.Allow(""), nil)
		return nil, nil, false
	}
	a, err := loadApp(cmd, in.Cwd)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "loopkeeper: %v\n", err)
		_ = hook.Write(cmd.OutOrStdout(), hook.Allow(""), nil)
		return nil, nil, false
	}
	if in.SessionID == "" {
		in.SessionID = a.session
	}
	return a, in, true
}

func runHookStop(cmd *cobra.Command, args []string) error {
	a, in, ok := hookApp(cmd)
	if !ok {
		return nil
	}
	a.logger.Debug("stop hook", "session_id", in.SessionID, "dir", a.dir, "stop_hook_active", in.StopHookActive)

	dec, err := a.driver.OnStopEvent(cmd.Context(), in.SessionID, a.dir)
	if err != nil {
		a.logger.Error("stop hook failed", "error", err)
		return hook.Write(cmd.OutOrStdout(), hook.Allow(fmt.Sprintf("loopkeeper: %v", err)), a.logger)
	}
	if dec != nil && !dec.Block {
		a.notifier.Notify(cmd.Context(), stopEvent(a, dec))
	}
	return hook.Write(cmd.OutOrStdout(), hook.FromDecision(dec), a.logger)
}

func stopEvent(a *app, dec *loop.Decision) notify.Event {
	msg := "autopilot complete"
	if dec.Outcome == phase.Failed {
		msg = "autopilot failed"
	}
	return notify.Event{
		Type:          notify.SessionStop,
		SessionID:     dec.SessionID,
		ProjectPath:   a.dir,
		Message:       msg,
		Phase:         string(dec.Outcome),
		Iteration:     dec.Iteration,
		MaxIterations: dec.MaxIterations,
	}
}

func runHookSessionStart(cmd *cobra.Command, args []string) error {
	a, _, ok := hookApp(cmd)
	if !ok {
		return nil
	}

	res := a.ctl.CanResume(cmd.Context(), a.dir)
	if !res.CanResume {
		a.logger.Debug("nothing to resume", "reason", res.Reason)
		return hook.Write(cmd.OutOrStdout(), hook.Allow(""), a.logger)
	}
	msg := fmt.Sprintf("A paused autopilot loop is waiting in %s (iteration %d/%d). Run `loopkeeper resume` to continue it or `loopkeeper cancel` to discard it.",
		res.ResumePhase, res.Instance.Iteration, res.Instance.MaxIterations)
	return hook.Write(cmd.OutOrStdout(), hook.Allow(msg), a.logger)
}

func runHookSessionEnd(cmd *cobra.Command, args []string) error {
	a, in, ok := hookApp(cmd)
	if !ok {
		return nil
	}

	inst, err := a.ctl.Pause(cmd.Context(), a.dir, in.SessionID)
	switch {
	case err == nil:
		a.notifier.Notify(cmd.Context(), notify.Event{
			Type:          notify.SessionEnd,
			SessionID:     in.SessionID,
			ProjectPath:   a.dir,
			Message:       "autopilot paused",
			Phase:         string(inst.Phase),
			Iteration:     inst.Iteration,
			MaxIterations: inst.MaxIterations,
		})
	case errors.Is(err, lifecycle.ErrNotFound), errors.Is(err, lifecycle.ErrInactive), errors.Is(err, lifecycle.ErrNotOwner):
		a.logger.Debug("nothing to pause", "reason", err)
	default:
		a.logger.Warn("failed to pause autopilot", "error", err)
	}
	return hook.Write(cmd.OutOrStdout(), hook.Allow(""), a.logger)
}
