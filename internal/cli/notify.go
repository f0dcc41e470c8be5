package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/iambrandonn/loopkeeper/internal/notify"
)

var notifyCmd = &cobra.Command{
	Use:   "notify <event> [message...]",
	Short: "Send a lifecycle event to the configured notification channels",
	Long: `Send an event (session-start, session-stop, session-end, ask-user-question)
to every configured channel. Delivery is best effort; failures are reported
but never change the exit status.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runNotify,
}

func init() {
	notifyCmd.Flags().String("reason", "", "Extra detail appended to the message")
}

func runNotify(cmd *cobra.Command, args []string) error {
	evType, err := notify.ParseEventType(args[0])
	if err != nil {
		return err
	}
	a, err := loadApp(cmd, "")
	if err != nil {
		return err
	}
	reason, err := cmd.Flags().GetString("reason")
	if err != nil {
		return err
	}

	ev := notify.Event{
		Type:        evType,
		SessionID:   a.session,
		ProjectPath: a.dir,
		Message:     strings.Join(args[1:], " "),
		Reason:      reason,
	}
	if ev.Message == "" {
		ev.Message = string(evType)
	}
	if inst, err := a.ctl.Status(a.dir); err == nil {
		ev.Phase = string(inst.Phase)
		ev.Iteration = inst.Iteration
		ev.MaxIterations = inst.MaxIterations
	}

	out := cmd.OutOrStdout()
	if a.notifier.Channels() == 0 {
		fmt.Fprintln(out, "No notification channels configured")
		return nil
	}
	for _, r := range a.notifier.Notify(cmd.Context(), ev) {
		if r.Success {
			fmt.Fprintf(out, "%-8s ok\n", r.Channel)
		} else {
			fmt.Fprintf(out, "%-8s failed: %s\n", r.Channel, r.Error)
		}
	}
	return nil
}
