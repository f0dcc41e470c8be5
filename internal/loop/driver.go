// Package loop turns the persisted autopilot instance into the stop hook's
// verdict. Every call re-derives its instructions from disk, so the loop
// survives restarts with nothing held in memory.
package loop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/iambrandonn/loopkeeper/internal/lifecycle"
	"github.com/iambrandonn/loopkeeper/internal/notepad"
	"github.com/iambrandonn/loopkeeper/internal/phase"
	"github.com/iambrandonn/loopkeeper/internal/state"
)

// Context rendering bounds.
const (
	MaxWisdomEntries     = 5
	MaxWisdomEntryLength = 300
)

// Decision tells the host whether the agent may stop.
type Decision struct {
	Block         bool
	Reason        string
	Summary       string
	Outcome       phase.Phase
	Iteration     int
	MaxIterations int
	SessionID     string
}

// Driver answers stop events for one workflow.
type Driver struct {
	ctl    *lifecycle.Controller
	logger *slog.Logger
	now    func() time.Time
}

// NewDriver returns a Driver backed by ctl.
func NewDriver(ctl *lifecycle.Controller, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{ctl: ctl, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// OnStopEvent decides what happens when the agent tries to stop in dir.
// It returns nil when there is nothing to drive: no instance, a paused one,
// or one owned by another session. A finished instance is consumed and its
// summary returned with Block unset. Anything else blocks with the next
// instruction.
func (d *Driver) OnStopEvent(ctx context.Context, sessionID, dir string) (*Decision, error) {
	inst, err := d.ctl.Status(dir)
	if err != nil {
		if errors.Is(err, lifecycle.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	if sessionID != "" && inst.SessionID != "" && inst.SessionID != sessionID {
		d.logger.Debug("instance owned by another session", "dir", dir, "owner", inst.SessionID)
		return nil, nil
	}

	if inst.Phase.IsTerminal() {
		return d.finish(ctx, sessionID, dir)
	}
	if !inst.Active {
		d.logger.Debug("instance paused", "dir", dir, "phase", inst.Phase)
		return nil, nil
	}

	reason, err := d.continuation(inst, dir)
	if err != nil {
		return nil, err
	}
	d.logger.Info("blocking stop", "dir", dir, "phase", inst.Phase, "iteration", inst.Iteration)
	return &Decision{
		Block:         true,
		Reason:        reason,
		Outcome:       inst.Phase,
		Iteration:     inst.Iteration,
		MaxIterations: inst.MaxIterations,
		SessionID:     inst.SessionID,
	}, nil
}

func (d *Driver) finish(ctx context.Context, sessionID, dir string) (*Decision, error) {
	inst, err := d.ctl.Finish(ctx, dir, sessionID)
	if err != nil {
		if errors.Is(err, lifecycle.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	summary, err := renderPhase(inst.Phase, newPromptData(inst, d.now()))
	if err != nil {
		return nil, err
	}
	return &Decision{
		Summary:       summary,
		Outcome:       inst.Phase,
		Iteration:     inst.Iteration,
		MaxIterations: inst.MaxIterations,
		SessionID:     inst.SessionID,
	}, nil
}

func (d *Driver) continuation(inst *state.Instance, dir string) (string, error) {
	instruction, err := renderPhase(inst.Phase, newPromptData(inst, d.now()))
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(strings.TrimRight(instruction, "\n"))

	if wisdom := d.wisdomContext(inst, dir); wisdom != "" {
		b.WriteString("\n\n")
		b.WriteString(wisdom)
	}

	b.WriteString("\n\n")
	b.WriteString(StatusSummary(inst))
	return b.String(), nil
}

// wisdomContext renders the notepad, newest entries first. Notepad failures
// only cost the context block.
func (d *Driver) wisdomContext(inst *state.Instance, dir string) string {
	w, err := d.ctl.Notes().Read(inst.NotesHandle, dir)
	if err != nil {
		d.logger.Warn("failed to read notepad", "handle", inst.NotesHandle, "error", err)
		return ""
	}
	if w.Empty() {
		return ""
	}

	var b strings.Builder
	b.WriteString("## Accumulated context")
	for _, c := range notepad.Categories {
		entries := w.Get(c)
		if len(entries) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n\n### %s\n", strings.ToUpper(string(c[:1]))+string(c[1:]))
		shown := 0
		for i := len(entries) - 1; i >= 0 && shown < MaxWisdomEntries; i-- {
			text := lifecycle.Truncate(strings.ReplaceAll(entries[i].Text, "\n", " "), MaxWisdomEntryLength)
			fmt.Fprintf(&b, "- %s\n", text)
			shown++
		}
		if hidden := len(entries) - shown; hidden > 0 {
			fmt.Fprintf(&b, "- (%d older)\n", hidden)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// StatusSummary is a compact, one-line-per-fact view of inst.
func StatusSummary(inst *state.Instance) string {
	var b strings.Builder
	b.WriteString("## Status\n")
	fmt.Fprintf(&b, "- Phase: %s\n", inst.Phase)
	fmt.Fprintf(&b, "- Iteration: %d/%d\n", inst.Iteration, inst.MaxIterations)

	var done []string
	for _, p := range phase.All() {
		if inst.Phases[p].Status == phase.StatusComplete {
			done = append(done, string(p))
		}
	}
	if len(done) > 0 {
		fmt.Fprintf(&b, "- Completed this iteration: %s\n", strings.Join(done, ", "))
	}
	if len(inst.LinkedSubmodes) > 0 {
		fmt.Fprintf(&b, "- Linked sub-modes: %s\n", strings.Join(inst.LinkedSubmodes, ", "))
	}
	fmt.Fprintf(&b, "- Learnings: %d, issues: %d", len(inst.Learnings), len(inst.Issues))
	return b.String()
}
