// Package state defines the persisted autopilot instance and the store that
// reads and writes it.
//
// One JSON document exists per workflow family per project directory. Writes
// go through fsutil.AtomicWriteJSON, so a reader sees either the previous
// complete document or the new one. Reads decode strictly: a document missing
// a required field or carrying an out-of-range value is rejected as a whole
// (ErrInvalid), never returned half-populated.
package state

import (
	"slices"
	"time"

	"github.com/iambrandonn/loopkeeper/internal/phase"
)

// SchemaVersion is written into every document. Documents without the field
// predate versioning and are read as version 1; documents from a newer
// binary are rejected rather than guessed at.
const SchemaVersion = 1

// Record tracks one phase's progress within the current iteration.
type Record struct {
	Status      phase.Status `json:"status"`
	StartedAt   *time.Time   `json:"startedAt,omitempty"`
	CompletedAt *time.Time   `json:"completedAt,omitempty"`
}

// Instance is one run of the autopilot loop for a project directory.
type Instance struct {
	SchemaVersion  int                    `json:"schemaVersion"`
	Active         bool                   `json:"active"`
	Iteration      int                    `json:"iteration"`
	MaxIterations  int                    `json:"maxIterations"`
	Phase          phase.Phase            `json:"phase"`
	Prompt         string                 `json:"prompt"`
	StartedAt      time.Time              `json:"startedAt"`
	CompletedAt    *time.Time             `json:"completedAt,omitempty"`
	SessionID      string                 `json:"sessionId,omitempty"`
	ProjectPath    string                 `json:"projectPath,omitempty"`
	NotesHandle    string                 `json:"notesHandle"`
	Phases         map[phase.Phase]Record `json:"phases"`
	Learnings      []string               `json:"learnings"`
	Issues         []string               `json:"issues"`
	LinkedSubmodes []string               `json:"linkedSubmodes"`
}

// NewInstance builds an active instance whose entry phase is already in
// progress. Every other phase starts pending.
func NewInstance(prompt, notesHandle string, maxIterations int, entry phase.Phase, now time.Time) *Instance {
	inst := &Instance{
		SchemaVersion:  SchemaVersion,
		Active:         true,
		Iteration:      1,
		MaxIterations:  maxIterations,
		Phase:          entry,
		Prompt:         prompt,
		StartedAt:      now,
		NotesHandle:    notesHandle,
		Learnings:      []string{},
		Issues:         []string{},
		LinkedSubmodes: []string{},
	}
	inst.ResetPhases()
	inst.startPhase(entry, now)
	return inst
}

// ResetPhases sets every phase record back to pending.
func (i *Instance) ResetPhases() {
	i.Phases = make(map[phase.Phase]Record, len(phase.All()))
	for _, p := range phase.All() {
		i.Phases[p] = Record{Status: phase.StatusPending}
	}
}

// Advance completes the current phase and starts next. The caller is
// responsible for checking the edge against the phase graph. Entering a
// terminal phase deactivates the instance.
func (i *Instance) Advance(next phase.Phase, now time.Time) {
	cur := i.Phases[i.Phase]
	cur.Status = phase.StatusComplete
	cur.CompletedAt = timePtr(now)
	i.Phases[i.Phase] = cur

	i.startPhase(next, now)
	if next.IsTerminal() {
		i.finish(next, now)
	}
}

// Fail moves the instance straight to the failed phase. The current phase is
// marked failed rather than complete since its work did not succeed.
func (i *Instance) Fail(now time.Time) {
	cur := i.Phases[i.Phase]
	cur.Status = phase.StatusFailed
	cur.CompletedAt = timePtr(now)
	i.Phases[i.Phase] = cur

	i.startPhase(phase.Failed, now)
	i.finish(phase.Failed, now)
}

// RestartIteration bumps the iteration counter and begins planning again.
func (i *Instance) RestartIteration(now time.Time) {
	i.Iteration++
	i.ResetPhases()
	i.startPhase(phase.Planning, now)
	i.LinkedSubmodes = []string{}
}

// LinkSubmode adds name to the delegated sub-mode set, keeping it sorted.
func (i *Instance) LinkSubmode(name string) bool {
	if slices.Contains(i.LinkedSubmodes, name) {
		return false
	}
	i.LinkedSubmodes = append(i.LinkedSubmodes, name)
	slices.Sort(i.LinkedSubmodes)
	return true
}

// InProgress returns the phases currently marked in progress.
func (i *Instance) InProgress() []phase.Phase {
	var out []phase.Phase
	for _, p := range phase.All() {
		if i.Phases[p].Status == phase.StatusInProgress {
			out = append(out, p)
		}
	}
	return out
}

// Age is the time elapsed since the instance started.
func (i *Instance) Age(now time.Time) time.Duration {
	return now.Sub(i.StartedAt)
}

// Clone returns a deep copy, so a failed write can discard mutations.
func (i *Instance) Clone() *Instance {
	c := *i
	c.CompletedAt = clonePtr(i.CompletedAt)
	c.Phases = make(map[phase.Phase]Record, len(i.Phases))
	for p, r := range i.Phases {
		c.Phases[p] = Record{Status: r.Status, StartedAt: clonePtr(r.StartedAt), CompletedAt: clonePtr(r.CompletedAt)}
	}
	c.Learnings = slices.Clone(i.Learnings)
	c.Issues = slices.Clone(i.Issues)
	c.LinkedSubmodes = slices.Clone(i.LinkedSubmodes)
	return &c
}

func (i *Instance) startPhase(p phase.Phase, now time.Time) {
	i.Phase = p
	i.Phases[p] = Record{Status: phase.StatusInProgress, StartedAt: timePtr(now)}
}

func (i *Instance) finish(terminal phase.Phase, now time.Time) {
	rec := i.Phases[terminal]
	if terminal == phase.Failed {
		rec.Status = phase.StatusFailed
	} else {
		rec.Status = phase.StatusComplete
	}
	rec.CompletedAt = timePtr(now)
	i.Phases[terminal] = rec

	i.Active = false
	i.CompletedAt = timePtr(now)
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func clonePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
