package state

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/iambrandonn/loopkeeper/internal/phase"
)

// ErrInvalid marks a document that failed decoding or validation.
var ErrInvalid = errors.New("invalid state document")

// requiredFields must be present and non-null in every document.
var requiredFields = []string{
	"active",
	"iteration",
	"maxIterations",
	"phase",
	"prompt",
	"startedAt",
	"notesHandle",
	"phases",
}

// Decode parses data into an Instance, or fails with an error wrapping
// ErrInvalid. No partially populated instance is ever returned.
func Decode(data []byte) (*Instance, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	for _, name := range requiredFields {
		raw, ok := fields[name]
		if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			return nil, fmt.Errorf("%w: missing required field %q", ErrInvalid, name)
		}
	}

	var inst Instance
	if err := json.Unmarshal(data, &inst); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if inst.SchemaVersion == 0 {
		inst.SchemaVersion = 1
	}

	if err := Validate(&inst); err != nil {
		return nil, err
	}
	return &inst, nil
}

// Validate checks the structural rules every stored instance must satisfy.
func Validate(inst *Instance) error {
	if inst == nil {
		return fmt.Errorf("%w: nil instance", ErrInvalid)
	}
	if inst.SchemaVersion < 1 || inst.SchemaVersion > SchemaVersion {
		return fmt.Errorf("%w: unsupported schemaVersion %d (this build reads up to %d)", ErrInvalid, inst.SchemaVersion, SchemaVersion)
	}
	if inst.Iteration < 1 {
		return fmt.Errorf("%w: iteration must be >= 1, got %d", ErrInvalid, inst.Iteration)
	}
	if inst.MaxIterations < 1 {
		return fmt.Errorf("%w: maxIterations must be >= 1, got %d", ErrInvalid, inst.MaxIterations)
	}
	if !inst.Phase.Valid() {
		return fmt.Errorf("%w: unknown phase %q", ErrInvalid, inst.Phase)
	}
	if inst.StartedAt.IsZero() {
		return fmt.Errorf("%w: startedAt is zero", ErrInvalid)
	}
	if inst.NotesHandle == "" {
		return fmt.Errorf("%w: notesHandle is empty", ErrInvalid)
	}

	if len(inst.Phases) != len(phase.All()) {
		return fmt.Errorf("%w: phases must list all %d phases, got %d", ErrInvalid, len(phase.All()), len(inst.Phases))
	}
	for _, p := range phase.All() {
		rec, ok := inst.Phases[p]
		if !ok {
			return fmt.Errorf("%w: phases is missing %q", ErrInvalid, p)
		}
		if !rec.Status.Valid() {
			return fmt.Errorf("%w: phase %q has unknown status %q", ErrInvalid, p, rec.Status)
		}
	}

	if inst.Active {
		if inst.Phase.IsTerminal() {
			return fmt.Errorf("%w: active instance in terminal phase %q", ErrInvalid, inst.Phase)
		}
		if inst.CompletedAt != nil {
			return fmt.Errorf("%w: active instance has completedAt", ErrInvalid)
		}
		if inst.Iteration > inst.MaxIterations {
			return fmt.Errorf("%w: iteration %d exceeds maxIterations %d", ErrInvalid, inst.Iteration, inst.MaxIterations)
		}
		if running := inst.InProgress(); len(running) != 1 || running[0] != inst.Phase {
			return fmt.Errorf("%w: active instance in %q must have exactly that phase in progress, got %v", ErrInvalid, inst.Phase, running)
		}
	}
	if inst.Phase.IsTerminal() && (inst.Active || inst.CompletedAt == nil) {
		return fmt.Errorf("%w: terminal instance must be inactive with completedAt", ErrInvalid)
	}
	return nil
}
