// Package testharness drives the compiled loopkeeper binary through scripted
// sessions the way an agent host would: CLI calls from the agent plus hook
// events with JSON on stdin.
package testharness

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/iambrandonn/loopkeeper/internal/config"
	"github.com/iambrandonn/loopkeeper/internal/journal"
	"github.com/iambrandonn/loopkeeper/internal/state"
	"github.com/iambrandonn/loopkeeper/internal/workspace"
)

// Step is one invocation of the binary.
type Step struct {
	Args  []string
	Stdin string
	// WantErr marks steps expected to exit non-zero.
	WantErr bool
}

// Scenario is an ordered session script.
type Scenario struct {
	Name      string
	SessionID string
	Steps     []Step
}

func hookEvent(name, session string) string {
	return fmt.Sprintf(`{"hook_event_name":%q,"session_id":%q}`, name, session)
}

var (
	// ScenarioFullRun walks every phase once and lets the stop hook consume
	// the completed instance.
	ScenarioFullRun = Scenario{
		Name:      "full-run",
		SessionID: "smoke-full",
		Steps: []Step{
			{Args: []string{"start", "build", "the", "thing"}},
			{Args: []string{"hook", "stop"}, Stdin: hookEvent("Stop", "smoke-full")},
			{Args: []string{"transition", "execution"}},
			{Args: []string{"learn", "the build needs CGO disabled"}},
			{Args: []string{"transition", "review"}},
			{Args: []string{"transition", "assess"}},
			{Args: []string{"transition", "complete"}},
			{Args: []string{"hook", "stop"}, Stdin: hookEvent("Stop", "smoke-full")},
		},
	}
	// ScenarioCeiling exhausts a one-iteration budget.
	ScenarioCeiling = Scenario{
		Name:      "iteration-ceiling",
		SessionID: "smoke-ceiling",
		Steps: []Step{
			{Args: []string{"start", "--max-iterations", "1", "fix", "it"}},
			{Args: []string{"transition", "execution"}},
			{Args: []string{"next-iteration"}},
			{Args: []string{"transition", "planning"}, WantErr: true},
		},
	}
	// ScenarioPauseResume ends a session mid-loop and picks it up again.
	ScenarioPauseResume = Scenario{
		Name:      "pause-resume",
		SessionID: "smoke-pause",
		Steps: []Step{
			{Args: []string{"start", "long", "task"}},
			{Args: []string{"hook", "session-end"}, Stdin: hookEvent("SessionEnd", "smoke-pause")},
			{Args: []string{"hook", "session-start"}, Stdin: hookEvent("SessionStart", "smoke-pause-2")},
			{Args: []string{"--session", "smoke-pause-2", "resume"}},
			{Args: []string{"status"}},
		},
	}
)

// SmokeOptions configures RunSmoke.
type SmokeOptions struct {
	Scenario     Scenario
	Binary       string
	WorkspaceDir string
	Env          map[string]string
}

// StepResult captures one invocation.
type StepResult struct {
	Step   Step
	Stdout string
	Stderr string
	Err    error
}

// SmokeResult captures the outcome of a smoke scenario.
type SmokeResult struct {
	Scenario  Scenario
	Workspace string
	Steps     []StepResult
	// Instance is the persisted state after the last step, nil when absent.
	Instance *state.Instance
	Journal  []journal.Entry
}

// Failed returns the first step whose exit status disagreed with WantErr.
func (r *SmokeResult) Failed() *StepResult {
	for i := range r.Steps {
		s := &r.Steps[i]
		if (s.Err != nil) != s.Step.WantErr {
			return s
		}
	}
	return nil
}

// RunSmoke executes every step of a scenario against an initialised
// workspace. Steps keep running after an unexpected failure so the result
// shows the whole session.
func RunSmoke(ctx context.Context, opts SmokeOptions) (*SmokeResult, error) {
	if opts.Binary == "" {
		return nil, fmt.Errorf("loopkeeper binary path is required")
	}
	if len(opts.Scenario.Steps) == 0 {
		return nil, fmt.Errorf("scenario %q has no steps", opts.Scenario.Name)
	}

	dir := opts.WorkspaceDir
	if dir == "" {
		var err error
		dir, err = os.MkdirTemp("", "loopkeeper-smoke-")
		if err != nil {
			return nil, fmt.Errorf("failed to create workspace: %w", err)
		}
	}
	if err := workspace.Initialize(dir); err != nil {
		return nil, fmt.Errorf("failed to initialise workspace: %w", err)
	}

	// Keep user-scoped sub-mode state inside the workspace.
	cfg := config.GenerateDefault()
	cfg.Paths.GlobalStateDir = filepath.Join(dir, "global")
	if err := cfg.SaveToFile(workspace.ConfigPath(dir)); err != nil {
		return nil, err
	}

	env := mergeEnv(os.Environ(), map[string]string{"LOOPKEEPER_SESSION_ID": opts.Scenario.SessionID})
	env = mergeEnv(env, opts.Env)

	result := &SmokeResult{Scenario: opts.Scenario, Workspace: dir}
	for _, step := range opts.Scenario.Steps {
		stdOut := &bytes.Buffer{}
		stdErr := &bytes.Buffer{}

		cmd := exec.CommandContext(ctx, opts.Binary, step.Args...)
		cmd.Dir = dir
		cmd.Stdin = bytes.NewBufferString(step.Stdin)
		cmd.Stdout = stdOut
		cmd.Stderr = stdErr
		cmd.Env = env

		runErr := cmd.Run()
		result.Steps = append(result.Steps, StepResult{
			Step:   step,
			Stdout: stdOut.String(),
			Stderr: stdErr.String(),
			Err:    runErr,
		})
	}

	inst, err := state.NewStore(state.DefaultWorkflow, nil).Read(dir)
	switch {
	case err == nil:
		result.Instance = inst
	case !errors.Is(err, state.ErrNotFound):
		return nil, fmt.Errorf("failed to read final state: %w", err)
	}

	entries, err := journal.ReadAll(journal.Path(dir, state.DefaultWorkflow), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}
	result.Journal = entries
	return result, nil
}

// DetectRepoRoot locates the repository root by searching for go.mod.
func DetectRepoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found (starting from %s)", dir)
		}
		dir = parent
	}
}

func mergeEnv(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return base
	}
	result := append([]string{}, base...)
	for k, v := range overrides {
		result = setEnv(result, k, v)
	}
	return result
}
