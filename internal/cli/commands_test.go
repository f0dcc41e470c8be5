package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iambrandonn/loopkeeper/internal/state"
	"github.com/iambrandonn/loopkeeper/internal/workspace"
)

func TestInitWritesLayoutAndConfig(t *testing.T) {
	dir := newProject(t)

	out, err := runCLI(t, dir, "", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote default config")
	ok, err := workspace.IsInitialized(dir)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.FileExists(t, workspace.ConfigPath(dir))

	out, err = runCLI(t, dir, "", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "Config already exists")
}

func TestStartStatusTransitionFlow(t *testing.T) {
	dir := newProject(t)

	out, err := runCLI(t, dir, "", "--session", "sess-1", "start", "-n", "3", "build", "a", "CLI")
	require.NoError(t, err)
	assert.Contains(t, out, "Autopilot started")
	assert.Contains(t, out, "Iteration:  1/3")

	out, err = runCLI(t, dir, "", "status", "--json")
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, "planning", doc["phase"])
	assert.Equal(t, "build a CLI", doc["prompt"])
	assert.Equal(t, "sess-1", doc["sessionId"])

	out, err = runCLI(t, dir, "", "transition", "execution")
	require.NoError(t, err)
	assert.Contains(t, out, "Phase: execution")

	_, err = runCLI(t, dir, "", "transition", "complete")
	assert.Error(t, err, "execution cannot jump to complete")

	_, err = runCLI(t, dir, "", "transition", "sideways")
	assert.Error(t, err)

	out, err = runCLI(t, dir, "", "history")
	require.NoError(t, err)
	assert.Contains(t, out, "start")
	assert.Contains(t, out, "planning -> execution")
}

func TestStartRefusesSecondLoop(t *testing.T) {
	dir := newProject(t)

	_, err := runCLI(t, dir, "", "start", "first")
	require.NoError(t, err)

	_, err = runCLI(t, dir, "", "start", "second")
	assert.Error(t, err)
}

func TestNextIterationHitsCeiling(t *testing.T) {
	dir := newProject(t)

	_, err := runCLI(t, dir, "", "start", "-n", "2", "task")
	require.NoError(t, err)

	out, err := runCLI(t, dir, "", "next-iteration")
	require.NoError(t, err)
	assert.Contains(t, out, "Iteration 2/2 started in planning")

	out, err = runCLI(t, dir, "", "next-iteration")
	require.NoError(t, err)
	assert.Contains(t, out, "Iteration limit reached")
}

func TestLearnAndNoteCommands(t *testing.T) {
	dir := newProject(t)

	_, err := runCLI(t, dir, "", "start", "task")
	require.NoError(t, err)

	out, err := runCLI(t, dir, "", "learn", "tests", "live", "beside", "code")
	require.NoError(t, err)
	assert.Contains(t, out, "Recorded learning")

	out, err = runCLI(t, dir, "", "note", "decision", "keep", "JSON")
	require.NoError(t, err)
	assert.Contains(t, out, "Recorded decision")

	_, err = runCLI(t, dir, "", "note", "rumour", "x")
	assert.Error(t, err)

	out, err = runCLI(t, dir, "", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "tests live beside code")
}

func TestHookStopBlocksWhileLoopRuns(t *testing.T) {
	dir := newProject(t)

	_, err := runCLI(t, dir, "", "--session", "sess-1", "start", "ship", "it")
	require.NoError(t, err)

	out, err := runCLI(t, dir, `{"hook_event_name":"Stop","session_id":"sess-1"}`, "hook", "stop")
	require.NoError(t, err)
	doc := decodeHookOutput(t, out)
	assert.Equal(t, "block", doc["decision"])
	assert.Contains(t, doc["reason"], "ship it")

	out, err = runCLI(t, dir, `{"hook_event_name":"Stop","session_id":"someone-else"}`, "hook", "stop")
	require.NoError(t, err)
	doc = decodeHookOutput(t, out)
	assert.NotContains(t, doc, "decision")
}

func TestHookStopFinishesTerminalLoop(t *testing.T) {
	dir := newProject(t)

	_, err := runCLI(t, dir, "", "--session", "s", "start", "--skip-planning", "task")
	require.NoError(t, err)
	for _, p := range []string{"review", "assess", "complete"} {
		_, err = runCLI(t, dir, "", "transition", p)
		require.NoError(t, err, p)
	}

	out, err := runCLI(t, dir, `{"session_id":"s"}`, "hook", "stop")
	require.NoError(t, err)
	doc := decodeHookOutput(t, out)
	assert.NotEqual(t, "block", doc["decision"])
	assert.NoFileExists(t, state.ModePath(dir, state.DefaultWorkflow))
}

func TestHookStopFindsLoopFromSubdirectory(t *testing.T) {
	root := newProject(t)

	_, err := runCLI(t, root, "", "--session", "s", "start", "keep", "going")
	require.NoError(t, err)

	sub := filepath.Join(root, "pkg", "x")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	stdin := fmt.Sprintf(`{"hook_event_name":"Stop","session_id":"s","cwd":%q}`, sub)

	out, err := runCLI(t, t.TempDir(), stdin, "hook", "stop")
	require.NoError(t, err)
	doc := decodeHookOutput(t, out)
	assert.Equal(t, "block", doc["decision"])
	assert.Contains(t, doc["reason"], "keep going")
}

func TestHookWithoutStateAllowsStop(t *testing.T) {
	dir := newProject(t)

	out, err := runCLI(t, dir, "", "hook", "stop")
	require.NoError(t, err)
	doc := decodeHookOutput(t, out)
	assert.Equal(t, true, doc["continue"])
}

func TestHookStopToleratesGarbageInput(t *testing.T) {
	dir := newProject(t)

	out, err := runCLI(t, dir, "{not json", "hook", "stop")
	require.NoError(t, err)
	doc := decodeHookOutput(t, out)
	assert.Equal(t, true, doc["continue"])
}

func TestSessionEndPausesAndSessionStartOffersResume(t *testing.T) {
	dir := newProject(t)

	_, err := runCLI(t, dir, "", "--session", "s1", "start", "task")
	require.NoError(t, err)

	_, err = runCLI(t, dir, `{"session_id":"s1"}`, "hook", "session-end")
	require.NoError(t, err)

	raw, err := os.ReadFile(state.ModePath(dir, state.DefaultWorkflow))
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, false, doc["active"])

	out, err := runCLI(t, dir, `{"session_id":"s2"}`, "hook", "session-start")
	require.NoError(t, err)
	hookOut := decodeHookOutput(t, out)
	assert.Contains(t, hookOut["systemMessage"], "loopkeeper resume")

	out, err = runCLI(t, dir, "", "--session", "s2", "resume")
	require.NoError(t, err)
	assert.Contains(t, out, "Autopilot resumed")
}

func TestCancelRemovesState(t *testing.T) {
	dir := newProject(t)

	_, err := runCLI(t, dir, "", "--session", "s", "start", "task")
	require.NoError(t, err)

	out, err := runCLI(t, dir, "", "--session", "s", "cancel")
	require.NoError(t, err)
	assert.Contains(t, out, "Autopilot cancelled")
	assert.NoFileExists(t, state.ModePath(dir, state.DefaultWorkflow))
}

func TestNotifyWithoutChannels(t *testing.T) {
	dir := newProject(t)

	out, err := runCLI(t, dir, "", "notify", "ask-user-question", "need", "input")
	require.NoError(t, err)
	assert.Contains(t, out, "No notification channels configured")

	_, err = runCLI(t, dir, "", "notify", "bogus")
	assert.Error(t, err)
}
