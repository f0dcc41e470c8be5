package loop

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iambrandonn/loopkeeper/internal/config"
	"github.com/iambrandonn/loopkeeper/internal/lifecycle"
	"github.com/iambrandonn/loopkeeper/internal/modes"
	"github.com/iambrandonn/loopkeeper/internal/notepad"
	"github.com/iambrandonn/loopkeeper/internal/phase"
	"github.com/iambrandonn/loopkeeper/internal/state"
)

func newTestDriver(t *testing.T) (*Driver, *lifecycle.Controller, string) {
	t.Helper()
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctl := lifecycle.NewController(config.GenerateDefault().Loop, lifecycle.Deps{
		Store:  state.NewStore(state.DefaultWorkflow, logger),
		Gate:   modes.NewRegistry(logger),
		Notes:  notepad.NewStore(logger),
		Reaper: modes.NewReaper(filepath.Join(dir, "global"), logger),
		Logger: logger,
	})
	return NewDriver(ctl, logger), ctl, dir
}

func TestOnStopEventWithoutInstance(t *testing.T) {
	d, _, dir := newTestDriver(t)

	dec, err := d.OnStopEvent(context.Background(), "sess", dir)
	require.NoError(t, err)
	assert.Nil(t, dec)
}

func TestOnStopEventBlocksWithPhasePrompt(t *testing.T) {
	d, ctl, dir := newTestDriver(t)
	ctx := context.Background()
	_, err := ctl.Start(ctx, dir, "build a feature", lifecycle.StartOptions{SessionID: "sess"})
	require.NoError(t, err)

	tests := []struct {
		target phase.Phase
		marker string
		next   string
	}{
		{phase.Planning, "PLANNING", "loopkeeper transition execution"},
		{phase.Execution, "EXECUTION", "loopkeeper transition review"},
		{phase.Review, "REVIEW", "loopkeeper transition assess"},
		{phase.Assess, "ASSESS", "loopkeeper next-iteration"},
	}
	for i, tt := range tests {
		if i > 0 {
			_, err := ctl.Transition(ctx, dir, tt.target)
			require.NoError(t, err)
		}
		dec, err := d.OnStopEvent(ctx, "sess", dir)
		require.NoError(t, err)
		require.NotNil(t, dec, "phase %s", tt.target)
		assert.True(t, dec.Block)
		assert.Equal(t, tt.target, dec.Outcome)
		assert.Contains(t, dec.Reason, "[AUTOPILOT - "+tt.marker+" - ITERATION 1/10]")
		assert.Contains(t, dec.Reason, "build a feature")
		assert.Contains(t, dec.Reason, tt.next)
		assert.Contains(t, dec.Reason, "## Status")
		assert.Contains(t, dec.Reason, "- Phase: "+string(tt.target))
	}
}

func TestAssessPromptOnLastIteration(t *testing.T) {
	d, ctl, dir := newTestDriver(t)
	ctx := context.Background()
	_, err := ctl.Start(ctx, dir, "x", lifecycle.StartOptions{MaxIterations: 1})
	require.NoError(t, err)
	for _, p := range []phase.Phase{phase.Execution, phase.Review, phase.Assess} {
		_, err := ctl.Transition(ctx, dir, p)
		require.NoError(t, err)
	}

	dec, err := d.OnStopEvent(ctx, "", dir)
	require.NoError(t, err)
	require.NotNil(t, dec)
	assert.Contains(t, dec.Reason, "last iteration")
	assert.Contains(t, dec.Reason, "loopkeeper transition failed")
	assert.NotContains(t, dec.Reason, "next-iteration")
}

func TestOnStopEventIncludesWisdomNewestFirst(t *testing.T) {
	d, ctl, dir := newTestDriver(t)
	ctx := context.Background()
	_, err := ctl.Start(ctx, dir, "x", lifecycle.StartOptions{})
	require.NoError(t, err)

	for i := 1; i <= MaxWisdomEntries+2; i++ {
		_, err := ctl.AddLearning(ctx, dir, fmt.Sprintf("learning %d", i))
		require.NoError(t, err)
	}
	_, err = ctl.AddDecision(ctx, dir, "keep JSON state")
	require.NoError(t, err)

	dec, err := d.OnStopEvent(ctx, "", dir)
	require.NoError(t, err)
	require.NotNil(t, dec)

	assert.Contains(t, dec.Reason, "## Accumulated context")
	assert.Contains(t, dec.Reason, "### Learnings")
	assert.Contains(t, dec.Reason, "### Decisions")
	assert.Contains(t, dec.Reason, "keep JSON state")
	assert.NotContains(t, dec.Reason, "### Issues")
	assert.Contains(t, dec.Reason, "(2 older)")
	assert.NotContains(t, dec.Reason, "- learning 1\n")
	assert.Less(t, strings.Index(dec.Reason, "learning 7"), strings.Index(dec.Reason, "learning 3"))
}

func TestOnStopEventConsumesTerminalInstance(t *testing.T) {
	d, ctl, dir := newTestDriver(t)
	ctx := context.Background()
	_, err := ctl.Start(ctx, dir, "build a feature", lifecycle.StartOptions{SessionID: "sess"})
	require.NoError(t, err)
	_, err = ctl.AddLearning(ctx, dir, "table tests help")
	require.NoError(t, err)
	for _, p := range []phase.Phase{phase.Execution, phase.Review, phase.Assess, phase.Complete} {
		_, err := ctl.Transition(ctx, dir, p)
		require.NoError(t, err)
	}
	require.NoError(t, os.MkdirAll(filepath.Dir(state.ModePath(dir, "ultrawork")), 0700))
	require.NoError(t, os.WriteFile(state.ModePath(dir, "ultrawork"), []byte(`{"active":true}`), 0600))

	dec, err := d.OnStopEvent(ctx, "sess", dir)
	require.NoError(t, err)
	require.NotNil(t, dec)
	assert.False(t, dec.Block)
	assert.Equal(t, phase.Complete, dec.Outcome)
	assert.Equal(t, 1, dec.Iteration)
	assert.Equal(t, 10, dec.MaxIterations)
	assert.Contains(t, dec.Summary, "[AUTOPILOT COMPLETE]")
	assert.Contains(t, dec.Summary, "table tests help")

	assert.False(t, ctl.Store().Exists(dir))
	assert.NoFileExists(t, state.ModePath(dir, "ultrawork"))

	again, err := d.OnStopEvent(ctx, "sess", dir)
	require.NoError(t, err)
	assert.Nil(t, again, "a terminal instance is consumed once")
}

func TestOnStopEventFailedSummary(t *testing.T) {
	d, ctl, dir := newTestDriver(t)
	ctx := context.Background()
	_, err := ctl.Start(ctx, dir, "x", lifecycle.StartOptions{MaxIterations: 1})
	require.NoError(t, err)
	_, err = ctl.AddIssue(ctx, dir, "tests still red")
	require.NoError(t, err)
	_, err = ctl.IncrementIteration(ctx, dir, "")
	require.NoError(t, err)

	dec, err := d.OnStopEvent(ctx, "", dir)
	require.NoError(t, err)
	require.NotNil(t, dec)
	assert.False(t, dec.Block)
	assert.Equal(t, phase.Failed, dec.Outcome)
	assert.Contains(t, dec.Summary, "[AUTOPILOT FAILED]")
	assert.Contains(t, dec.Summary, "tests still red")
}

func TestOnStopEventIgnoresPausedAndForeignInstances(t *testing.T) {
	ctx := context.Background()

	t.Run("paused", func(t *testing.T) {
		d, ctl, dir := newTestDriver(t)
		_, err := ctl.Start(ctx, dir, "x", lifecycle.StartOptions{})
		require.NoError(t, err)
		_, err = ctl.Pause(ctx, dir, "")
		require.NoError(t, err)

		dec, err := d.OnStopEvent(ctx, "", dir)
		require.NoError(t, err)
		assert.Nil(t, dec)
		assert.True(t, ctl.Store().Exists(dir))
	})

	t.Run("other session", func(t *testing.T) {
		d, ctl, dir := newTestDriver(t)
		_, err := ctl.Start(ctx, dir, "x", lifecycle.StartOptions{SessionID: "owner"})
		require.NoError(t, err)

		dec, err := d.OnStopEvent(ctx, "intruder", dir)
		require.NoError(t, err)
		assert.Nil(t, dec)
	})
}

func TestStatusSummary(t *testing.T) {
	_, ctl, dir := newTestDriver(t)
	ctx := context.Background()
	_, err := ctl.Start(ctx, dir, "x", lifecycle.StartOptions{})
	require.NoError(t, err)
	_, err = ctl.Transition(ctx, dir, phase.Execution)
	require.NoError(t, err)
	inst, err := ctl.LinkSubmode(ctx, dir, "ultraqa")
	require.NoError(t, err)

	got := StatusSummary(inst)
	assert.Equal(t, "## Status\n- Phase: execution\n- Iteration: 1/10\n- Completed this iteration: planning\n- Linked sub-modes: ultraqa\n- Learnings: 0, issues: 0", got)
}
