package testharness

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/iambrandonn/loopkeeper/internal/journal"
	"github.com/iambrandonn/loopkeeper/internal/phase"
)

func TestRunSmokeFullRun(t *testing.T) {
	result := runSmokeScenario(t, ScenarioFullRun)

	if result.Instance != nil {
		t.Fatalf("expected the completed instance to be consumed, found phase %s", result.Instance.Phase)
	}

	first := result.Steps[1].Stdout
	if !strings.Contains(first, `"decision":"block"`) {
		t.Fatalf("expected the first stop to be blocked:\n%s", first)
	}
	if !strings.Contains(first, "build the thing") {
		t.Fatalf("expected the continuation prompt to carry the task:\n%s", first)
	}

	last := result.Steps[len(result.Steps)-1].Stdout
	if strings.Contains(last, `"decision":"block"`) {
		t.Fatalf("expected the final stop to be allowed:\n%s", last)
	}

	if !hasKind(result.Journal, journal.KindFinish) {
		t.Fatalf("expected a finish entry in the journal: %+v", result.Journal)
	}
}

func TestRunSmokeIterationCeiling(t *testing.T) {
	result := runSmokeScenario(t, ScenarioCeiling)

	if result.Instance == nil {
		t.Fatal("expected the failed instance to remain on disk")
	}
	if result.Instance.Phase != phase.Failed {
		t.Fatalf("expected failed, got %s", result.Instance.Phase)
	}
	if result.Instance.Iteration != 1 {
		t.Fatalf("iteration should stay at the ceiling, got %d", result.Instance.Iteration)
	}
	if !hasKind(result.Journal, journal.KindCeiling) {
		t.Fatalf("expected a ceiling entry in the journal: %+v", result.Journal)
	}
}

func TestRunSmokePauseResume(t *testing.T) {
	result := runSmokeScenario(t, ScenarioPauseResume)

	offer := result.Steps[2].Stdout
	if !strings.Contains(offer, "loopkeeper resume") {
		t.Fatalf("expected session start to offer a resume:\n%s", offer)
	}
	if result.Instance == nil || !result.Instance.Active {
		t.Fatalf("expected an active instance after resume: %+v", result.Instance)
	}
	if result.Instance.SessionID != "smoke-pause-2" {
		t.Fatalf("expected the resuming session to own the loop, got %q", result.Instance.SessionID)
	}
}

func hasKind(entries []journal.Entry, kind journal.Kind) bool {
	for _, e := range entries {
		if e.Kind == kind {
			return true
		}
	}
	return false
}

func runSmokeScenario(t *testing.T, scenario Scenario) *SmokeResult {
	t.Helper()
	if testing.Short() {
		t.Skip("smoke tests build the binary")
	}

	repoRoot, err := DetectRepoRoot()
	if err != nil {
		t.Fatalf("failed to locate repo root: %v", err)
	}

	tempDir := t.TempDir()
	binDir := filepath.Join(tempDir, "bin")
	cacheDir := filepath.Join(tempDir, "gocache")
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		t.Fatalf("failed to create gocache: %v", err)
	}
	t.Setenv("GOCACHE", cacheDir)

	ctx := context.Background()
	bin, err := BuildBinary(ctx, repoRoot, binDir)
	if err != nil {
		t.Fatalf("failed to build binary: %v", err)
	}

	result, err := RunSmoke(ctx, SmokeOptions{
		Scenario:     scenario,
		Binary:       bin,
		WorkspaceDir: filepath.Join(tempDir, "workspace"),
		Env:          map[string]string{"HOME": tempDir},
	})
	if err != nil {
		t.Fatalf("RunSmoke returned error: %v", err)
	}
	if failed := result.Failed(); failed != nil {
		t.Fatalf("step %v: err=%v\nstdout:%s\nstderr:%s", failed.Step.Args, failed.Err, failed.Stdout, failed.Stderr)
	}
	return result
}
