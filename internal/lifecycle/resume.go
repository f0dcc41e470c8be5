package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iambrandonn/loopkeeper/internal/journal"
	"github.com/iambrandonn/loopkeeper/internal/phase"
	"github.com/iambrandonn/loopkeeper/internal/state"
)

// ResumeResult is the guard's verdict on a persisted instance.
type ResumeResult struct {
	CanResume   bool
	Instance    *state.Instance
	ResumePhase phase.Phase
	Reason      string
}

// CanResume decides whether the instance in dir may be picked up again.
// Rules apply in order: no instance, terminal, still active, stale. Only a
// stale instance is deleted, so repeated calls agree.
func (c *Controller) CanResume(ctx context.Context, dir string) ResumeResult {
	if !c.store.Exists(dir) {
		return ResumeResult{Reason: "no autopilot state found"}
	}

	lock, err := c.acquire(ctx, dir)
	if err != nil {
		return ResumeResult{Reason: err.Error()}
	}
	defer lock.Release()

	return c.canResume(dir)
}

func (c *Controller) canResume(dir string) ResumeResult {
	inst, err := c.store.Read(dir)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return ResumeResult{Reason: "no autopilot state found"}
		}
		return ResumeResult{Reason: fmt.Sprintf("autopilot state unreadable: %v", err)}
	}

	if inst.Phase.IsTerminal() {
		return ResumeResult{Instance: inst, Reason: fmt.Sprintf("autopilot already finished (%s)", inst.Phase)}
	}
	if inst.Active {
		return ResumeResult{Instance: inst, Reason: "autopilot is still active in another session"}
	}

	now := c.now()
	if age := inst.Age(now); age > c.limits.StaleStateMaxAge {
		if err := c.store.Delete(dir); err != nil {
			c.logger.Warn("failed to delete stale state", "dir", dir, "error", err)
		} else {
			c.logger.Info("deleted stale autopilot state", "dir", dir, "age", age.Round(time.Second).String())
			c.record(dir, journal.Entry{Kind: journal.KindStale, From: string(inst.Phase), Iteration: inst.Iteration, Detail: age.Round(time.Second).String()})
		}
		return ResumeResult{Reason: fmt.Sprintf("autopilot state is stale (started %s ago)", age.Round(time.Second))}
	}

	return ResumeResult{CanResume: true, Instance: inst, ResumePhase: inst.Phase}
}

// Resume re-activates a paused instance under sessionID. It fails with
// ErrNotResumable carrying the guard's reason when the guard refuses.
func (c *Controller) Resume(ctx context.Context, dir, sessionID string) (*state.Instance, error) {
	if !c.store.Exists(dir) {
		return nil, fmt.Errorf("%w: no autopilot state found", ErrNotResumable)
	}

	lock, err := c.acquire(ctx, dir)
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	res := c.canResume(dir)
	if !res.CanResume {
		return nil, fmt.Errorf("%w: %s", ErrNotResumable, res.Reason)
	}

	next := res.Instance.Clone()
	next.Active = true
	if sessionID != "" {
		next.SessionID = sessionID
	}
	if err := c.store.Write(dir, next); err != nil {
		return nil, fmt.Errorf("failed to persist resume: %w", err)
	}

	c.logger.Info("autopilot resumed", "dir", dir, "phase", next.Phase, "iteration", next.Iteration)
	c.record(dir, journal.Entry{Kind: journal.KindResume, To: string(next.Phase), Iteration: next.Iteration, SessionID: next.SessionID})
	return next, nil
}
