// Package lifecycle owns every mutation of a persisted autopilot instance:
// starting it, walking the phase graph, retrying iterations up to the
// ceiling, pausing and resuming, and accumulating learnings and issues.
//
// Each mutating call is a locked read-modify-write of the state document.
// The instance read from disk is cloned before mutation, so a rejected or
// failed write leaves nothing visible.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/iambrandonn/loopkeeper/internal/config"
	"github.com/iambrandonn/loopkeeper/internal/journal"
	"github.com/iambrandonn/loopkeeper/internal/lockfile"
	"github.com/iambrandonn/loopkeeper/internal/modes"
	"github.com/iambrandonn/loopkeeper/internal/notepad"
	"github.com/iambrandonn/loopkeeper/internal/phase"
	"github.com/iambrandonn/loopkeeper/internal/state"
)

var (
	ErrNotFound          = errors.New("no autopilot instance")
	ErrInactive          = errors.New("autopilot instance is not active")
	ErrIllegalTransition = errors.New("illegal phase transition")
	ErrPromptTooLong     = errors.New("prompt too long")
	ErrEmptyPrompt       = errors.New("prompt is empty")
	ErrConflict          = errors.New("conflicting mode active")
	ErrNotOwner          = errors.New("instance owned by another session")
	ErrUnknownSubmode    = errors.New("unknown sub-mode")
	ErrNotResumable      = errors.New("instance cannot be resumed")
	ErrBusy              = errors.New("state is locked by another process")
)

// DefaultLockTimeout bounds how long a call waits for the state lock.
const DefaultLockTimeout = 2 * time.Second

// Gate decides whether a mode may start in a directory.
type Gate interface {
	CanStart(mode, dir string) (bool, string)
}

// Notes is the cross-iteration notes store.
type Notes interface {
	Init(handle, dir string) error
	AddLearning(handle, text, dir string) error
	AddDecision(handle, text, dir string) error
	AddIssue(handle, text, dir string) error
	AddProblem(handle, text, dir string) error
	Read(handle, dir string) (*notepad.Wisdom, error)
}

// Reaper removes dependent sub-mode state.
type Reaper interface {
	PurgeSubmodes(dir, sessionID string, force bool) bool
}

// Deps are the collaborators a Controller drives. Journal may be nil.
type Deps struct {
	Store   *state.Store
	Gate    Gate
	Notes   Notes
	Reaper  Reaper
	Journal *journal.Recorder
	Logger  *slog.Logger
}

// Controller performs lifecycle operations against one workflow's state.
type Controller struct {
	limits      config.Loop
	store       *state.Store
	gate        Gate
	notes       Notes
	reaper      Reaper
	journal     *journal.Recorder
	logger      *slog.Logger
	now         func() time.Time
	lockTimeout time.Duration
}

// NewController returns a Controller bounded by limits.
func NewController(limits config.Loop, deps Deps) *Controller {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		limits:      limits,
		store:       deps.Store,
		gate:        deps.Gate,
		notes:       deps.Notes,
		reaper:      deps.Reaper,
		journal:     deps.Journal,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
		lockTimeout: DefaultLockTimeout,
	}
}

// Notes exposes the notes store so callers can render accumulated wisdom.
func (c *Controller) Notes() Notes { return c.notes }

// Store exposes the underlying state store.
func (c *Controller) Store() *state.Store { return c.store }

// StartOptions customise a new instance. Zero values fall back to the
// configured limits.
type StartOptions struct {
	SessionID     string
	MaxIterations int
	SkipPlanning  bool
}

// Start creates and persists a new active instance for dir. Nothing is
// written when the prompt is rejected, when another exclusive mode is active,
// or when persistence fails.
func (c *Controller) Start(ctx context.Context, dir, prompt string, opts StartOptions) (*state.Instance, error) {
	if n := utf8.RuneCountInString(prompt); n > c.limits.MaxPromptLength {
		return nil, fmt.Errorf("%w: %d characters exceeds the limit of %d", ErrPromptTooLong, n, c.limits.MaxPromptLength)
	}
	if len(prompt) == 0 {
		return nil, ErrEmptyPrompt
	}

	lock, err := c.acquire(ctx, dir)
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	if ok, msg := c.gate.CanStart(c.store.Workflow(), dir); !ok {
		return nil, fmt.Errorf("%w: %s", ErrConflict, msg)
	}

	maxIterations := opts.MaxIterations
	if maxIterations <= 0 {
		maxIterations = c.limits.MaxIterations
	}
	entry := phase.Planning
	if opts.SkipPlanning || c.limits.SkipPlanning {
		entry = phase.Execution
	}

	now := c.now()
	handle := c.newHandle(now)
	inst := state.NewInstance(prompt, handle, maxIterations, entry, now)
	inst.SessionID = opts.SessionID
	if abs, err := filepath.Abs(dir); err == nil {
		inst.ProjectPath = abs
	}

	if err := c.store.Write(dir, inst); err != nil {
		return nil, fmt.Errorf("failed to persist new instance: %w", err)
	}
	if err := c.notes.Init(handle, dir); err != nil {
		c.logger.Warn("failed to initialise notepad", "handle", handle, "error", err)
	}

	c.logger.Info("autopilot started", "dir", dir, "handle", handle, "phase", entry, "max_iterations", maxIterations)
	c.record(dir, journal.Entry{Kind: journal.KindStart, To: string(entry), Iteration: 1, SessionID: opts.SessionID})
	return inst, nil
}

// Transition moves the active instance in dir to target along a graph edge.
// The assess -> planning edge is an iteration retry: it goes through the
// same ceiling check and reset as IncrementIteration.
func (c *Controller) Transition(ctx context.Context, dir string, target phase.Phase) (*state.Instance, error) {
	lock, err := c.acquire(ctx, dir)
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	cur, err := c.loadActive(dir)
	if err != nil {
		return nil, err
	}
	if !phase.CanTransition(cur.Phase, target) {
		return nil, fmt.Errorf("%w: %s -> %s (allowed: %v)", ErrIllegalTransition, cur.Phase, target, phase.Next(cur.Phase))
	}
	// assess -> planning spends iteration budget like next-iteration.
	if cur.Phase == phase.Assess && target == phase.Planning {
		return c.retry(dir, cur, cur.SessionID)
	}

	next := cur.Clone()
	next.Advance(target, c.now())
	if err := c.store.Write(dir, next); err != nil {
		return nil, fmt.Errorf("failed to persist transition: %w", err)
	}

	c.logger.Info("phase transition", "dir", dir, "from", cur.Phase, "to", target, "iteration", next.Iteration)
	kind := journal.KindTransition
	if target.IsTerminal() {
		kind = journal.KindFinish
	}
	c.record(dir, journal.Entry{Kind: kind, From: string(cur.Phase), To: string(target), Iteration: next.Iteration, SessionID: next.SessionID})
	return next, nil
}

// IncrementIteration starts the next attempt from planning, purging
// sub-mode state left by the previous one. At the iteration ceiling the
// instance fails instead and the iteration count is left unchanged.
func (c *Controller) IncrementIteration(ctx context.Context, dir, sessionID string) (*state.Instance, error) {
	lock, err := c.acquire(ctx, dir)
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	cur, err := c.loadActive(dir)
	if err != nil {
		return nil, err
	}
	if sessionID == "" {
		sessionID = cur.SessionID
	}
	return c.retry(dir, cur, sessionID)
}

// retry restarts cur from planning or fails it at the ceiling. The caller
// holds the lock.
func (c *Controller) retry(dir string, cur *state.Instance, sessionID string) (*state.Instance, error) {
	next := cur.Clone()
	now := c.now()

	if cur.Iteration >= cur.MaxIterations {
		next.Fail(now)
		if err := c.store.Write(dir, next); err != nil {
			return nil, fmt.Errorf("failed to persist iteration ceiling: %w", err)
		}
		c.logger.Warn("iteration ceiling reached", "dir", dir, "iteration", cur.Iteration, "max_iterations", cur.MaxIterations)
		c.record(dir, journal.Entry{Kind: journal.KindCeiling, From: string(cur.Phase), To: string(phase.Failed), Iteration: cur.Iteration, SessionID: sessionID})
		return next, nil
	}

	next.RestartIteration(now)
	if err := c.store.Write(dir, next); err != nil {
		return nil, fmt.Errorf("failed to persist new iteration: %w", err)
	}
	if !c.reaper.PurgeSubmodes(dir, sessionID, false) {
		c.logger.Warn("sub-mode cleanup incomplete", "dir", dir, "iteration", next.Iteration)
	}

	c.logger.Info("iteration started", "dir", dir, "iteration", next.Iteration, "max_iterations", next.MaxIterations)
	c.record(dir, journal.Entry{Kind: journal.KindIteration, From: string(cur.Phase), To: string(phase.Planning), Iteration: next.Iteration, SessionID: sessionID})
	return next, nil
}

// Cancel deletes the instance in dir and purges its sub-modes. Unreadable
// documents are removed too.
func (c *Controller) Cancel(ctx context.Context, dir, sessionID string, force bool) error {
	if !c.store.Exists(dir) {
		return fmt.Errorf("%w in %s", ErrNotFound, dir)
	}

	lock, err := c.acquire(ctx, dir)
	if err != nil {
		return err
	}
	defer lock.Release()

	inst, err := c.store.Read(dir)
	if err == nil && sessionID == "" {
		sessionID = inst.SessionID
	}
	if err := c.store.Delete(dir); err != nil {
		return fmt.Errorf("failed to cancel: %w", err)
	}
	if !c.reaper.PurgeSubmodes(dir, sessionID, force) {
		c.logger.Warn("sub-mode cleanup incomplete", "dir", dir)
	}

	c.logger.Info("autopilot cancelled", "dir", dir, "force", force)
	e := journal.Entry{Kind: journal.KindCancel, SessionID: sessionID}
	if inst != nil {
		e.From = string(inst.Phase)
		e.Iteration = inst.Iteration
	}
	c.record(dir, e)
	return nil
}

// Finish consumes a terminal instance: the document is deleted and its
// sub-modes purged. Non-terminal instances are left alone.
func (c *Controller) Finish(ctx context.Context, dir, sessionID string) (*state.Instance, error) {
	lock, err := c.acquire(ctx, dir)
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	inst, err := c.load(dir)
	if err != nil {
		return nil, err
	}
	if !inst.Phase.IsTerminal() {
		return nil, fmt.Errorf("%w: instance is still in %s", ErrIllegalTransition, inst.Phase)
	}
	if sessionID == "" {
		sessionID = inst.SessionID
	}
	if err := c.store.Delete(dir); err != nil {
		return nil, fmt.Errorf("failed to clear finished instance: %w", err)
	}
	if !c.reaper.PurgeSubmodes(dir, sessionID, false) {
		c.logger.Warn("sub-mode cleanup incomplete", "dir", dir)
	}
	c.logger.Info("autopilot finished", "dir", dir, "outcome", inst.Phase, "iteration", inst.Iteration)
	return inst, nil
}

// LinkSubmode records that the instance delegated work to a sub-mode.
func (c *Controller) LinkSubmode(ctx context.Context, dir, name string) (*state.Instance, error) {
	if !modes.IsSubmode(name) {
		return nil, fmt.Errorf("%w: %q (known: %v)", ErrUnknownSubmode, name, modes.LocalSubmodes)
	}

	lock, err := c.acquire(ctx, dir)
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	cur, err := c.loadActive(dir)
	if err != nil {
		return nil, err
	}
	next := cur.Clone()
	if !next.LinkSubmode(name) {
		return cur, nil
	}
	if err := c.store.Write(dir, next); err != nil {
		return nil, fmt.Errorf("failed to persist linked sub-mode: %w", err)
	}
	c.logger.Debug("sub-mode linked", "dir", dir, "submode", name)
	return next, nil
}

// Status returns the persisted instance without taking the lock.
func (c *Controller) Status(dir string) (*state.Instance, error) {
	return c.load(dir)
}

// Pause marks the active instance inactive without moving it, so that a
// later session can pick it up through Resume. A sessionID that does not
// match the owning session is refused.
func (c *Controller) Pause(ctx context.Context, dir, sessionID string) (*state.Instance, error) {
	lock, err := c.acquire(ctx, dir)
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	cur, err := c.loadActive(dir)
	if err != nil {
		return nil, err
	}
	if sessionID != "" && cur.SessionID != "" && cur.SessionID != sessionID {
		return nil, fmt.Errorf("%w: %s", ErrNotOwner, cur.SessionID)
	}

	next := cur.Clone()
	next.Active = false
	if err := c.store.Write(dir, next); err != nil {
		return nil, fmt.Errorf("failed to persist pause: %w", err)
	}
	c.logger.Info("autopilot paused", "dir", dir, "phase", next.Phase, "iteration", next.Iteration)
	c.record(dir, journal.Entry{Kind: journal.KindPause, From: string(next.Phase), Iteration: next.Iteration, SessionID: cur.SessionID})
	return next, nil
}

func (c *Controller) load(dir string) (*state.Instance, error) {
	inst, err := c.store.Read(dir)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) || errors.Is(err, state.ErrInvalid) {
			return nil, fmt.Errorf("%w in %s: %w", ErrNotFound, dir, err)
		}
		return nil, err
	}
	return inst, nil
}

func (c *Controller) loadActive(dir string) (*state.Instance, error) {
	inst, err := c.load(dir)
	if err != nil {
		return nil, err
	}
	if !inst.Active {
		return nil, fmt.Errorf("%w (phase %s)", ErrInactive, inst.Phase)
	}
	return inst, nil
}

// acquire takes the state lock for dir, retrying while another process
// holds it until the lock timeout or ctx expires.
func (c *Controller) acquire(ctx context.Context, dir string) (*lockfile.Lock, error) {
	path := c.store.LockPath(dir)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 5 * time.Millisecond
	bo.MaxInterval = 100 * time.Millisecond
	bo.MaxElapsedTime = c.lockTimeout

	var lock *lockfile.Lock
	err := backoff.Retry(func() error {
		l, err := lockfile.TryAcquire(path)
		if errors.Is(err, lockfile.ErrLockBusy) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		lock = l
		return nil
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		if errors.Is(err, lockfile.ErrLockBusy) {
			return nil, fmt.Errorf("%w: %s", ErrBusy, path)
		}
		return nil, fmt.Errorf("failed to lock state: %w", err)
	}
	return lock, nil
}

func (c *Controller) newHandle(now time.Time) string {
	return fmt.Sprintf("%s-%s-%s", c.store.Workflow(), now.Format("20060102-150405"), uuid.NewString()[:8])
}

func (c *Controller) record(dir string, e journal.Entry) {
	if c.journal == nil {
		return
	}
	if e.At.IsZero() {
		e.At = c.now()
	}
	c.journal.Record(dir, e)
}
