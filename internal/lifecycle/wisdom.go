package lifecycle

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/iambrandonn/loopkeeper/internal/notepad"
	"github.com/iambrandonn/loopkeeper/internal/state"
)

// TruncationMarker ends every entry cut down to the configured length.
const TruncationMarker = "... [truncated]"

// AddLearning appends text to the instance's learnings and mirrors it to the
// notepad. It reports whether the instance write succeeded.
func (c *Controller) AddLearning(ctx context.Context, dir, text string) (bool, error) {
	return c.addBounded(ctx, dir, notepad.Learnings, text)
}

// AddIssue is AddLearning for issues.
func (c *Controller) AddIssue(ctx context.Context, dir, text string) (bool, error) {
	return c.addBounded(ctx, dir, notepad.Issues, text)
}

// AddDecision records a decision in the notepad only.
func (c *Controller) AddDecision(ctx context.Context, dir, text string) (bool, error) {
	return c.addNote(dir, notepad.Decisions, text)
}

// AddProblem records a problem in the notepad only.
func (c *Controller) AddProblem(ctx context.Context, dir, text string) (bool, error) {
	return c.addNote(dir, notepad.Problems, text)
}

func (c *Controller) addBounded(ctx context.Context, dir string, cat notepad.Category, text string) (bool, error) {
	lock, err := c.acquire(ctx, dir)
	if err != nil {
		return false, err
	}
	defer lock.Release()

	cur, err := c.load(dir)
	if err != nil {
		return false, err
	}

	entry := Truncate(text, c.limits.MaxEntryLength)
	next := cur.Clone()
	switch cat {
	case notepad.Learnings:
		next.Learnings = appendBounded(next.Learnings, entry, c.limits.MaxLearnings)
	case notepad.Issues:
		next.Issues = appendBounded(next.Issues, entry, c.limits.MaxIssues)
	default:
		return false, fmt.Errorf("%s are not kept on the instance", cat)
	}

	if err := c.mirror(next, cat, entry, dir); err != nil {
		c.logger.Warn("failed to mirror note", "category", cat, "handle", next.NotesHandle, "error", err)
	}

	if err := c.store.Write(dir, next); err != nil {
		return false, fmt.Errorf("failed to persist %s: %w", cat, err)
	}
	return true, nil
}

func (c *Controller) addNote(dir string, cat notepad.Category, text string) (bool, error) {
	cur, err := c.load(dir)
	if err != nil {
		return false, err
	}
	if err := c.mirror(cur, cat, Truncate(text, c.limits.MaxEntryLength), dir); err != nil {
		return false, fmt.Errorf("failed to record %s: %w", cat, err)
	}
	return true, nil
}

func (c *Controller) mirror(inst *state.Instance, cat notepad.Category, text, dir string) error {
	switch cat {
	case notepad.Learnings:
		return c.notes.AddLearning(inst.NotesHandle, text, dir)
	case notepad.Decisions:
		return c.notes.AddDecision(inst.NotesHandle, text, dir)
	case notepad.Issues:
		return c.notes.AddIssue(inst.NotesHandle, text, dir)
	case notepad.Problems:
		return c.notes.AddProblem(inst.NotesHandle, text, dir)
	}
	return fmt.Errorf("unknown notepad category %q", cat)
}

// Truncate cuts text to at most limit runes. Cut text ends in
// TruncationMarker unless limit is too small to hold it.
func Truncate(text string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	marker := []rune(TruncationMarker)
	if limit <= len(marker) {
		return string(runes[:limit])
	}
	return string(runes[:limit-len(marker)]) + TruncationMarker
}

// appendBounded appends entry and drops the oldest entries beyond limit.
func appendBounded(list []string, entry string, limit int) []string {
	list = append(list, entry)
	if limit > 0 && len(list) > limit {
		list = append([]string(nil), list[len(list)-limit:]...)
	}
	return list
}
