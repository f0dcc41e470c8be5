// Package modes knows about the other persistent modes that share a project's
// state directory: which ones are mutually exclusive with the autopilot loop,
// and which dependent sub-modes the loop spawns and must clean up.
package modes

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"slices"

	"github.com/iambrandonn/loopkeeper/internal/fsutil"
	"github.com/iambrandonn/loopkeeper/internal/state"
)

// ExclusiveModes may not run at the same time in one directory.
var ExclusiveModes = []string{"autopilot", "ultrapilot", "swarm", "pipeline"}

// LocalSubmodes are directory-scoped helpers spawned during execution.
var LocalSubmodes = []string{"ultrawork", "ultraqa", "ecomode"}

// GlobalSubmodes also keep a user-scoped document shared across directories.
var GlobalSubmodes = []string{"ultrawork", "ecomode"}

// maxModeDocBytes bounds reads of foreign mode documents.
const maxModeDocBytes = 1 << 20

// IsSubmode reports whether name is a known dependent sub-mode.
func IsSubmode(name string) bool {
	return slices.Contains(LocalSubmodes, name)
}

// modeDoc is the slice of any mode document this package cares about.
type modeDoc struct {
	Active         bool   `json:"active"`
	OwnerSessionID string `json:"ownerSessionId"`
}

func readModeDoc(path string) (*modeDoc, error) {
	data, err := fsutil.ReadFileLimited(path, maxModeDocBytes)
	if err != nil {
		return nil, err
	}
	var doc modeDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return &doc, nil
}

// Registry answers whether a mode may start in a directory.
type Registry struct {
	logger *slog.Logger
}

// NewRegistry returns a Registry. A nil logger uses slog.Default().
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// CanStart reports whether mode may start in dir. When it may not, message
// explains which mode is in the way. The mode itself counts as a conflict
// when it is already active, so a live loop cannot be restarted over.
func (r *Registry) CanStart(mode, dir string) (bool, string) {
	if !slices.Contains(ExclusiveModes, mode) {
		return true, ""
	}
	for _, other := range ExclusiveModes {
		if !r.isActive(other, dir) {
			continue
		}
		if other == mode {
			return false, fmt.Sprintf("%s is already active in this directory. Cancel it first or resume it.", mode)
		}
		return false, fmt.Sprintf("Cannot start %s while %s is active. Cancel %s first.", mode, other, other)
	}
	return true, ""
}

// ActiveModes lists every exclusive mode or local sub-mode marked active in dir.
func (r *Registry) ActiveModes(dir string) []string {
	var active []string
	for _, m := range append(slices.Clone(ExclusiveModes), LocalSubmodes...) {
		if r.isActive(m, dir) {
			active = append(active, m)
		}
	}
	return active
}

func (r *Registry) isActive(mode, dir string) bool {
	doc, err := readModeDoc(state.ModePath(dir, mode))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			r.logger.Warn("ignoring unreadable mode state", "mode", mode, "error", err)
		}
		return false
	}
	return doc.Active
}

// Reaper deletes dependent sub-mode state.
type Reaper struct {
	globalDir string
	logger    *slog.Logger
}

// NewReaper returns a Reaper whose user-scoped documents live in globalDir.
func NewReaper(globalDir string, logger *slog.Logger) *Reaper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reaper{globalDir: globalDir, logger: logger}
}

// GlobalPath is the user-scoped document for a sub-mode.
func (r *Reaper) GlobalPath(mode string) string {
	return filepath.Join(r.globalDir, mode+"-state.json")
}

// PurgeSubmodes removes every local sub-mode document in dir, then each
// global document whose ownerSessionId equals sessionID (any global document
// when force is set). An empty sessionID owns nothing. Every deletion is
// attempted; the result is true only if none failed.
func (r *Reaper) PurgeSubmodes(dir, sessionID string, force bool) bool {
	ok := true

	for _, m := range LocalSubmodes {
		path := state.ModePath(dir, m)
		if err := fsutil.RemoveIfExists(path); err != nil {
			r.logger.Warn("failed to remove sub-mode state", "mode", m, "path", path, "error", err)
			ok = false
		}
	}

	if r.globalDir == "" {
		return ok
	}
	for _, m := range GlobalSubmodes {
		path := r.GlobalPath(m)
		if !force {
			doc, err := readModeDoc(path)
			if err != nil {
				if !errors.Is(err, fs.ErrNotExist) {
					r.logger.Warn("leaving unreadable global sub-mode state", "mode", m, "path", path, "error", err)
				}
				continue
			}
			if sessionID == "" || doc.OwnerSessionID != sessionID {
				r.logger.Debug("global sub-mode state owned by another session", "mode", m, "owner", doc.OwnerSessionID)
				continue
			}
		}
		if err := fsutil.RemoveIfExists(path); err != nil {
			r.logger.Warn("failed to remove global sub-mode state", "mode", m, "path", path, "error", err)
			ok = false
		}
	}
	return ok
}
