package state

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"

	"github.com/iambrandonn/loopkeeper/internal/fsutil"
	"github.com/iambrandonn/loopkeeper/internal/workspace"
)

// DefaultWorkflow is the workflow family this tool drives.
const DefaultWorkflow = "autopilot"

// MaxDocumentBytes caps how much of a state file is read.
const MaxDocumentBytes = 1 << 20

// ErrNotFound is returned when no document exists for the directory.
var ErrNotFound = errors.New("no state document")

// Store persists instances of one workflow family.
type Store struct {
	workflow string
	logger   *slog.Logger
}

// NewStore returns a store for workflow documents. A nil logger uses slog.Default().
func NewStore(workflow string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{workflow: workflow, logger: logger}
}

// Workflow is the family name used in file paths.
func (s *Store) Workflow() string { return s.workflow }

// Path is <dir>/.omc/state/<workflow>-state.json.
func (s *Store) Path(dir string) string {
	return ModePath(dir, s.workflow)
}

// LockPath is the advisory lock file guarding read-modify-write cycles.
func (s *Store) LockPath(dir string) string {
	return s.Path(dir) + ".lock"
}

// ModePath returns the state document path for any mode name in dir.
func ModePath(dir, mode string) string {
	return filepath.Join(workspace.StateDir(dir), mode+"-state.json")
}

// Read loads and validates the document for dir. It returns ErrNotFound when
// the file is absent and an error wrapping ErrInvalid when it is malformed.
func (s *Store) Read(dir string) (*Instance, error) {
	path := s.Path(dir)

	data, err := fsutil.ReadFileLimited(path, MaxDocumentBytes)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		if errors.Is(err, fsutil.ErrTooLarge) {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		return nil, fmt.Errorf("failed to read state: %w", err)
	}

	inst, err := Decode(data)
	if err != nil {
		s.logger.Warn("rejecting state document", "path", path, "error", err)
		return nil, err
	}
	return inst, nil
}

// Load is Read with every failure collapsed to absence.
func (s *Store) Load(dir string) *Instance {
	inst, err := s.Read(dir)
	if err != nil {
		return nil
	}
	return inst
}

// Write validates inst and replaces the document atomically.
func (s *Store) Write(dir string, inst *Instance) error {
	if err := Validate(inst); err != nil {
		return err
	}
	if err := fsutil.AtomicWriteJSON(s.Path(dir), inst); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}
	return nil
}

// Delete removes the document. Deleting an absent document succeeds.
func (s *Store) Delete(dir string) error {
	if err := fsutil.RemoveIfExists(s.Path(dir)); err != nil {
		return fmt.Errorf("failed to delete state: %w", err)
	}
	return nil
}

// Exists reports whether a document file is present, valid or not.
func (s *Store) Exists(dir string) bool {
	return fsutil.Exists(s.Path(dir))
}
