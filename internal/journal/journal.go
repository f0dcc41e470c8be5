// Package journal keeps an append-only NDJSON history of lifecycle events for
// a project, one file per workflow under .omc/logs.
package journal

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/iambrandonn/loopkeeper/internal/ndjson"
	"github.com/iambrandonn/loopkeeper/internal/workspace"
)

// Kind names a journal event.
type Kind string

const (
	KindStart      Kind = "start"
	KindTransition Kind = "transition"
	KindIteration  Kind = "iteration"
	KindCeiling    Kind = "ceiling"
	KindPause      Kind = "pause"
	KindResume     Kind = "resume"
	KindStale      Kind = "stale"
	KindCancel     Kind = "cancel"
	KindFinish     Kind = "finish"
)

// Entry is one journal line.
type Entry struct {
	At        time.Time `json:"at"`
	Kind      Kind      `json:"kind"`
	Workflow  string    `json:"workflow"`
	From      string    `json:"from,omitempty"`
	To        string    `json:"to,omitempty"`
	Iteration int       `json:"iteration,omitempty"`
	SessionID string    `json:"sessionId,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

// Path is <dir>/.omc/logs/<workflow>.ndjson.
func Path(dir, workflow string) string {
	return filepath.Join(workspace.LogsDir(dir), workflow+".ndjson")
}

// Journal appends entries to a single file.
type Journal struct {
	file    *os.File
	encoder *ndjson.Encoder
	mu      sync.Mutex
}

// Open opens (creating if needed) the journal at path for appending.
func Open(path string, logger *slog.Logger) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	return &Journal{
		file:    file,
		encoder: ndjson.NewEncoder(file, logger),
	}, nil
}

// Write appends e.
func (j *Journal) Write(e Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.encoder.Encode(e)
}

// Close closes the underlying file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file != nil {
		err := j.file.Close()
		j.file = nil
		return err
	}
	return nil
}

// Recorder appends one entry per call, opening and closing the file each
// time. Each hook invocation is its own process, so there is nothing to keep
// open between calls. Failures are logged and swallowed.
type Recorder struct {
	workflow string
	logger   *slog.Logger
}

// NewRecorder returns a Recorder for workflow.
func NewRecorder(workflow string, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{workflow: workflow, logger: logger}
}

// Record appends e to dir's journal, filling in At and Workflow when unset.
func (r *Recorder) Record(dir string, e Entry) {
	if r == nil {
		return
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	if e.Workflow == "" {
		e.Workflow = r.workflow
	}

	j, err := Open(Path(dir, r.workflow), r.logger)
	if err != nil {
		r.logger.Warn("journal unavailable", "error", err)
		return
	}
	defer j.Close()

	if err := j.Write(e); err != nil {
		r.logger.Warn("failed to write journal entry", "kind", e.Kind, "error", err)
	}
}

// ReadAll returns every entry in the journal at path, oldest first. A missing
// journal yields no entries.
func ReadAll(path string, logger *slog.Logger) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	defer f.Close()

	dec := ndjson.NewDecoder(f, logger)
	var entries []Entry
	for {
		var e Entry
		err := dec.Decode(&e)
		if err == io.EOF {
			return entries, nil
		}
		if err != nil {
			return entries, err
		}
		entries = append(entries, e)
	}
}
