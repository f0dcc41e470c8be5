// Package notepad is the cross-iteration notes store. Each handle owns a
// directory of four markdown files (learnings, decisions, issues, problems)
// that only ever grow; the loop reads them back to rebuild context for the
// next turn.
package notepad

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/iambrandonn/loopkeeper/internal/fsutil"
	"github.com/iambrandonn/loopkeeper/internal/workspace"
)

// Category names one of the four notes files.
type Category string

const (
	Learnings Category = "learnings"
	Decisions Category = "decisions"
	Issues    Category = "issues"
	Problems  Category = "problems"
)

// Categories lists every category in display order.
var Categories = []Category{Learnings, Decisions, Issues, Problems}

var titles = map[Category]string{
	Learnings: "Learnings",
	Decisions: "Decisions",
	Issues:    "Issues",
	Problems:  "Problems",
}

// ErrNotFound is returned when a handle has never been initialised.
var ErrNotFound = errors.New("notepad not found")

const entryPrefix = "## "

// Entry is one appended note.
type Entry struct {
	At   time.Time
	Text string
}

// Wisdom is everything recorded under a handle.
type Wisdom struct {
	Learnings []Entry
	Decisions []Entry
	Issues    []Entry
	Problems  []Entry
}

// Empty reports whether no category has entries.
func (w *Wisdom) Empty() bool {
	return w == nil || len(w.Learnings)+len(w.Decisions)+len(w.Issues)+len(w.Problems) == 0
}

// Get returns the entries for c.
func (w *Wisdom) Get(c Category) []Entry {
	switch c {
	case Learnings:
		return w.Learnings
	case Decisions:
		return w.Decisions
	case Issues:
		return w.Issues
	case Problems:
		return w.Problems
	}
	return nil
}

// Store reads and appends notepads beneath <dir>/.omc/notepads.
type Store struct {
	now    func() time.Time
	logger *slog.Logger
}

// NewStore returns a Store. A nil logger uses slog.Default().
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{now: func() time.Time { return time.Now().UTC() }, logger: logger}
}

// Init creates the handle directory and an empty, titled file per category.
// Existing files are left alone.
func (s *Store) Init(handle, dir string) error {
	hdir, err := s.handleDir(handle, dir, true)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(hdir, 0700); err != nil {
		return fmt.Errorf("failed to create notepad %s: %w", handle, err)
	}
	for _, c := range Categories {
		path := filepath.Join(hdir, string(c)+".md")
		if fsutil.Exists(path) {
			continue
		}
		header := fmt.Sprintf("# %s\n\n", titles[c])
		if err := fsutil.AtomicWrite(path, []byte(header)); err != nil {
			return fmt.Errorf("failed to initialise %s: %w", path, err)
		}
	}
	s.logger.Debug("notepad initialised", "handle", handle, "path", hdir)
	return nil
}

func (s *Store) AddLearning(handle, text, dir string) error { return s.Append(handle, Learnings, text, dir) }
func (s *Store) AddDecision(handle, text, dir string) error { return s.Append(handle, Decisions, text, dir) }
func (s *Store) AddIssue(handle, text, dir string) error    { return s.Append(handle, Issues, text, dir) }
func (s *Store) AddProblem(handle, text, dir string) error  { return s.Append(handle, Problems, text, dir) }

// Append adds a timestamped entry to the category file. The handle must
// have been initialised.
func (s *Store) Append(handle string, c Category, text, dir string) error {
	if _, ok := titles[c]; !ok {
		return fmt.Errorf("unknown notepad category %q", c)
	}
	hdir, err := s.handleDir(handle, dir, false)
	if err != nil {
		return err
	}
	if !fsutil.Exists(hdir) {
		return fmt.Errorf("%w: %s", ErrNotFound, handle)
	}

	f, err := os.OpenFile(filepath.Join(hdir, string(c)+".md"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("failed to open %s notes: %w", c, err)
	}
	defer f.Close()

	block := fmt.Sprintf("%s%s\n%s\n\n", entryPrefix, s.now().Format(time.RFC3339), escape(strings.TrimSpace(text)))
	if _, err := f.WriteString(block); err != nil {
		return fmt.Errorf("failed to append %s note: %w", c, err)
	}
	return f.Sync()
}

// Read parses every category file for handle.
func (s *Store) Read(handle, dir string) (*Wisdom, error) {
	hdir, err := s.handleDir(handle, dir, false)
	if err != nil {
		return nil, err
	}
	if !fsutil.Exists(hdir) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, handle)
	}

	w := &Wisdom{}
	for _, c := range Categories {
		entries, err := readEntries(filepath.Join(hdir, string(c)+".md"))
		if err != nil {
			return nil, err
		}
		switch c {
		case Learnings:
			w.Learnings = entries
		case Decisions:
			w.Decisions = entries
		case Issues:
			w.Issues = entries
		case Problems:
			w.Problems = entries
		}
	}
	return w, nil
}

// handleDir resolves handle beneath the notepads root. Only Init passes
// create; readers and appenders never make directories.
func (s *Store) handleDir(handle, dir string, create bool) (string, error) {
	if strings.ContainsRune(handle, filepath.Separator) {
		return "", fmt.Errorf("invalid notepad handle %q", handle)
	}
	root := workspace.NotepadsDir(dir)
	if create {
		if err := os.MkdirAll(root, 0700); err != nil {
			return "", fmt.Errorf("failed to create notepads root: %w", err)
		}
	} else if !fsutil.Exists(root) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, handle)
	}
	path, err := fsutil.ResolveWithin(root, handle)
	if err != nil {
		return "", fmt.Errorf("invalid notepad handle %q: %w", handle, err)
	}
	return path, nil
}

func readEntries(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	var (
		entries []Entry
		cur     *Entry
		body    []string
	)
	flush := func() {
		if cur != nil {
			cur.Text = unescape(strings.TrimSpace(strings.Join(body, "\n")))
			entries = append(entries, *cur)
		}
		cur, body = nil, nil
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if rest, ok := strings.CutPrefix(line, entryPrefix); ok {
			at, err := time.Parse(time.RFC3339, strings.TrimSpace(rest))
			if err == nil {
				flush()
				cur = &Entry{At: at}
				continue
			}
		}
		if cur != nil {
			body = append(body, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	flush()
	return entries, nil
}

// escape keeps note text from being mistaken for an entry header.
func escape(text string) string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		if strings.HasPrefix(l, entryPrefix) || strings.HasPrefix(l, `\`+entryPrefix) {
			lines[i] = `\` + l
		}
	}
	return strings.Join(lines, "\n")
}

func unescape(text string) string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		if strings.HasPrefix(l, `\`+entryPrefix) || strings.HasPrefix(l, `\\`+entryPrefix) {
			lines[i] = l[1:]
		}
	}
	return strings.Join(lines, "\n")
}
