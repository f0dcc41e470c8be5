// Package workspace owns the on-disk layout a project directory gets once an
// autopilot loop has run in it.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
)

// RootDirName is the per-project directory every loop artifact lives under.
const RootDirName = ".omc"

// GetRequiredDirectories returns the directories, relative to the project,
// that Initialize creates.
func GetRequiredDirectories() []string {
	return []string{
		filepath.Join(RootDirName, "state"),    // <mode>-state.json documents
		filepath.Join(RootDirName, "notepads"), // <handle>/{learnings,decisions,issues,problems}.md
		filepath.Join(RootDirName, "logs"),     // <workflow>.ndjson transition journal
	}
}

// StateDir is where mode state documents are stored.
func StateDir(projectDir string) string {
	return filepath.Join(projectDir, RootDirName, "state")
}

// NotepadsDir is the root of every notepad handle.
func NotepadsDir(projectDir string) string {
	return filepath.Join(projectDir, RootDirName, "notepads")
}

// LogsDir holds append-only journals.
func LogsDir(projectDir string) string {
	return filepath.Join(projectDir, RootDirName, "logs")
}

// ConfigPath is the project-local config file consulted when --config is not given.
func ConfigPath(projectDir string) string {
	return filepath.Join(projectDir, RootDirName, "loopkeeper.yaml")
}

// Initialize creates all required directories with 0700 permissions.
// It is idempotent.
func Initialize(projectDir string) error {
	for _, dir := range GetRequiredDirectories() {
		path := filepath.Join(projectDir, dir)
		if err := os.MkdirAll(path, 0700); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", path, err)
		}
	}
	return nil
}

// IsInitialized reports whether every required directory exists.
func IsInitialized(projectDir string) (bool, error) {
	for _, dir := range GetRequiredDirectories() {
		path := filepath.Join(projectDir, dir)

		info, err := os.Stat(path)
		if os.IsNotExist(err) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("failed to check directory %s: %w", path, err)
		}
		if !info.IsDir() {
			return false, nil
		}
	}
	return true, nil
}
