// Package fsutil holds the small set of filesystem primitives the loop state
// depends on: crash-safe replacement of a document, bounded reads, and
// containment checks for paths derived from persisted identifiers.
package fsutil

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrTooLarge is returned by ReadFileLimited when a file exceeds the limit.
var ErrTooLarge = errors.New("file exceeds size limit")

// AtomicWrite replaces path with data so that readers observe either the
// previous complete file or the new complete file:
//  1. write to .<basename>.tmp.<pid>.<rand> in the same directory
//  2. fsync the temp file
//  3. rename over path
//  4. fsync the directory
//
// Files are created 0600 and missing parent directories 0700.
func AtomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmpPath, err := tempPathFor(path)
	if err != nil {
		return fmt.Errorf("failed to generate temp path: %w", err)
	}

	tmpFile, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	committed := false
	defer func() {
		tmpFile.Close()
		if !committed {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	committed = true

	if err := syncDir(dir); err != nil {
		return fmt.Errorf("failed to sync directory: %w", err)
	}
	return nil
}

// AtomicWriteJSON marshals v with two-space indentation and a trailing
// newline, then writes it with AtomicWrite.
func AtomicWriteJSON(path string, v any) error {
	if v == nil {
		return fmt.Errorf("cannot write nil value")
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	data = append(data, '\n')

	return AtomicWrite(path, data)
}

// ReadFileLimited reads the whole file at path, failing with ErrTooLarge
// instead of returning a truncated prefix when it holds more than maxBytes.
func ReadFileLimited(path string, maxBytes int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%s: %w (%d bytes)", path, ErrTooLarge, maxBytes)
	}
	return data, nil
}

// RemoveIfExists deletes path. A file that is already gone is not an error.
func RemoveIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Exists reports whether path can be stat'ed.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// ResolveWithin joins relative onto root and rejects results that escape root,
// either lexically or through a symlink. root must already exist.
func ResolveWithin(root, relative string) (string, error) {
	rootAbs, err := filepath.EvalSymlinks(filepath.Clean(root))
	if err != nil {
		return "", fmt.Errorf("failed to resolve root: %w", err)
	}

	if relative == "" || filepath.IsAbs(relative) {
		return "", fmt.Errorf("path must be relative and non-empty: %q", relative)
	}

	cleanPath := filepath.Join(rootAbs, relative)
	rel, err := filepath.Rel(rootAbs, cleanPath)
	if err != nil {
		return "", fmt.Errorf("failed to compute relative path: %w", err)
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes %s: %s", root, relative)
	}

	if _, err := os.Lstat(cleanPath); err == nil {
		resolved, err := filepath.EvalSymlinks(cleanPath)
		if err != nil {
			return "", fmt.Errorf("failed to resolve symlinks: %w", err)
		}
		resolvedRel, err := filepath.Rel(rootAbs, resolved)
		if err != nil || resolvedRel == ".." || strings.HasPrefix(resolvedRel, ".."+string(filepath.Separator)) {
			return "", fmt.Errorf("symlink escapes %s: %s", root, relative)
		}
		return resolved, nil
	}

	return cleanPath, nil
}

// tempPathFor builds .<basename>.tmp.<pid>.<8 hex chars> next to path.
func tempPathFor(path string) (string, error) {
	randBytes := make([]byte, 4)
	if _, err := rand.Read(randBytes); err != nil {
		return "", fmt.Errorf("failed to generate random suffix: %w", err)
	}

	name := fmt.Sprintf(".%s.tmp.%d.%s", filepath.Base(path), os.Getpid(), hex.EncodeToString(randBytes))
	return filepath.Join(filepath.Dir(path), name), nil
}

// syncDir makes a rename in dir durable.
func syncDir(path string) error {
	dir, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open directory: %w", err)
	}
	defer dir.Close()

	if err := dir.Sync(); err != nil {
		return fmt.Errorf("failed to sync directory: %w", err)
	}
	return nil
}
