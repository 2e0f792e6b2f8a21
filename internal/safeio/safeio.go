package safeio

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// WorkDir confines all pipeline file access to a fixed root directory.
// Measurement sets, calibration tables, data products and saved state all
// live under the root; any path resolving outside it is rejected.
type WorkDir struct {
	absRoot string // absolute root with symlinks resolved
}

// NewWorkDir binds all future operations to the given root directory.
// The root is resolved to an absolute, symlink-free directory and must exist.
func NewWorkDir(root string) (*WorkDir, error) {
	if root == "" {
		return nil, errors.New("safeio: empty root")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	abs, err = filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, errors.New("safeio: root is not a directory")
	}
	return &WorkDir{absRoot: abs}, nil
}

// Root returns the absolute root directory bound to this WorkDir.
func (w *WorkDir) Root() string {
	if w == nil {
		return ""
	}
	return w.absRoot
}

// Resolve maps a working-directory-relative path to an absolute one,
// rejecting traversal outside the root. The target does not need to exist.
func (w *WorkDir) Resolve(rel string) (string, error) {
	if w == nil {
		return "", errors.New("safeio: working directory not configured")
	}
	if rel == "" {
		return "", errors.New("safeio: empty path")
	}
	clean := filepath.Clean(rel)
	if clean == "." {
		return w.absRoot, nil
	}
	if filepath.IsAbs(clean) {
		if !hasPathPrefix(clean, w.absRoot) {
			return "", fmt.Errorf("safeio: %s is outside the working directory %s", clean, w.absRoot)
		}
		return clean, nil
	}
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", errors.New("safeio: path traversal not allowed")
	}
	return filepath.Join(w.absRoot, clean), nil
}

// ReadFile reads a file relative to the root.
func (w *WorkDir) ReadFile(rel string) ([]byte, error) {
	p, err := w.Resolve(rel)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(p)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, errors.New("safeio: path is a directory")
	}
	return os.ReadFile(p)
}

// Stat returns metadata for a file or directory under the root.
func (w *WorkDir) Stat(rel string) (fs.FileInfo, error) {
	p, err := w.Resolve(rel)
	if err != nil {
		return nil, err
	}
	return os.Stat(p)
}

// ReadDir lists entries for a directory relative to the root.
func (w *WorkDir) ReadDir(rel string) ([]fs.DirEntry, error) {
	p, err := w.Resolve(rel)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(p)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, errors.New("safeio: path is not a directory")
	}
	return os.ReadDir(p)
}

// MkdirAll creates a directory (and parents) relative to the root.
func (w *WorkDir) MkdirAll(rel string) error {
	p, err := w.Resolve(rel)
	if err != nil {
		return err
	}
	return os.MkdirAll(p, 0o755)
}

// WriteFileAtomic writes data to a file relative to the root via a temp file
// and rename, so a crash mid-write never leaves a truncated checkpoint behind.
func (w *WorkDir) WriteFileAtomic(rel string, data []byte) error {
	p, err := w.Resolve(rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, p)
}

// Remove deletes a file relative to the root. Missing files are not an error.
func (w *WorkDir) Remove(rel string) error {
	p, err := w.Resolve(rel)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Open implements fs.FS (names use "/" separators).
func (w *WorkDir) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, fs.ErrInvalid
	}
	p, err := w.Resolve(filepath.FromSlash(name))
	if err != nil {
		return nil, err
	}
	return os.Open(p)
}

func hasPathPrefix(path, root string) bool {
	path = filepath.Clean(path)
	root = filepath.Clean(root)
	if path == root {
		return true
	}
	sep := string(os.PathSeparator)
	if !strings.HasSuffix(root, sep) {
		root += sep
	}
	return strings.HasPrefix(path, root)
}
