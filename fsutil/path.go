// Package fsutil resolves client-supplied paths against a base directory.
package fsutil

import (
	"errors"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"file-explorer/common"
)

// Resolve joins rel onto base and returns the absolute result. Paths that
// climb out of base are rejected rather than clamped.
func Resolve(base, rel string) (string, error) {
	if strings.ContainsRune(rel, 0) {
		return "", common.Validation("Invalid path")
	}

	full := filepath.Join(base, filepath.FromSlash(rel))
	if !Within(base, full) {
		return "", common.AccessDenied("Access denied")
	}

	return full, nil
}

// ResolveIn is Resolve followed by Confine: the returned path is below base
// both as written and once its symlinks are followed.
func ResolveIn(fsys afero.Fs, base, rel string) (string, error) {
	full, err := Resolve(base, rel)
	if err != nil {
		return "", err
	}
	if err := Confine(fsys, base, full); err != nil {
		return "", err
	}
	return full, nil
}

// Confine rejects full when following its symlinks on the operating system
// filesystem leads outside base. Paths that do not exist pass; the caller's
// own Stat reports them. Other afero filesystems have no symlinks to follow.
func Confine(fsys afero.Fs, base, full string) error {
	if _, ok := fsys.(*afero.OsFs); !ok {
		return nil
	}

	realBase, err := filepath.EvalSymlinks(base)
	if err != nil {
		return common.Internal("Failed to resolve root", err)
	}
	resolved, err := filepath.EvalSymlinks(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return common.Internal("Failed to resolve path", err)
	}
	if !Within(realBase, resolved) {
		return common.AccessDenied("Access denied")
	}
	return nil
}

// Within reports whether target is base itself or lies below it.
func Within(base, target string) bool {
	r, err := filepath.Rel(filepath.Clean(base), filepath.Clean(target))
	if err != nil {
		return false
	}
	return r != ".." && !strings.HasPrefix(r, ".."+string(filepath.Separator))
}

// Relative returns target relative to base with forward slashes, as sent to clients.
func Relative(base, target string) string {
	r, err := filepath.Rel(base, target)
	if err != nil || r == "." {
		return ""
	}
	return filepath.ToSlash(r)
}

// IsBareName reports whether name is a single path element (no separators, not "." or "..").
func IsBareName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`) && !strings.ContainsRune(name, 0)
}
