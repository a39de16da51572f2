package paths

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// HiddenPrefix marks a hidden file or directory name.
const HiddenPrefix = "."

func ValidateRelPath(p string) error {
	if p == "" {
		return fmt.Errorf("empty path")
	}
	if strings.ContainsRune(p, 0) {
		return fmt.Errorf("path contains null byte")
	}
	if path.IsAbs(p) {
		return fmt.Errorf("absolute path not allowed: %s", p)
	}
	cleaned := path.Clean(p)
	if cleaned == "." {
		return fmt.Errorf("path resolves to current directory")
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return fmt.Errorf(
			"path escapes base directory: %s", p,
		)
	}
	return nil
}

func CleanRelPath(p string) string {
	p = path.Clean(p)
	p = strings.TrimPrefix(p, "./")
	return p
}

// RemoteJoin joins a remote prefix and a relative path into an
// absolute slash-separated remote path.
func RemoteJoin(prefix, rel string) string {
	if prefix == "" {
		prefix = "/"
	}
	return path.Join("/", prefix, filepath.ToSlash(rel))
}

func IsWithinDir(dir, full string) bool {
	rel, err := filepath.Rel(dir, full)
	if err != nil {
		return false
	}
	return rel != ".." &&
		!strings.HasPrefix(rel, ".."+string(filepath.Separator)) &&
		!filepath.IsAbs(rel)
}

// IsWithinAny reports whether full is inside any of dirs.
func IsWithinAny(dirs []string, full string) bool {
	for _, d := range dirs {
		if IsWithinDir(d, full) {
			return true
		}
	}
	return false
}

// HasHiddenComponent reports whether any component of the
// slash-separated relPath starts with HiddenPrefix.
func HasHiddenComponent(relPath string) bool {
	for _, part := range strings.Split(relPath, "/") {
		if part == "." || part == "" {
			continue
		}
		if strings.HasPrefix(part, HiddenPrefix) {
			return true
		}
	}
	return false
}

// Resolve returns the absolute, symlink-free form of p. When p (or a
// parent) does not exist it falls back to the cleaned absolute path
// after resolving the longest existing prefix.
func Resolve(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("abs %s: %w", p, err)
	}
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		return real, nil
	}

	var tail []string
	cur := abs
	for {
		parent := filepath.Dir(cur)
		tail = append([]string{filepath.Base(cur)}, tail...)
		if parent == cur {
			return abs, nil
		}
		if real, err := filepath.EvalSymlinks(parent); err == nil {
			return filepath.Join(append([]string{real}, tail...)...), nil
		}
		cur = parent
	}
}
