package paths

import (
	"path/filepath"
	"strings"
)

// ExcludeMatcher matches slash-separated paths relative to a mount
// root against glob patterns. A bare name matches any path component,
// a pattern with a slash is anchored at the root, "**" spans
// directories, and a trailing slash restricts the pattern to
// directories.
type ExcludeMatcher struct {
	patterns []excludePattern
}

type excludePattern struct {
	glob    string
	dirOnly bool
}

func NewExcludeMatcher(patterns []string) *ExcludeMatcher {
	m := &ExcludeMatcher{}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" || strings.HasPrefix(p, "#") {
			continue
		}
		ep := excludePattern{glob: p}
		if strings.HasSuffix(p, "/") {
			ep.glob = strings.TrimSuffix(p, "/")
			ep.dirOnly = true
		}
		m.patterns = append(m.patterns, ep)
	}
	return m
}

func (m *ExcludeMatcher) Len() int {
	if m == nil {
		return 0
	}
	return len(m.patterns)
}

// Match reports whether relPath, or any of its parent directories,
// is excluded. isDir describes the last component of relPath.
func (m *ExcludeMatcher) Match(relPath string, isDir bool) bool {
	if m == nil {
		return false
	}
	for _, pat := range m.patterns {
		if matchPattern(pat, relPath, isDir) {
			return true
		}
	}
	return false
}

func matchPattern(
	pat excludePattern, relPath string, isDir bool,
) bool {
	if strings.Contains(pat.glob, "/") {
		return matchPathPattern(pat.glob, relPath)
	}
	parts := strings.Split(relPath, "/")
	for i, part := range parts {
		// Earlier components are always directories.
		last := i == len(parts)-1
		if pat.dirOnly && last && !isDir {
			continue
		}
		if matched, _ := filepath.Match(pat.glob, part); matched {
			return true
		}
	}
	if strings.Contains(pat.glob, "**") {
		return matchDoublestar(pat.glob, relPath)
	}
	return false
}

func matchPathPattern(pattern, relPath string) bool {
	if strings.Contains(pattern, "**") {
		return matchDoublestar(pattern, relPath)
	}
	if matched, _ := filepath.Match(pattern, relPath); matched {
		return true
	}
	// An anchored directory pattern also covers everything below it.
	parts := strings.Split(relPath, "/")
	for i := 1; i < len(parts); i++ {
		prefix := strings.Join(parts[:i], "/")
		if matched, _ := filepath.Match(pattern, prefix); matched {
			return true
		}
	}
	return false
}

func matchDoublestar(pattern, relPath string) bool {
	parts := strings.Split(pattern, "**")
	if len(parts) != 2 {
		return false
	}
	prefix := strings.TrimSuffix(parts[0], "/")
	suffix := strings.TrimPrefix(parts[1], "/")

	if prefix == "" && suffix == "" {
		return true
	}
	if prefix == "" {
		return matchSuffix(suffix, relPath)
	}
	if suffix == "" {
		return strings.HasPrefix(relPath, prefix+"/") ||
			relPath == prefix
	}
	if !strings.HasPrefix(relPath, prefix+"/") {
		return false
	}
	return matchSuffix(
		suffix,
		strings.TrimPrefix(relPath, prefix+"/"),
	)
}

func matchSuffix(suffix, relPath string) bool {
	parts := strings.Split(relPath, "/")
	for i := range parts {
		tail := strings.Join(parts[i:], "/")
		if matched, _ := filepath.Match(suffix, tail); matched {
			return true
		}
	}
	return false
}
