// Package classify decides which filesystem entries belong in a mount.
package classify

import (
	"strings"

	"github.com/tqbf/automount/pkg/paths"
)

// Type is the kind of a filesystem entry as seen by the walker.
type Type int

const (
	File Type = iota
	Dir
	Symlink
)

func (t Type) String() string {
	switch t {
	case File:
		return "file"
	case Dir:
		return "dir"
	case Symlink:
		return "symlink"
	default:
		return "unknown"
	}
}

// CacheArtifacts are compiled or cached outputs that never ship,
// wherever they appear.
var CacheArtifacts = []string{
	"__pycache__/",
	"*.pyc",
	"*.pyo",
	"*$py.class",
}

// Entry describes a candidate. RelPath is slash-separated and
// relative to the mount root; the root itself has RelPath ".".
type Entry struct {
	RelPath string
	Type    Type
	IsRoot  bool
}

// Classifier is safe for concurrent use once built.
type Classifier struct {
	artifacts *paths.ExcludeMatcher
	extra     *paths.ExcludeMatcher
}

// New returns a Classifier. extra patterns exclude additional
// entries; they can never re-include something the built-in rules
// reject.
func New(extra []string) *Classifier {
	return &Classifier{
		artifacts: paths.NewExcludeMatcher(CacheArtifacts),
		extra:     paths.NewExcludeMatcher(extra),
	}
}

// Default is a Classifier with no extra patterns.
var Default = New(nil)

func (c *Classifier) ShouldInclude(e Entry) bool {
	if e.IsRoot {
		return e.Type == Dir || e.Type == File || e.Type == Symlink
	}
	rel := paths.CleanRelPath(strings.TrimPrefix(e.RelPath, "/"))
	if rel == "." || rel == "" {
		return true
	}
	if paths.HasHiddenComponent(rel) {
		return false
	}
	isDir := e.Type == Dir
	if c.artifacts.Match(rel, isDir) {
		return false
	}
	if c.extra.Match(rel, isDir) {
		return false
	}
	return true
}
