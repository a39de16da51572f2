package mount

import (
	"errors"
	"fmt"
)

var (
	ErrSymlinkedDir  = errors.New("symlinked directory in mount")
	ErrDuplicatePath = errors.New("duplicate remote path in mount")
	ErrNotDirectory  = errors.New("expected directory")
	ErrNotFile       = errors.New("expected file")
	ErrInvalidRemote = errors.New("invalid remote path")
)

// ConfigError is a configuration diagnostic. It is fatal to the spec
// being enumerated and names the offending local path.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("mount config: %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

type WarningKind string

const (
	// WarnUnreadable: the entry exists but could not be read or listed.
	WarnUnreadable WarningKind = "unreadable"
	// WarnClassification: the entry could not be typed, e.g. a
	// dangling symlink. It is excluded.
	WarnClassification WarningKind = "classification"
)

// Warning is a non-fatal, per-entry problem. The entry is skipped and
// enumeration continues.
type Warning struct {
	Kind WarningKind
	Path string
	Err  error
}

func (w *Warning) Error() string {
	return fmt.Sprintf("%s: %s: %v", w.Kind, w.Path, w.Err)
}

func (w *Warning) Unwrap() error { return w.Err }

// IsWarning reports whether err is a non-fatal Warning.
func IsWarning(err error) bool {
	var w *Warning
	return errors.As(err, &w)
}
