package closure

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

type Kind int

const (
	// KindScript is a file run directly; it has no package.
	KindScript Kind = iota
	// KindModule is a dotted module name run from the working
	// directory.
	KindModule
	// KindSerialized is a callable shipped by value whose defining
	// file was recorded when it was serialized.
	KindSerialized
)

func (k Kind) String() string {
	switch k {
	case KindScript:
		return "script"
	case KindModule:
		return "module"
	case KindSerialized:
		return "serialized"
	default:
		return "unknown"
	}
}

// Entrypoint is what a function was registered from.
type Entrypoint struct {
	Kind Kind
	// Path is the script or recorded origin file.
	Path string
	// Module is the dotted name in module mode.
	Module string
}

func Script(path string) Entrypoint {
	return Entrypoint{Kind: KindScript, Path: path}
}

func ModuleEntry(name string) Entrypoint {
	return Entrypoint{Kind: KindModule, Module: name}
}

func Serialized(origin string) Entrypoint {
	return Entrypoint{Kind: KindSerialized, Path: origin}
}

func (e Entrypoint) String() string {
	if e.Kind == KindModule {
		return "module " + e.Module
	}
	return fmt.Sprintf("%s %s", e.Kind, e.Path)
}

var moduleNameRe = regexp.MustCompile(`^[A-Za-z_]\w*(\.[A-Za-z_]\w*)*$`)

// ParseEntrypoint interprets a command line argument. With asModule
// the argument must be a dotted name. Otherwise a path ending in .py
// or naming an existing file is a script, and a dotted name is a
// module.
func ParseEntrypoint(arg string, asModule bool) (Entrypoint, error) {
	if asModule {
		if !moduleNameRe.MatchString(arg) {
			return Entrypoint{}, fmt.Errorf("invalid module name %q", arg)
		}
		return ModuleEntry(arg), nil
	}
	if strings.HasSuffix(arg, ".py") {
		return Script(arg), nil
	}
	if info, err := os.Stat(arg); err == nil && !info.IsDir() {
		return Script(arg), nil
	}
	if moduleNameRe.MatchString(arg) {
		return ModuleEntry(arg), nil
	}
	return Entrypoint{}, fmt.Errorf(
		"%w: %q is neither a script nor a module name",
		ErrAmbiguousEntrypoint, arg)
}
