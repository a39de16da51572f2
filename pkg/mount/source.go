package mount

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"github.com/tqbf/automount/pkg/classify"
	"github.com/tqbf/automount/pkg/paths"
)

// Source contributes entries to a Spec.
type Source interface {
	// LocalRoot is the local directory or file the source reads.
	LocalRoot() string
	// walk yields entries whose RemotePath is relative to the
	// spec prefix. It returns false when yield asked to stop or a
	// fatal error was yielded.
	walk(yield func(FileEntry, error) bool) bool
}

// Dir contributes every included file under Local, placed under
// Remote (relative to the spec prefix; "" places files at the
// prefix itself).
type Dir struct {
	Local      string
	Remote     string
	Classifier *classify.Classifier
}

func (d *Dir) LocalRoot() string { return d.Local }

func (d *Dir) classifier() *classify.Classifier {
	if d.Classifier == nil {
		return classify.Default
	}
	return d.Classifier
}

func (d *Dir) walk(yield func(FileEntry, error) bool) bool {
	root, err := filepath.Abs(d.Local)
	if err != nil {
		return fail(yield, &ConfigError{Path: d.Local, Err: err})
	}
	info, err := os.Stat(root)
	if err != nil {
		return fail(yield, &ConfigError{Path: root, Err: err})
	}
	if !info.IsDir() {
		return fail(yield, &ConfigError{Path: root, Err: ErrNotDirectory})
	}
	if d.Remote != "" {
		if err := paths.ValidateRelPath(d.Remote); err != nil {
			return fail(yield, &ConfigError{
				Path: root,
				Err:  fmt.Errorf("%w: %v", ErrInvalidRemote, err),
			})
		}
	}
	return d.walkDir(root, ".", yield)
}

// walkDir visits sub-directories before files, each group in lexical
// order, descending depth-first.
func (d *Dir) walkDir(
	abs, rel string,
	yield func(FileEntry, error) bool,
) bool {
	c := d.classifier()
	ents, err := os.ReadDir(abs)
	if err != nil {
		if !yield(FileEntry{}, &Warning{
			Kind: WarnUnreadable, Path: abs, Err: err,
		}) {
			return false
		}
		// ReadDir returns what it read before failing.
		if len(ents) == 0 {
			return true
		}
	}

	type candidate struct {
		abs  string
		rel  string
		link bool
	}
	var dirs, files []candidate

	for _, de := range ents {
		childAbs := filepath.Join(abs, de.Name())
		childRel := path.Join(rel, de.Name())
		cand := candidate{abs: childAbs, rel: childRel}

		switch {
		case de.Type()&fs.ModeSymlink != 0:
			if !c.ShouldInclude(classify.Entry{RelPath: childRel, Type: classify.Symlink}) {
				continue
			}
			target, err := os.Stat(childAbs)
			if err != nil {
				if !yield(FileEntry{}, &Warning{
					Kind: WarnClassification, Path: childAbs, Err: err,
				}) {
					return false
				}
				continue
			}
			if target.IsDir() {
				if !c.ShouldInclude(classify.Entry{RelPath: childRel, Type: classify.Dir}) {
					continue
				}
				return fail(yield, &ConfigError{
					Path: childAbs, Err: ErrSymlinkedDir,
				})
			}
			if !target.Mode().IsRegular() {
				slog.Debug("skip non-regular link target", "path", childAbs)
				continue
			}
			cand.link = true
			files = append(files, cand)
		case de.IsDir():
			if !c.ShouldInclude(classify.Entry{RelPath: childRel, Type: classify.Dir}) {
				continue
			}
			dirs = append(dirs, cand)
		case de.Type().IsRegular():
			if !c.ShouldInclude(classify.Entry{RelPath: childRel, Type: classify.File}) {
				continue
			}
			files = append(files, cand)
		default:
			slog.Debug("skip special file", "path", childAbs, "type", de.Type())
		}
	}

	for _, sub := range dirs {
		if !d.walkDir(sub.abs, sub.rel, yield) {
			return false
		}
	}
	for _, f := range files {
		e, err := statEntry(f.abs, path.Join(d.Remote, f.rel), f.link)
		if err != nil {
			if !yield(FileEntry{}, err) {
				return false
			}
			continue
		}
		if !yield(e, nil) {
			return false
		}
	}
	return true
}

// statEntry builds an entry for a file, following a symlink for size
// and identity. Unreadable files come back as warnings.
func statEntry(abs, remote string, link bool) (FileEntry, error) {
	info, err := os.Stat(abs)
	if err != nil {
		kind := WarnUnreadable
		if link {
			kind = WarnClassification
		}
		return FileEntry{}, &Warning{Kind: kind, Path: abs, Err: err}
	}
	f, err := os.Open(abs)
	if err != nil {
		return FileEntry{}, &Warning{Kind: WarnUnreadable, Path: abs, Err: err}
	}
	f.Close()

	real := abs
	if link {
		if r, err := filepath.EvalSymlinks(abs); err == nil {
			real = r
		}
	}
	return FileEntry{
		LocalPath:  abs,
		RealPath:   real,
		RemotePath: remote,
		Size:       info.Size(),
		Mode:       info.Mode().Perm(),
	}, nil
}

func fail(yield func(FileEntry, error) bool, err error) bool {
	yield(FileEntry{}, err)
	return false
}

// File contributes a single local file at Remote.
type File struct {
	Local  string
	Remote string
}

func (f *File) LocalRoot() string { return f.Local }

func (f *File) walk(yield func(FileEntry, error) bool) bool {
	abs, err := filepath.Abs(f.Local)
	if err != nil {
		return fail(yield, &ConfigError{Path: f.Local, Err: err})
	}
	if err := paths.ValidateRelPath(f.Remote); err != nil {
		return fail(yield, &ConfigError{
			Path: abs,
			Err:  fmt.Errorf("%w: %v", ErrInvalidRemote, err),
		})
	}
	info, err := os.Lstat(abs)
	if err != nil {
		return fail(yield, &ConfigError{Path: abs, Err: err})
	}
	link := info.Mode()&fs.ModeSymlink != 0
	if link {
		target, err := os.Stat(abs)
		if err != nil {
			return yield(FileEntry{}, &Warning{
				Kind: WarnClassification, Path: abs, Err: err,
			})
		}
		info = target
	}
	if info.IsDir() {
		return fail(yield, &ConfigError{Path: abs, Err: ErrNotFile})
	}
	e, err := statEntry(abs, paths.CleanRelPath(f.Remote), link)
	if err != nil {
		return yield(FileEntry{}, err)
	}
	return yield(e, nil)
}

// Path contributes Local as a directory or a single file, whichever it
// is when walked. Remote names the directory or the file relative to
// the spec prefix.
type Path struct {
	Local      string
	Remote     string
	Classifier *classify.Classifier
}

func (p *Path) LocalRoot() string { return p.Local }

func (p *Path) walk(yield func(FileEntry, error) bool) bool {
	abs, err := filepath.Abs(p.Local)
	if err != nil {
		return fail(yield, &ConfigError{Path: p.Local, Err: err})
	}
	info, err := os.Stat(abs)
	if err != nil {
		if _, lerr := os.Lstat(abs); lerr == nil {
			// Broken links get File's warning.
			return (&File{Local: abs, Remote: p.Remote}).walk(yield)
		}
		return fail(yield, &ConfigError{Path: abs, Err: err})
	}
	if info.IsDir() {
		d := &Dir{Local: abs, Remote: p.Remote, Classifier: p.Classifier}
		return d.walk(yield)
	}
	return (&File{Local: abs, Remote: p.Remote}).walk(yield)
}
