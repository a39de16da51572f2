package closure

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tqbf/automount/pkg/harness"
	"github.com/tqbf/automount/pkg/mount"
	"github.com/tqbf/automount/pkg/pyenv"
)

type fixture struct {
	proj *harness.Project
	inst *harness.Installation
	py   *pyenv.Resolver
}

func realTempDir(t *testing.T) string {
	t.Helper()
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	return dir
}

func newFixture(t *testing.T, viaLink bool) *fixture {
	t.Helper()
	proj, err := harness.WriteProject(filepath.Join(realTempDir(t), "supports"))
	require.NoError(t, err)
	inst, err := harness.WriteInstallation(realTempDir(t), viaLink)
	require.NoError(t, err)
	return &fixture{
		proj: proj,
		inst: inst,
		py:   pyenv.NewResolver(inst.Env, pyenv.Overrides{}),
	}
}

func (f *fixture) resolver(opts Options) *Resolver {
	if opts.WorkDir == "" {
		opts.WorkDir = f.proj.Root
	}
	return NewResolver(f.py, opts)
}

// remoteFiles enumerates specs and returns every absolute remote path.
func remoteFiles(t *testing.T, specs []*mount.Spec) []string {
	t.Helper()
	var out []string
	for _, s := range specs {
		entries, _, err := mount.Collect(context.Background(), s.Enumerate())
		require.NoError(t, err)
		for _, e := range entries {
			out = append(out, s.RemotePath(e))
		}
	}
	sort.Strings(out)
	return out
}

func moduleNames(res *Result) []string {
	var out []string
	for _, m := range res.Modules {
		out = append(out, m.Name)
	}
	return out
}

func TestClosureScript(t *testing.T) {
	f := newFixture(t, false)
	r := f.resolver(Options{})

	res, err := r.ClosureOf(context.Background(), Script(f.proj.Script))
	require.NoError(t, err)
	assert.Equal(t, "/root/script.py", res.Placement)
	assert.Equal(t,
		[]string{"__main__", "a", "b", "b.c", "b.e", "pkg_b", "pkg_b.f"},
		moduleNames(res),
	)
	assert.Contains(t, res.Unresolved, "sys")
	assert.NotContains(t, moduleNames(res), "os")

	specs := r.Mounts(res)
	require.Len(t, specs, 2)
	assert.True(t, strings.HasPrefix(specs[0].ID, "auto:"+filepath.Join(f.proj.Root, "pkg_a")+":"), specs[0].ID)
	assert.True(t, strings.HasPrefix(specs[1].ID, "auto:"+f.proj.Root+":"), specs[1].ID)
	assert.Equal(t, mount.OriginAuto, specs[0].Origin)

	assert.Equal(t, []string{
		"/root/a.py", "/root/b/c.py", "/root/b/e.py", "/root/script.py",
	}, remoteFiles(t, specs[:1]))
	assert.Equal(t, []string{
		"/root/pkg_b/__init__.py", "/root/pkg_b/f.py", "/root/pkg_b/g/h.py",
	}, remoteFiles(t, specs[1:]))
	assert.Equal(t, harness.ScriptFiles, remoteFiles(t, specs))
}

func TestClosureScriptRelativePath(t *testing.T) {
	f := newFixture(t, false)
	t.Chdir(f.proj.Root)

	r := NewResolver(f.py, Options{})
	res, err := r.ClosureOf(context.Background(), Script("pkg_a/script.py"))
	require.NoError(t, err)
	assert.Equal(t, harness.ScriptFiles, remoteFiles(t, r.Mounts(res)))
}

func TestClosureSerialized(t *testing.T) {
	f := newFixture(t, false)

	r := f.resolver(Options{})
	res, err := r.ClosureOf(context.Background(), Serialized(f.proj.Serialized))
	require.NoError(t, err)
	assert.Equal(t, "serialized_fn", res.Entry.Name)
	assert.Equal(t, []string{
		"/root/a.py",
		"/root/b/c.py",
		"/root/b/e.py",
		"/root/pkg_b/__init__.py",
		"/root/pkg_b/f.py",
		"/root/pkg_b/g/h.py",
		"/root/serialized_fn.py",
	}, remoteFiles(t, r.Mounts(res)))

	omit := f.resolver(Options{SerializedOrigin: OmitOrigin})
	res, err = omit.ClosureOf(context.Background(), Serialized(f.proj.Serialized))
	require.NoError(t, err)
	assert.NotContains(t, remoteFiles(t, omit.Mounts(res)), "/root/serialized_fn.py")
}

func TestClosureModule(t *testing.T) {
	f := newFixture(t, false)
	r := f.resolver(Options{})

	res, err := r.ClosureOf(context.Background(), ModuleEntry(f.proj.Package))
	require.NoError(t, err)
	assert.Equal(t, "/root/pkg_a/package.py", res.Placement)
	assert.Equal(t, "pkg_a", moduleNames(res)[1])

	specs := r.Mounts(res)
	require.Len(t, specs, 1)
	assert.Equal(t, harness.PackageFiles, remoteFiles(t, specs))
}

func TestClosurePackageMain(t *testing.T) {
	dir := realTempDir(t)
	require.NoError(t, harness.MakeTree(dir, map[string]string{
		"tool/__init__.py": "",
		"tool/__main__.py": "from .cli import run\n",
		"tool/cli.py":      "import helper\n",
		"helper.py":        "",
	}))
	r := NewResolver(pyenv.NewResolver(nil, pyenv.Overrides{}), Options{WorkDir: dir})

	res, err := r.ClosureOf(context.Background(), ModuleEntry("tool"))
	require.NoError(t, err)
	assert.Equal(t, "tool.__main__", res.Entry.Name)
	assert.Equal(t, "/root/tool/__main__.py", res.Placement)
	assert.Equal(t, []string{
		"/root/helper.py",
		"/root/tool/__init__.py",
		"/root/tool/__main__.py",
		"/root/tool/cli.py",
	}, remoteFiles(t, r.Mounts(res)))
}

func TestClosureSymlinkedInstallation(t *testing.T) {
	f := newFixture(t, true)
	r := f.resolver(Options{})

	// The stdlib is reported through the symlink; ast must still be
	// recognized as part of the installation.
	res, err := r.ClosureOf(context.Background(), Script(f.proj.ImportsAST))
	require.NoError(t, err)
	assert.Equal(t, []string{"__main__"}, moduleNames(res))
	assert.Equal(t, []string{"/root/imports_ast.py"}, remoteFiles(t, r.Mounts(res)))
}

func TestClosureDeniedPackage(t *testing.T) {
	f := newFixture(t, false)
	py := pyenv.NewResolver(f.inst.Env, pyenv.Overrides{Deny: []string{"pkg_b"}})
	r := NewResolver(py, Options{WorkDir: f.proj.Root})

	res, err := r.ClosureOf(context.Background(), Script(f.proj.Script))
	require.NoError(t, err)
	assert.NotContains(t, moduleNames(res), "pkg_b")
	assert.Len(t, r.Mounts(res), 1)
}

func TestClosurePreferRegularPackage(t *testing.T) {
	dir := realTempDir(t)
	first := filepath.Join(dir, "first")
	second := filepath.Join(dir, "second")
	require.NoError(t, harness.MakeTree(first, map[string]string{
		"ns/x.py": "",
	}))
	require.NoError(t, harness.MakeTree(second, map[string]string{
		"ns/__init__.py": "",
		"ns/y.py":        "",
	}))
	require.NoError(t, harness.MakeTree(dir, map[string]string{
		"main.py": "import ns.y\n",
	}))
	r := NewResolver(pyenv.NewResolver(nil, pyenv.Overrides{}), Options{
		WorkDir:   dir,
		ExtraPath: []string{first, second},
	})

	res, err := r.ClosureOf(context.Background(), Script(filepath.Join(dir, "main.py")))
	require.NoError(t, err)
	require.Len(t, res.Modules, 3)
	assert.Equal(t, Package, res.Modules[1].Kind)
	assert.Equal(t, filepath.Join(second, "ns", "__init__.py"), res.Modules[1].Path)
}

func TestClosureNamespacePortions(t *testing.T) {
	dir := realTempDir(t)
	first := filepath.Join(dir, "first")
	second := filepath.Join(dir, "second")
	require.NoError(t, harness.MakeTree(first, map[string]string{"ns/x.py": ""}))
	require.NoError(t, harness.MakeTree(second, map[string]string{"ns/y.py": ""}))
	require.NoError(t, harness.MakeTree(dir, map[string]string{
		"main.py": "import ns.x\nimport ns.y\n",
	}))
	r := NewResolver(pyenv.NewResolver(nil, pyenv.Overrides{}), Options{
		WorkDir:   dir,
		ExtraPath: []string{first, second},
	})

	res, err := r.ClosureOf(context.Background(), Script(filepath.Join(dir, "main.py")))
	require.NoError(t, err)
	specs := r.Mounts(res)
	require.Len(t, specs, 3)
	assert.Equal(t, []string{
		"/root/main.py", "/root/ns/x.py", "/root/ns/y.py",
	}, remoteFiles(t, specs))
}

func TestClosureCompiledModules(t *testing.T) {
	dir := realTempDir(t)
	require.NoError(t, harness.MakeTree(dir, map[string]string{
		"main.py":                              "import math\nimport _ssl\nimport fast\nimport util\n",
		"math/x.py":                            "",
		"_ssl/y.py":                            "",
		"_ssl.cpython-312-x86_64-linux-gnu.so": "",
		"fast.so":                              "",
		"fast.py":                              "import util\n",
		"util.py":                              "",
	}))
	env := &pyenv.Environment{Builtins: []string{"math", "sys"}}
	r := NewResolver(pyenv.NewResolver(env, pyenv.Overrides{}), Options{WorkDir: dir})

	res, err := r.ClosureOf(context.Background(), Script(filepath.Join(dir, "main.py")))
	require.NoError(t, err)
	assert.Equal(t, []string{"__main__", "util"}, moduleNames(res))
	assert.Empty(t, res.Unresolved)
	assert.Equal(t, []string{"/root/main.py", "/root/util.py"}, remoteFiles(t, r.Mounts(res)))

	_, err = r.ClosureOf(context.Background(), ModuleEntry("math"))
	assert.ErrorIs(t, err, ErrAmbiguousEntrypoint)
}

func TestClosureSameFileTwoNames(t *testing.T) {
	f := newFixture(t, false)
	require.NoError(t, harness.MakeTree(f.proj.Root, map[string]string{
		"pkg_a/twice.py": "import a\nimport pkg_a.a\n",
	}))
	r := f.resolver(Options{})

	res, err := r.ClosureOf(context.Background(),
		Script(filepath.Join(f.proj.Root, "pkg_a", "twice.py")))
	require.NoError(t, err)
	assert.Contains(t, moduleNames(res), "a")
	assert.Contains(t, moduleNames(res), "pkg_a.a")

	files := remoteFiles(t, r.Mounts(res))
	assert.Contains(t, files, "/root/a.py")
	assert.Contains(t, files, "/root/pkg_a/a.py")
}

func TestClosureRelativeImportInScript(t *testing.T) {
	dir := realTempDir(t)
	require.NoError(t, harness.MakeTree(dir, map[string]string{
		"main.py": "from . import sibling\n",
	}))
	r := NewResolver(pyenv.NewResolver(nil, pyenv.Overrides{}), Options{WorkDir: dir})

	res, err := r.ClosureOf(context.Background(), Script(filepath.Join(dir, "main.py")))
	require.NoError(t, err)
	assert.Equal(t, []string{"."}, res.Unresolved)
}

func TestClosureEntrypointErrors(t *testing.T) {
	f := newFixture(t, false)
	r := f.resolver(Options{})
	ctx := context.Background()

	_, err := r.ClosureOf(ctx, Script(filepath.Join(f.proj.Root, "pkg_a")))
	assert.ErrorIs(t, err, ErrAmbiguousEntrypoint)
	var cerr *mount.ConfigError
	assert.ErrorAs(t, err, &cerr)

	_, err = r.ClosureOf(ctx, ModuleEntry("no_such_module"))
	assert.ErrorIs(t, err, ErrAmbiguousEntrypoint)

	_, err = r.ClosureOf(ctx, ModuleEntry("pkg_a.b"))
	assert.ErrorIs(t, err, ErrAmbiguousEntrypoint)

	_, err = r.ClosureOf(ctx, ModuleEntry("six"))
	assert.ErrorIs(t, err, ErrNotLocal)

	_, err = r.ClosureOf(ctx, Script(filepath.Join(f.proj.Root, "missing.py")))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestClosureCancelled(t *testing.T) {
	f := newFixture(t, false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.resolver(Options{}).ClosureOf(ctx, Script(f.proj.Script))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEntrypointMount(t *testing.T) {
	f := newFixture(t, false)
	r := f.resolver(Options{})

	spec, err := r.EntrypointMount(Script(f.proj.Script))
	require.NoError(t, err)
	assert.Equal(t, mount.OriginEntrypoint, spec.Origin)
	assert.Equal(t, []string{"/root/script.py"}, remoteFiles(t, []*mount.Spec{spec}))

	spec, err = r.EntrypointMount(ModuleEntry(f.proj.Package))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"/root/pkg_a/__init__.py",
		"/root/pkg_a/a.py",
		"/root/pkg_a/b/c.py",
		"/root/pkg_a/b/e.py",
		"/root/pkg_a/d.py",
		"/root/pkg_a/package.py",
		"/root/pkg_a/script.py",
		"/root/pkg_a/serialized_fn.py",
	}, remoteFiles(t, []*mount.Spec{spec}))

	omit := f.resolver(Options{SerializedOrigin: OmitOrigin})
	spec, err = omit.EntrypointMount(Serialized(f.proj.Serialized))
	require.NoError(t, err)
	assert.Nil(t, spec)
}

func TestParseEntrypoint(t *testing.T) {
	dir := realTempDir(t)
	require.NoError(t, harness.MakeTree(dir, map[string]string{"run": "#!"}))

	ep, err := ParseEntrypoint("app/main.py", false)
	require.NoError(t, err)
	assert.Equal(t, KindScript, ep.Kind)

	ep, err = ParseEntrypoint(filepath.Join(dir, "run"), false)
	require.NoError(t, err)
	assert.Equal(t, KindScript, ep.Kind)

	ep, err = ParseEntrypoint("pkg_a.package", false)
	require.NoError(t, err)
	assert.Equal(t, ModuleEntry("pkg_a.package"), ep)

	_, err = ParseEntrypoint("not/a/module", true)
	assert.Error(t, err)

	_, err = ParseEntrypoint(dir, false)
	assert.ErrorIs(t, err, ErrAmbiguousEntrypoint)
}

func TestMountIDsFollowSources(t *testing.T) {
	f := newFixture(t, false)
	r := f.resolver(Options{})
	ctx := context.Background()

	script, err := r.ClosureOf(ctx, Script(f.proj.Script))
	require.NoError(t, err)
	origin, err := r.ClosureOf(ctx, Serialized(f.proj.Serialized))
	require.NoError(t, err)
	again, err := r.ClosureOf(ctx, Script(f.proj.Script))
	require.NoError(t, err)

	a, b, c := r.Mounts(script), r.Mounts(origin), r.Mounts(again)
	require.Len(t, a, 2)
	require.Len(t, b, 2)

	// Both entrypoints live in pkg_a but ship different files from it.
	assert.NotEqual(t, a[0].ID, b[0].ID)
	assert.Contains(t, remoteFiles(t, b[:1]), "/root/serialized_fn.py")
	assert.NotContains(t, remoteFiles(t, b[:1]), "/root/script.py")

	// pkg_b is shipped identically by both.
	assert.Equal(t, a[1].ID, b[1].ID)
	for i := range a {
		assert.Equal(t, a[i].ID, c[i].ID)
	}
}
