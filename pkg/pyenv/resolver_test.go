package pyenv

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeTree(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for path, content := range files {
		full := filepath.Join(dir, path)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0644))
	}
}

func realTempDir(t *testing.T) string {
	t.Helper()
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	return dir
}

func TestIsLocalBasic(t *testing.T) {
	dir := realTempDir(t)
	makeTree(t, dir, map[string]string{
		"py/lib/python3.11/ast.py":               "",
		"py/lib/python3.11/site-packages/six.py": "",
		"project/app.py":                         "",
	})
	env := &Environment{
		Prefix:       filepath.Join(dir, "py"),
		Stdlib:       []string{filepath.Join(dir, "py/lib/python3.11")},
		SitePackages: []string{filepath.Join(dir, "py/lib/python3.11/site-packages")},
	}
	r := NewResolver(env, Overrides{})

	assert.False(t, r.IsLocal(filepath.Join(dir, "py/lib/python3.11/ast.py")))
	assert.False(t, r.IsLocal(filepath.Join(dir, "py/lib/python3.11/site-packages/six.py")))
	assert.True(t, r.IsLocal(filepath.Join(dir, "project/app.py")))
}

func TestIsLocalSymlinkedInstallation(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks behave differently on Windows")
	}
	dir := realTempDir(t)
	makeTree(t, dir, map[string]string{
		"real-python/lib/python3.11/ast.py": "",
		"project/imports_ast.py":            "import ast\n",
	})
	link := filepath.Join(dir, "python-install")
	require.NoError(t, os.Symlink(filepath.Join(dir, "real-python"), link))

	// The interpreter reports its layout through the symlink.
	env := &Environment{
		Prefix: link,
		Stdlib: []string{filepath.Join(link, "lib/python3.11")},
	}
	r := NewResolver(env, Overrides{})

	astViaLink := filepath.Join(link, "lib/python3.11/ast.py")
	astReal := filepath.Join(dir, "real-python/lib/python3.11/ast.py")
	assert.False(t, r.IsLocal(astViaLink))
	assert.False(t, r.IsLocal(astReal))
	assert.True(t, r.IsLocal(filepath.Join(dir, "project/imports_ast.py")))
	assert.Equal(t, []string{
		filepath.Join(dir, "real-python"),
		filepath.Join(dir, "real-python/lib/python3.11"),
	}, r.Roots())
}

func TestIsLocalRootsReportedResolvedModuleViaLink(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks behave differently on Windows")
	}
	dir := realTempDir(t)
	makeTree(t, dir, map[string]string{
		"real-python/lib/python3.11/json/__init__.py": "",
	})
	link := filepath.Join(dir, "python-install")
	require.NoError(t, os.Symlink(filepath.Join(dir, "real-python"), link))

	env := &Environment{Prefix: filepath.Join(dir, "real-python")}
	r := NewResolver(env, Overrides{})
	assert.False(t, r.IsLocal(filepath.Join(link, "lib/python3.11/json/__init__.py")))
}

func TestIsLocalExternalPackages(t *testing.T) {
	dir := realTempDir(t)
	makeTree(t, dir, map[string]string{
		"cache/six/1.16/six.py": "",
		"project/app.py":        "",
	})
	env := &Environment{
		ExternalPackages: []string{filepath.Join(dir, "cache")},
	}
	r := NewResolver(env, Overrides{})
	assert.False(t, r.IsLocal(filepath.Join(dir, "cache/six/1.16/six.py")))
	assert.True(t, r.IsLocal(filepath.Join(dir, "project/app.py")))
}

func TestResolverIgnoresFilesystemRoot(t *testing.T) {
	dir := realTempDir(t)
	makeTree(t, dir, map[string]string{"project/app.py": ""})
	r := NewResolver(&Environment{BasePrefix: string(filepath.Separator)}, Overrides{})
	assert.Empty(t, r.Roots())
	assert.True(t, r.IsLocal(filepath.Join(dir, "project/app.py")))
}

func TestResolverNilEnvironment(t *testing.T) {
	r := NewResolver(nil, Overrides{})
	assert.Empty(t, r.Roots())
	assert.NotNil(t, r.Environment())
}

func TestOverrides(t *testing.T) {
	o := Overrides{Deny: []string{"modal", "secrets"}, Allow: []string{"secrets"}}
	assert.True(t, o.Denied("modal"))
	assert.False(t, o.Denied("secrets"))
	assert.False(t, o.Denied("pkg_a"))
	assert.False(t, Overrides{}.Denied("modal"))
}

func TestFromEnv(t *testing.T) {
	dir := realTempDir(t)
	venv := filepath.Join(dir, "venv")
	makeTree(t, venv, map[string]string{
		"lib/python3.12/site-packages/six.py": "",
		"pyvenv.cfg":                          "home = /opt/python/bin\ninclude-system-site-packages = false\n",
	})
	t.Setenv("VIRTUAL_ENV", venv)
	t.Setenv("PYTHONPATH", filepath.Join(dir, "extra"))

	env := FromEnv()
	assert.Equal(t, venv, env.Prefix)
	assert.Equal(t, "/opt/python", env.BasePrefix)
	assert.Equal(t,
		[]string{filepath.Join(venv, "lib/python3.12/site-packages")},
		env.SitePackages,
	)
	assert.Equal(t, filepath.Join(dir, "extra"), env.SearchPath[0])
}
