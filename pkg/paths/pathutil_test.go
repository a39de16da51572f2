package paths

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRelPath(t *testing.T) {
	assert.NoError(t, ValidateRelPath("foo/bar.py"))
	assert.NoError(t, ValidateRelPath("a.txt"))
	assert.NoError(t, ValidateRelPath("file with spaces.py"))
	assert.NoError(t, ValidateRelPath("日本語.txt"))

	assert.Error(t, ValidateRelPath(""))
	assert.Error(t, ValidateRelPath("/absolute/path"))
	assert.Error(t, ValidateRelPath("../escape"))
	assert.Error(t, ValidateRelPath("foo/../../etc/passwd"))
	assert.Error(t, ValidateRelPath("foo\x00bar"))
	assert.Error(t, ValidateRelPath("."))
	assert.Error(t, ValidateRelPath("./"))
}

func TestCleanRelPath(t *testing.T) {
	assert.Equal(t, "foo/bar", CleanRelPath("./foo/bar"))
	assert.Equal(t, "foo/bar", CleanRelPath("foo//bar"))
	assert.Equal(t, "foo", CleanRelPath("foo/bar/.."))
}

func TestRemoteJoin(t *testing.T) {
	assert.Equal(t, "/root/a.py", RemoteJoin("/root", "a.py"))
	assert.Equal(t, "/root/pkg_b/g/h.py", RemoteJoin("/root/", "pkg_b/g/h.py"))
	assert.Equal(t, "/a.py", RemoteJoin("", "a.py"))
	assert.Equal(t, "/test/x.py", RemoteJoin("test", "./x.py"))
}

func TestIsWithinDir(t *testing.T) {
	assert.True(t, IsWithinDir("/home/user/project", "/home/user/project/foo"))
	assert.True(t, IsWithinDir("/home/user/project/", "/home/user/project/foo"))
	assert.True(t, IsWithinDir("/home/user/project", "/home/user/project"))

	assert.False(t, IsWithinDir("/home/user/project", "/home/user/other"))
	assert.False(t, IsWithinDir("/home/user/project", "/home/user/projectX/foo"))
	assert.False(t, IsWithinDir("/tmp/a", "/tmp/ab/c"))
}

func TestIsWithinDirDotDotPrefixedName(t *testing.T) {
	assert.True(t, IsWithinDir("/tmp/a", "/tmp/a/..hidden"))
}

func TestIsWithinAny(t *testing.T) {
	dirs := []string{"/usr/lib/python3.11", "/opt/venv"}
	assert.True(t, IsWithinAny(dirs, "/opt/venv/lib/site.py"))
	assert.False(t, IsWithinAny(dirs, "/home/me/app.py"))
	assert.False(t, IsWithinAny(nil, "/home/me/app.py"))
}

func TestHasHiddenComponent(t *testing.T) {
	assert.True(t, HasHiddenComponent(".git/config"))
	assert.True(t, HasHiddenComponent("bar/.hidden_dir/mod.py"))
	assert.True(t, HasHiddenComponent("bar/.hidden_mod.py"))
	assert.False(t, HasHiddenComponent("bar/baz.py"))
	assert.False(t, HasHiddenComponent("./bar/baz.py"))
}

func TestResolveFollowsSymlinks(t *testing.T) {
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)

	real := filepath.Join(dir, "python-real")
	require.NoError(t, os.MkdirAll(filepath.Join(real, "lib"), 0755))
	link := filepath.Join(dir, "python-install")
	require.NoError(t, os.Symlink(real, link))

	got, err := Resolve(filepath.Join(link, "lib"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(real, "lib"), got)
}

func TestResolveMissingTail(t *testing.T) {
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)

	real := filepath.Join(dir, "real")
	require.NoError(t, os.Mkdir(real, 0755))
	link := filepath.Join(dir, "link")
	require.NoError(t, os.Symlink(real, link))

	got, err := Resolve(filepath.Join(link, "missing", "ast.py"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(real, "missing", "ast.py"), got)
}
