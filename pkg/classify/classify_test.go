package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShouldIncludeHidden(t *testing.T) {
	c := Default
	cases := []struct {
		rel  string
		typ  Type
		want bool
	}{
		{"bar/__init__.py", File, true},
		{"bar/baz.py", File, true},
		{"bar/.hidden_dir", Dir, false},
		{"bar/.hidden_dir/mod.py", File, false},
		{"bar/.hidden_mod.py", File, false},
		{".git", Dir, false},
		{".env", File, false},
		{"a/b/.c/d/e.py", File, false},
	}
	for _, tc := range cases {
		t.Run(tc.rel, func(t *testing.T) {
			got := c.ShouldInclude(Entry{RelPath: tc.rel, Type: tc.typ})
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestShouldIncludeHiddenRoot(t *testing.T) {
	assert.True(t, Default.ShouldInclude(Entry{
		RelPath: ".", Type: Dir, IsRoot: true,
	}))
}

func TestShouldIncludeCacheArtifacts(t *testing.T) {
	for _, rel := range []string{
		"normally_not_included.pyc",
		"pkg/mod.pyo",
		"pkg/__pycache__",
		"deep/x/__pycache__/mod.cpython-312.pyc",
		"jy/mod$py.class",
	} {
		typ := File
		if rel == "pkg/__pycache__" {
			typ = Dir
		}
		assert.False(t,
			Default.ShouldInclude(Entry{RelPath: rel, Type: typ}),
			"should exclude %s", rel,
		)
	}
}

func TestShouldIncludeSymlinkedFile(t *testing.T) {
	assert.True(t, Default.ShouldInclude(Entry{
		RelPath: "bar.txt", Type: Symlink,
	}))
}

func TestShouldIncludeExtraPatterns(t *testing.T) {
	c := New([]string{"*.csv", "fixtures/"})
	assert.False(t, c.ShouldInclude(Entry{RelPath: "data/big.csv", Type: File}))
	assert.False(t, c.ShouldInclude(Entry{RelPath: "tests/fixtures", Type: Dir}))
	assert.True(t, c.ShouldInclude(Entry{RelPath: "tests/test_a.py", Type: File}))
	assert.False(t, c.ShouldInclude(Entry{RelPath: "tests/.cache", Type: Dir}))
}

func TestTypeString(t *testing.T) {
	assert.Equal(t, "file", File.String())
	assert.Equal(t, "dir", Dir.String())
	assert.Equal(t, "symlink", Symlink.String())
	assert.Equal(t, "unknown", Type(42).String())
}
