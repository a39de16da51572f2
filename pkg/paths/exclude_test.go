package paths

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExcludeBareName(t *testing.T) {
	m := NewExcludeMatcher([]string{"vendor"})
	assert.True(t, m.Match("vendor", true))
	assert.True(t, m.Match("src/vendor", true))
	assert.True(t, m.Match("a/b/vendor", false))
	assert.False(t, m.Match("vendor.py", false))
	assert.True(t, m.Match("vendor/pkg/mod.py", false))
}

func TestExcludeDirOnly(t *testing.T) {
	m := NewExcludeMatcher([]string{"build/"})
	assert.True(t, m.Match("build", true))
	assert.True(t, m.Match("src/build", true))
	assert.True(t, m.Match("build/app.py", false))
	assert.False(t, m.Match("build", false))
	assert.False(t, m.Match("src/build", false))
}

func TestExcludeCacheArtifacts(t *testing.T) {
	m := NewExcludeMatcher([]string{
		"__pycache__", "*.pyc", "*.pyo", "*$py.class",
	})
	assert.True(t, m.Match("__pycache__", true))
	assert.True(t, m.Match("pkg/__pycache__/mod.cpython-311.pyc", false))
	assert.True(t, m.Match("normally_not_included.pyc", false))
	assert.True(t, m.Match("deep/nested/thing.pyo", false))
	assert.True(t, m.Match("legacy/mod$py.class", false))
	assert.False(t, m.Match("pkg/mod.py", false))
	assert.False(t, m.Match("pkg/pyc.py", false))
}

func TestExcludeQuestionMark(t *testing.T) {
	m := NewExcludeMatcher([]string{"?.tmp"})
	assert.True(t, m.Match("a.tmp", false))
	assert.True(t, m.Match("src/x.tmp", false))
	assert.False(t, m.Match("ab.tmp", false))
}

func TestExcludeDoublestarPrefix(t *testing.T) {
	m := NewExcludeMatcher([]string{"**/*_test.py"})
	assert.True(t, m.Match("foo_test.py", false))
	assert.True(t, m.Match("src/foo_test.py", false))
	assert.True(t, m.Match("a/b/c/d_test.py", false))
	assert.False(t, m.Match("foo.py", false))
}

func TestExcludeDoublestarMiddle(t *testing.T) {
	m := NewExcludeMatcher([]string{"src/**/*.pb.py"})
	assert.True(t, m.Match("src/api/v1/types.pb.py", false))
	assert.True(t, m.Match("src/schema.pb.py", false))
	assert.False(t, m.Match("pkg/types.pb.py", false))
	assert.False(t, m.Match("src/api/v1/types.py", false))
}

func TestExcludeDoublestarSuffix(t *testing.T) {
	m := NewExcludeMatcher([]string{"data/**"})
	assert.True(t, m.Match("data/big.csv", false))
	assert.True(t, m.Match("data/raw/2024.csv", false))
	assert.False(t, m.Match("src/data.py", false))
}

func TestExcludeAnchoredPath(t *testing.T) {
	m := NewExcludeMatcher([]string{"docs/*.html"})
	assert.True(t, m.Match("docs/index.html", false))
	assert.False(t, m.Match("docs/sub/page.html", false))
	assert.False(t, m.Match("other/index.html", false))

	dir := NewExcludeMatcher([]string{"pkg/fixtures"})
	assert.True(t, dir.Match("pkg/fixtures", true))
	assert.True(t, dir.Match("pkg/fixtures/a.json", false))
	assert.False(t, dir.Match("other/pkg/fixtures", true))
}

func TestExcludeSkipsBlankAndComments(t *testing.T) {
	m := NewExcludeMatcher([]string{"", "  ", "# comment", "*.log"})
	assert.Equal(t, 1, m.Len())
	assert.True(t, m.Match("app.log", false))
}

func TestExcludeEmptyPatterns(t *testing.T) {
	m := NewExcludeMatcher(nil)
	assert.False(t, m.Match("anything", false))
	assert.Equal(t, 0, m.Len())

	var nilMatcher *ExcludeMatcher
	assert.False(t, nilMatcher.Match("a/b.py", false))
}
