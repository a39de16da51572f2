package closure

import (
	"regexp"
	"strings"
)

// Import is one imported name found in Python source. Module keeps no
// leading dots; Level counts them (0 for absolute imports). Names
// are the targets of a from-import.
type Import struct {
	Module string
	Level  int
	Names  []string
	Line   int
}

var (
	importRe  = regexp.MustCompile(`^import\s+(.+)$`)
	fromRe    = regexp.MustCompile(`^from(\s+\.*|\.+)\s*([\w.]*)\s+import\s*(.+)$`)
	inlineRe  = regexp.MustCompile(`:\s*((?:import|from)\s.*)$`)
	dottedRe  = regexp.MustCompile(`^[A-Za-z_][\w]*(\.[A-Za-z_][\w]*)*$`)
	wordSepRe = regexp.MustCompile(`\s+`)
)

// Scan extracts import statements from Python source. It handles
// comments, string literals (including triple-quoted docstrings),
// backslash continuations, bracketed continuations, semicolons and
// imports nested in any block. Dynamic imports are not seen.
func Scan(src []byte) []Import {
	var out []Import
	for _, st := range statements(src) {
		out = append(out, parseStatement(st.text, st.line)...)
	}
	return out
}

type statement struct {
	text string
	line int
}

// statements splits src into logical statements with comments
// removed and every string literal replaced by "".
func statements(src []byte) []statement {
	var (
		out     []statement
		b       strings.Builder
		depth   int
		line    = 1
		start   = 1
		pending = true
	)
	flush := func() {
		if s := strings.TrimSpace(b.String()); s != "" {
			out = append(out, statement{text: s, line: start})
		}
		b.Reset()
		pending = true
	}
	write := func(s string) {
		if pending && strings.TrimSpace(s) != "" {
			start = line
			pending = false
		}
		b.WriteString(s)
	}

	for i := 0; i < len(src); i++ {
		c := src[i]
		switch {
		case c == '#':
			for i < len(src) && src[i] != '\n' {
				i++
			}
			i--
		case c == '\\' && i+1 < len(src) && src[i+1] == '\n':
			i++
			line++
			b.WriteByte(' ')
		case c == '\\' && i+2 < len(src) && src[i+1] == '\r' && src[i+2] == '\n':
			i += 2
			line++
			b.WriteByte(' ')
		case c == '\'' || c == '"':
			end, lines := skipString(src, i)
			write(`""`)
			line += lines
			i = end - 1
		case c == '(' || c == '[' || c == '{':
			depth++
			write(string(c))
		case c == ')' || c == ']' || c == '}':
			if depth > 0 {
				depth--
			}
			write(string(c))
		case c == '\n':
			line++
			if depth > 0 {
				b.WriteByte(' ')
				continue
			}
			flush()
		case c == ';' && depth == 0:
			flush()
		case c == '\r' || c == '\t':
			b.WriteByte(' ')
		default:
			write(string(c))
		}
	}
	flush()
	return out
}

// skipString returns the index just past the literal starting at i
// and the number of newlines it spans. An unterminated literal runs
// to the end of the line (or of src, if triple-quoted).
func skipString(src []byte, i int) (int, int) {
	q := src[i]
	triple := i+2 < len(src) && src[i+1] == q && src[i+2] == q
	lines := 0
	j := i + 1
	if triple {
		j = i + 3
	}
	for j < len(src) {
		c := src[j]
		switch {
		case c == '\\':
			if j+1 < len(src) && src[j+1] == '\n' {
				lines++
			}
			j += 2
			continue
		case c == '\n':
			if !triple {
				return j, lines
			}
			lines++
		case c == q:
			if !triple {
				return j + 1, lines
			}
			if j+2 < len(src) && src[j+1] == q && src[j+2] == q {
				return j + 3, lines
			}
		}
		j++
	}
	return len(src), lines
}

func parseStatement(text string, line int) []Import {
	if !strings.HasPrefix(text, "import") && !strings.HasPrefix(text, "from") {
		m := inlineRe.FindStringSubmatch(text)
		if m == nil {
			return nil
		}
		text = m[1]
	}

	if m := importRe.FindStringSubmatch(text); m != nil {
		var out []Import
		for _, item := range splitItems(m[1]) {
			if dottedRe.MatchString(item) {
				out = append(out, Import{Module: item, Line: line})
			}
		}
		return out
	}

	m := fromRe.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	level := strings.Count(m[1], ".")
	mod := m[2]
	if level == 0 && (mod == "" || !dottedRe.MatchString(mod)) {
		return nil
	}
	if mod != "" && !dottedRe.MatchString(mod) {
		return nil
	}
	if level == 0 && mod == "__future__" {
		return nil
	}
	names := splitItems(strings.Trim(strings.TrimSpace(m[3]), "()"))
	imp := Import{Module: mod, Level: level, Line: line}
	for _, n := range names {
		if n != "*" && dottedRe.MatchString(n) && !strings.Contains(n, ".") {
			imp.Names = append(imp.Names, n)
		}
	}
	return []Import{imp}
}

// splitItems splits "a as x, b.c" into ["a", "b.c"].
func splitItems(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		fields := wordSepRe.Split(strings.TrimSpace(part), -1)
		if len(fields) == 0 || fields[0] == "" {
			continue
		}
		out = append(out, strings.Trim(fields[0], "()"))
	}
	return out
}
