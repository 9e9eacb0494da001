// Package search implements the search.glob and search.grep tools (spec
// §4.4), grounded on the path-safety pattern of the teacher's
// internal/tools/files/resolver.go but with a hand-rolled glob dialect: no
// pack library exposes the exact per-segment "**" vs "*" distinction the
// spec requires (see DESIGN.md).
package search

import (
	"regexp"
	"strings"
)

// CompileGlob translates a shell-glob pattern into a regular expression per
// spec §4.4: "**" crosses directories, "*" does not, "?" matches one
// character, "{a,b}" is alternation.
func CompileGlob(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")

	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch c {
		case '*':
			if i+1 < len(runes) && runes[i+1] == '*' {
				b.WriteString("(?:.*)")
				i++
				// Swallow an immediately following path separator so
				// "**/foo" also matches "foo" at the root.
				if i+1 < len(runes) && runes[i+1] == '/' {
					b.WriteString("(?:/)?")
					i++
				}
			} else {
				b.WriteString("[^/]*")
			}
		case '?':
			b.WriteString("[^/]")
		case '{':
			end := strings.IndexRune(string(runes[i:]), '}')
			if end < 0 {
				b.WriteString(regexp.QuoteMeta(string(c)))
				continue
			}
			alts := strings.Split(string(runes[i+1:i+end]), ",")
			b.WriteString("(?:")
			for j, alt := range alts {
				if j > 0 {
					b.WriteString("|")
				}
				b.WriteString(regexp.QuoteMeta(alt))
			}
			b.WriteString(")")
			i += end
		case '.', '+', '(', ')', '^', '$', '|', '\\':
			b.WriteString(regexp.QuoteMeta(string(c)))
		default:
			b.WriteRune(c)
		}
	}
	b.WriteString("$")

	return regexp.Compile(b.String())
}
