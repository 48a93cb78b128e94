package quicklaunch

import (
	"strings"
	"unicode"
)

// camelizeKeys rewrites every object key in a decoded JSON document to
// camelCase. Values are left untouched.
func camelizeKeys(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[camelCase(k)] = camelizeKeys(val)
		}
		return out
	case []any:
		for i := range t {
			t[i] = camelizeKeys(t[i])
		}
		return t
	default:
		return v
	}
}

// camelCase converts snake_case, kebab-case, PascalCase and SCREAMING_CASE
// identifiers into camelCase.
func camelCase(s string) string {
	var b strings.Builder
	for i, w := range splitWords(s) {
		lower := strings.ToLower(w)
		if i == 0 {
			b.WriteString(lower)
			continue
		}
		r := []rune(lower)
		r[0] = unicode.ToUpper(r[0])
		b.WriteString(string(r))
	}
	return b.String()
}

func splitWords(s string) []string {
	var (
		words []string
		cur   []rune
	)
	flush := func() {
		if len(cur) > 0 {
			words = append(words, string(cur))
			cur = cur[:0]
		}
	}

	rs := []rune(s)
	for i, r := range rs {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			flush()
			continue
		}
		if len(cur) > 0 && unicode.IsUpper(r) {
			prev := rs[i-1]
			nextLower := i+1 < len(rs) && unicode.IsLower(rs[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				flush()
			}
		}
		cur = append(cur, r)
	}
	flush()
	return words
}
