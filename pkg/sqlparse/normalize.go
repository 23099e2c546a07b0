package sqlparse

import "strings"

// Normalize produces a canonical single-line form of a statement for use as a
// cache key: comments dropped, whitespace collapsed to single spaces,
// unquoted identifiers and keywords lowercased, literals preserved.
func Normalize(sql string) string {
	tokens := Tokenize(sql)
	var b strings.Builder
	b.Grow(len(sql))

	for i, t := range tokens {
		text := t.Text
		if t.Kind == TokenIdent && !t.Quoted {
			text = strings.ToLower(text)
		}

		if i > 0 && needsSpace(tokens[i-1], t) {
			b.WriteByte(' ')
		}
		b.WriteString(text)
	}
	return b.String()
}

// needsSpace keeps the normalized text unambiguous without reproducing the
// original spacing: no space around dots, before commas or closing parens,
// or after an opening paren.
func needsSpace(prev, cur Token) bool {
	if prev.Text == "." || cur.Text == "." {
		return false
	}
	if cur.Text == "," || cur.Text == ")" || cur.Text == ";" {
		return false
	}
	if prev.Text == "(" {
		return false
	}
	if cur.Text == "(" && prev.Kind == TokenIdent {
		// function call style: count(*) not count (*)
		return false
	}
	return true
}

// CountKeyword counts depth-independent occurrences of an unquoted keyword.
// The rewrite layer uses it to check that a rewrite preserved statement
// structure.
func CountKeyword(sql, keyword string) int {
	upper := strings.ToUpper(keyword)
	count := 0
	for _, t := range Tokenize(sql) {
		if t.IsKeyword(upper) {
			count++
		}
	}
	return count
}

// CountParams counts placeholder parameters (?, $n, :name).
func CountParams(sql string) int {
	count := 0
	for _, t := range Tokenize(sql) {
		if t.Kind == TokenParam {
			count++
		}
	}
	return count
}
