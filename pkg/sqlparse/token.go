// Package sqlparse provides a small SQL tokenizer and statement-shape
// extractor. It is not a full SQL grammar: it recognizes enough structure to
// pull tables, WHERE/JOIN conditions, ORDER BY / GROUP BY columns and a few
// textual signals out of well-formed statements without resorting to regexes.
package sqlparse

import (
	"strings"
	"unicode"
)

// TokenKind classifies lexer output.
type TokenKind int

const (
	TokenIdent TokenKind = iota
	TokenNumber
	TokenString
	TokenOperator
	TokenPunct
	TokenParam
)

// Token is one lexical unit. Upper is the uppercased text for identifiers and
// stays empty for other kinds; keyword checks go through it so quoted
// identifiers never match keywords.
type Token struct {
	Kind   TokenKind
	Text   string
	Upper  string
	Quoted bool
}

// IsKeyword reports whether the token is the given unquoted SQL keyword.
func (t Token) IsKeyword(kw string) bool {
	return t.Kind == TokenIdent && !t.Quoted && t.Upper == kw
}

// Tokenize splits a SQL statement into tokens. Comments are dropped.
// Parameters (?, $1, :name) become TokenParam. Quoted identifiers
// (backticks, double quotes, brackets) become TokenIdent with Quoted set.
func Tokenize(sql string) []Token {
	var tokens []Token
	runes := []rune(sql)
	i := 0
	n := len(runes)

	for i < n {
		c := runes[i]

		switch {
		case unicode.IsSpace(c):
			i++

		case c == '-' && i+1 < n && runes[i+1] == '-':
			for i < n && runes[i] != '\n' {
				i++
			}

		case c == '#':
			for i < n && runes[i] != '\n' {
				i++
			}

		case c == '/' && i+1 < n && runes[i+1] == '*':
			i += 2
			for i+1 < n && !(runes[i] == '*' && runes[i+1] == '/') {
				i++
			}
			i += 2

		case c == '\'':
			start := i
			i++
			for i < n {
				if runes[i] == '\'' {
					if i+1 < n && runes[i+1] == '\'' { // escaped quote
						i += 2
						continue
					}
					i++
					break
				}
				i++
			}
			tokens = append(tokens, Token{Kind: TokenString, Text: string(runes[start:i])})

		case c == '`' || c == '"':
			quote := c
			i++
			start := i
			for i < n && runes[i] != quote {
				i++
			}
			text := string(runes[start:i])
			if i < n {
				i++
			}
			tokens = append(tokens, Token{Kind: TokenIdent, Text: text, Upper: strings.ToUpper(text), Quoted: true})

		case c == '[':
			i++
			start := i
			for i < n && runes[i] != ']' {
				i++
			}
			text := string(runes[start:i])
			if i < n {
				i++
			}
			tokens = append(tokens, Token{Kind: TokenIdent, Text: text, Upper: strings.ToUpper(text), Quoted: true})

		case c == '?':
			tokens = append(tokens, Token{Kind: TokenParam, Text: "?"})
			i++

		case c == '$' && i+1 < n && unicode.IsDigit(runes[i+1]):
			start := i
			i++
			for i < n && unicode.IsDigit(runes[i]) {
				i++
			}
			tokens = append(tokens, Token{Kind: TokenParam, Text: string(runes[start:i])})

		case c == ':' && i+1 < n && isIdentStart(runes[i+1]):
			start := i
			i++
			for i < n && isIdentPart(runes[i]) {
				i++
			}
			tokens = append(tokens, Token{Kind: TokenParam, Text: string(runes[start:i])})

		case unicode.IsDigit(c) || (c == '.' && i+1 < n && unicode.IsDigit(runes[i+1])):
			start := i
			for i < n && (unicode.IsDigit(runes[i]) || runes[i] == '.' || runes[i] == 'e' ||
				runes[i] == 'E' || runes[i] == 'x' || isHexDigit(runes[i])) {
				i++
			}
			tokens = append(tokens, Token{Kind: TokenNumber, Text: string(runes[start:i])})

		case isIdentStart(c):
			start := i
			for i < n && isIdentPart(runes[i]) {
				i++
			}
			text := string(runes[start:i])
			tokens = append(tokens, Token{Kind: TokenIdent, Text: text, Upper: strings.ToUpper(text)})

		case isOperatorStart(c):
			start := i
			i++
			// greedy two-char operators: <=, >=, <>, !=, ||
			if i < n {
				two := string(runes[start : i+1])
				switch two {
				case "<=", ">=", "<>", "!=", "||":
					i++
				}
			}
			tokens = append(tokens, Token{Kind: TokenOperator, Text: string(runes[start:i])})

		default:
			tokens = append(tokens, Token{Kind: TokenPunct, Text: string(c)})
			i++
		}
	}

	return tokens
}

func isIdentStart(c rune) bool {
	return unicode.IsLetter(c) || c == '_' || c == '@'
}

func isIdentPart(c rune) bool {
	return unicode.IsLetter(c) || unicode.IsDigit(c) || c == '_' || c == '$'
}

func isHexDigit(c rune) bool {
	return (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func isOperatorStart(c rune) bool {
	switch c {
	case '=', '<', '>', '!', '+', '-', '*', '/', '%', '|', '&', '^', '~':
		return true
	}
	return false
}
