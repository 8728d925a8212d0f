// Package glob compiles URL glob patterns into anchored regular expressions.
//
// Supported syntax:
//   - `\` escapes the next character
//   - `?` matches exactly one character
//   - `*` matches any run of characters except `/`
//   - `**` bounded by `/` or the pattern edges matches zero or more path segments
//   - `{a,b,c}` matches any of the comma separated alternatives
//   - `[` and `]` are passed through as character classes
//
// Every other regular expression metacharacter is matched literally.
package glob

import (
	"regexp"
	"strings"
)

// syntaxChars are the characters with special meaning in a regular expression.
var syntaxChars = map[rune]bool{
	'^': true, '$': true, '\\': true, '.': true, '*': true, '+': true, '?': true,
	'(': true, ')': true, '[': true, ']': true, '{': true, '}': true, '|': true,
}

const (
	deepWildcard  = `((?:[^/]*(?:/|$))*)`
	plainWildcard = `([^/]*)`
)

// ToPattern translates a glob into the source of an anchored regular expression.
func ToPattern(glob string) string {
	chars := []rune(glob)
	var b strings.Builder
	b.WriteByte('^')

	inGroup := false
	for i := 0; i < len(chars); i++ {
		c := chars[i]
		switch c {
		case '\\':
			i++
			escaped := c
			if i < len(chars) {
				escaped = chars[i]
			}
			writeLiteral(&b, escaped)
		case '*':
			before, hasBefore := at(chars, i-1)
			stars := 1
			for i+1 < len(chars) && chars[i+1] == '*' {
				stars++
				i++
			}
			after, hasAfter := at(chars, i+1)
			deep := stars > 1 &&
				(!hasBefore || before == '/') &&
				(!hasAfter || after == '/')
			if deep {
				b.WriteString(deepWildcard)
				// the separator after a deep wildcard is part of the wildcard
				i++
			} else {
				b.WriteString(plainWildcard)
			}
		case '?':
			b.WriteByte('.')
		case '[', ']':
			b.WriteRune(c)
		case '{':
			inGroup = true
			b.WriteByte('(')
		case '}':
			inGroup = false
			b.WriteByte(')')
		case ',':
			if inGroup {
				b.WriteByte('|')
			} else {
				b.WriteString(`\,`)
			}
		default:
			writeLiteral(&b, c)
		}
	}

	b.WriteByte('$')
	return b.String()
}

// Compile translates a glob into a compiled anchored regular expression.
func Compile(glob string) (*regexp.Regexp, error) {
	return regexp.Compile(ToPattern(glob))
}

// MustCompile is like Compile but panics on malformed character classes.
func MustCompile(glob string) *regexp.Regexp {
	return regexp.MustCompile(ToPattern(glob))
}

func writeLiteral(b *strings.Builder, c rune) {
	if syntaxChars[c] {
		b.WriteByte('\\')
	}
	b.WriteRune(c)
}

func at(chars []rune, i int) (rune, bool) {
	if i < 0 || i >= len(chars) {
		return 0, false
	}
	return chars[i], true
}
