package glob

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToPattern(t *testing.T) {
	tests := []struct {
		glob string
		want string
	}{
		{"", "^$"},
		{"*", "^([^/]*)$"},
		{"**", "^((?:[^/]*(?:/|$))*)$"},
		{"a**b", "^a([^/]*)b$"},
		{"**/*.js", `^((?:[^/]*(?:/|$))*)([^/]*)\.js$`},
		{"{a,b}", "^(a|b)$"},
		{"a,b", `^a\,b$`},
		{"a?c", "^a.c$"},
		{`\*`, `^\*$`},
		{`\`, `^\\$`},
		{"(x)+", `^\(x\)\+$`},
		{"[ab]", "^[ab]$"},
	}

	for _, tt := range tests {
		t.Run(tt.glob, func(t *testing.T) {
			assert.Equal(t, tt.want, ToPattern(tt.glob))
		})
	}
}

func TestCompileMatching(t *testing.T) {
	tests := []struct {
		name  string
		glob  string
		url   string
		match bool
	}{
		{"deep wildcard matches any path", "**", "https://example.com/a/b/c?x=1", true},
		{"deep wildcard matches empty", "**", "", true},
		{"star within segment", "https://example.com/*", "https://example.com/hello", true},
		{"star does not cross slash", "https://example.com/*", "https://example.com/a/b", false},
		{"deep wildcard between segments", "**/api/**", "https://example.com/api/v1/users", true},
		{"deep wildcard prefix", "**/*.js", "https://cdn.example.com/lib/app.js", true},
		{"deep wildcard prefix rejects other ext", "**/*.js", "https://cdn.example.com/lib/app.css", false},
		{"alternation first", "**/*.{png,jpg}", "https://example.com/a.png", true},
		{"alternation second", "**/*.{png,jpg}", "https://example.com/a.jpg", true},
		{"alternation miss", "**/*.{png,jpg}", "https://example.com/a.gif", false},
		{"literal dot", "https://example.com/a.b", "https://example.com/a.b", true},
		{"literal dot is not any char", "https://example.com/a.b", "https://example.com/axb", false},
		{"question mark one char", "https://example.com/a?c", "https://example.com/abc", true},
		{"question mark requires a char", "https://example.com/a?c", "https://example.com/ac", false},
		{"anchored at start", "example.com/*", "https://example.com/x", false},
		{"escaped star is literal", `https://example.com/\*`, "https://example.com/*", true},
		{"escaped star rejects other", `https://example.com/\*`, "https://example.com/x", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			re, err := Compile(tt.glob)
			require.NoError(t, err)
			assert.Equal(t, tt.match, re.MatchString(tt.url))
		})
	}
}

func TestCompileMalformedClass(t *testing.T) {
	_, err := Compile("https://example.com/[a")
	assert.Error(t, err)
}
