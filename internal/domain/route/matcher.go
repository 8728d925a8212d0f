package route

import (
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"regexp"
	"strings"

	"github.com/GriffinCanCode/pwbridge/internal/shared/glob"
)

var ErrInvalidMatcher = errors.New("route: url parameter should be string, *regexp.Regexp or func(*url.URL) bool")

// Matcher selects requests by URL. It is a glob string (absolute, or
// relative to the page's base URL), a *regexp.Regexp tested against the
// absolute URL, or a func(*url.URL) bool. The empty string matches every
// request.
type Matcher any

func compileMatcher(m Matcher, base *url.URL) (func(*url.URL) bool, error) {
	switch x := m.(type) {
	case string:
		if x == "" {
			return func(*url.URL) bool { return true }, nil
		}
		pattern := x
		if !strings.HasPrefix(x, "*") {
			resolved, err := resolve(base, x)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidMatcher, err)
			}
			pattern = normalize(resolved).String()
		}
		re, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidMatcher, err)
		}
		return func(u *url.URL) bool { return re.MatchString(normalize(u).String()) }, nil
	case *regexp.Regexp:
		if x == nil {
			return nil, ErrInvalidMatcher
		}
		return func(u *url.URL) bool { return x.MatchString(normalize(u).String()) }, nil
	case func(*url.URL) bool:
		if x == nil {
			return nil, ErrInvalidMatcher
		}
		return func(u *url.URL) bool { return x(normalize(u)) }, nil
	default:
		return nil, fmt.Errorf("%w: got %T", ErrInvalidMatcher, m)
	}
}

func resolve(base *url.URL, ref string) (*url.URL, error) {
	if base == nil {
		return url.Parse(ref)
	}
	return base.Parse(ref)
}

// defaultPorts lists the schemes whose URLs get a "/" path when empty,
// with the port dropped when it is the scheme's default.
var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
	"ws":    "80",
	"wss":   "443",
	"ftp":   "21",
	"file":  "",
}

// normalize returns u in the form a browser reports it: lower-case scheme
// and host, no default port, "/" for an empty path.
func normalize(u *url.URL) *url.URL {
	n := *u
	n.Scheme = strings.ToLower(n.Scheme)
	n.Host = strings.ToLower(n.Host)

	port, special := defaultPorts[n.Scheme]
	if !special {
		return &n
	}
	if port != "" && n.Port() == port {
		n.Host = strings.TrimSuffix(n.Host, ":"+port)
	}
	if n.Path == "" && n.Opaque == "" {
		n.Path = "/"
		n.RawPath = ""
	}
	return &n
}

// sameMatcher reports whether a and b were given as the same matcher.
// Regular expressions compare by source, functions by code pointer.
func sameMatcher(a, b Matcher) bool {
	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		return ok && x == y
	case *regexp.Regexp:
		y, ok := b.(*regexp.Regexp)
		if !ok {
			return false
		}
		if x == nil || y == nil {
			return x == y
		}
		return x == y || x.String() == y.String()
	case func(*url.URL) bool:
		_, ok := b.(func(*url.URL) bool)
		return ok && sameFunc(a, b)
	}
	return false
}

func sameFunc(a, b any) bool {
	return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
}
