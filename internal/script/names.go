package script

import (
	"reflect"
	"strings"
	"unicode"
)

// fieldNameMapper exposes Go fields and methods to scripts with lower-camel
// names: URL becomes url, HeaderValue becomes headerValue, HTTPClient
// becomes httpClient. Struct fields honour json tags.
type fieldNameMapper struct{}

func (fieldNameMapper) FieldName(_ reflect.Type, f reflect.StructField) string {
	if tag, ok := f.Tag.Lookup("json"); ok {
		name, _, _ := strings.Cut(tag, ",")
		if name == "-" {
			return ""
		}
		if name != "" {
			return name
		}
	}
	return lowerCamel(f.Name)
}

func (fieldNameMapper) MethodName(_ reflect.Type, m reflect.Method) string {
	return lowerCamel(m.Name)
}

func lowerCamel(name string) string {
	runes := []rune(name)
	upper := 0
	for upper < len(runes) && unicode.IsUpper(runes[upper]) {
		upper++
	}
	switch {
	case upper == 0:
		return name
	case upper == 1 || upper == len(runes):
		// Frame -> frame, URL -> url
	default:
		// HTTPClient -> httpClient: the last capital starts the next word
		if unicode.IsLower(runes[upper]) {
			upper--
		}
	}
	for i := 0; i < upper; i++ {
		runes[i] = unicode.ToLower(runes[i])
	}
	return string(runes)
}
