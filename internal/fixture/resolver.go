package fixture

import (
	"path/filepath"
	"regexp"
	"strings"
)

// Fixture file extensions, in lookup precedence order.
const (
	ExtJSON     = "json"
	ExtTemplate = "tmpl"
	ExtHTML     = "html"
)

// callbackMarker flags an identifier whose surviving query string requests
// JSONP rendering. Detection is purely syntactic, per the wire contract.
const callbackMarker = "callback="

// Flatten maps a request path plus raw query string to the identifier base
// used for fixture filenames. The path and query are joined with "?", every
// ignore pattern is applied once in configuration order, the leading slash is
// dropped and the remaining separators collapse into "_" so nested paths
// become a single filename component.
func Flatten(path, rawQuery string, ignore []*regexp.Regexp) string {
	candidate := path
	if rawQuery != "" {
		candidate = path + "?" + rawQuery
	}
	for _, re := range ignore {
		candidate = re.ReplaceAllString(candidate, "")
	}
	candidate = strings.TrimPrefix(candidate, "/")
	return strings.ReplaceAll(candidate, "/", "_")
}

// Resolve returns the on-disk fixture path for a request. The same inputs
// always resolve to the same path, whether the caller is probing, reading or
// writing. Empty input resolves to root/.ext rather than failing.
func Resolve(path, rawQuery string, ignore []*regexp.Regexp, root, ext string) string {
	return filepath.Join(root, Flatten(path, rawQuery, ignore)+"."+ext)
}

// HasCallback reports whether an identifier (or any path?query candidate)
// carries the JSONP callback marker.
func HasCallback(name string) bool {
	return strings.Contains(name, callbackMarker)
}
