package docbuilder

import (
	"net/url"
	"strings"
)

var fieldNameReplacer = strings.NewReplacer(
	".", "%2E",
	"-", "%2D",
	"*", "%2A",
	"+", "%20",
)

// Encode URL-encodes a logical field name and then re-escapes the handful
// of characters the search engine's mapping treats as reserved but a
// plain URL-encode leaves untouched: '.', '-', '*', and the '+' produced
// for an encoded space.
func Encode(key string) string {
	return fieldNameReplacer.Replace(url.QueryEscape(key))
}

// Decode reverses Encode.
func Decode(key string) (string, error) {
	return url.QueryUnescape(key)
}

// ExtractUUID extracts the trailing UUID segment from a nodeRef of the
// form <protocol>://<store>/<uuid>.
func ExtractUUID(nodeRef string) (string, bool) {
	schemeSplit := strings.SplitN(nodeRef, "://", 2)
	if len(schemeSplit) != 2 {
		return "", false
	}
	idx := strings.LastIndex(schemeSplit[1], "/")
	if idx < 0 || idx == len(schemeSplit[1])-1 {
		return "", false
	}
	return schemeSplit[1][idx+1:], true
}
