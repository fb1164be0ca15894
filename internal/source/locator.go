// Package source validates media locators and derives the stable job key
// used to name a job's artifact workspace.
package source

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// ValidationError rejects a locator at the API boundary. No task record is
// created for a locator that fails validation.
type ValidationError struct {
	Locator string
	Reason  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid locator %q: %s", e.Locator, e.Reason)
}

// Job keys become directory names, so the charset is restricted.
var keyPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{6,64}$`)

// JobKey derives the stable job key for a locator. Identical locators
// (after canonicalization) always yield the same key. Supported forms are
// youtube.com/watch?v=<id> and youtu.be/<id>; playlist URLs are rejected
// outright since no single key can be derived from them.
func JobKey(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", &ValidationError{Locator: raw, Reason: "empty URL"}
	}

	u, err := url.Parse(trimmed)
	if err != nil {
		return "", &ValidationError{Locator: raw, Reason: "not a parseable URL"}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", &ValidationError{Locator: raw, Reason: "not an http(s) URL"}
	}

	host := strings.ToLower(u.Hostname())
	switch host {
	case "youtu.be":
		key := strings.Trim(u.Path, "/")
		if i := strings.IndexByte(key, '/'); i >= 0 {
			key = key[:i]
		}
		return checkKey(raw, key)
	case "youtube.com", "www.youtube.com", "m.youtube.com":
		if u.Path == "/playlist" || (u.Query().Get("list") != "" && u.Query().Get("v") == "") {
			return "", &ValidationError{Locator: raw, Reason: "playlist URLs are not supported"}
		}
		if u.Path == "/watch" {
			return checkKey(raw, u.Query().Get("v"))
		}
		return "", &ValidationError{Locator: raw, Reason: "unsupported youtube path"}
	default:
		return "", &ValidationError{Locator: raw, Reason: "unsupported host"}
	}
}

func checkKey(raw, key string) (string, error) {
	if !keyPattern.MatchString(key) {
		return "", &ValidationError{Locator: raw, Reason: "missing or malformed video id"}
	}
	return key, nil
}
