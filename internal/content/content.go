package content

import (
	"bytes"
	"errors"
	"html/template"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
)

var (
	policy      = bluemonday.UGCPolicy()
	roomIDRegex = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)
)

// Sanitize removes unsafe HTML from the input string using a strict policy.
func Sanitize(input string) string {
	return policy.Sanitize(input)
}

// Escape escapes special characters like "<" to become "&lt;".
func Escape(input string) string {
	return template.HTMLEscapeString(input)
}

// Render converts message text written in markdown into sanitized HTML.
// When markdown conversion fails the text is returned escaped.
func Render(text string) string {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(text), &buf); err != nil {
		return Escape(text)
	}
	return strings.TrimSpace(Sanitize(buf.String()))
}

// ValidateRoomID checks that the room id contains only allowed characters
// (alphanumeric, dot, dash, underscore) and is not empty.
func ValidateRoomID(id string) error {
	if id == "" {
		return errors.New("room id cannot be empty")
	}
	if !roomIDRegex.MatchString(id) {
		return errors.New("room id contains invalid characters (allowed: alphanumeric, dot, dash, underscore)")
	}
	return nil
}
