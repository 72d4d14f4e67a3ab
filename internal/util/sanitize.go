package util

import (
	"html"
	"strings"
)

// SanitizeInput trims and escapes HTML/script-like characters from
// operator-supplied text such as session titles.
func SanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return html.EscapeString(s)
}
