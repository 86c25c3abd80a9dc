package output

import "regexp"

var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// StripANSI removes ANSI escape sequences from provider payloads before they
// reach the store or the terminal.
func StripANSI(s string) string {
	return ansiEscape.ReplaceAllString(s, "")
}
