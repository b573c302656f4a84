// Package stringutil provides common string utility functions.
package stringutil

import "unicode/utf8"

// TruncateString truncates s to at most maxLen bytes without splitting a rune.
func TruncateString(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// TruncateStringWithEllipsis truncates s to at most maxLen bytes and adds "..." when shortened.
func TruncateStringWithEllipsis(s string, maxLen int) string {
	if maxLen < 4 {
		return TruncateString(s, maxLen)
	}
	if len(s) <= maxLen {
		return s
	}
	return TruncateString(s, maxLen-3) + "..."
}
