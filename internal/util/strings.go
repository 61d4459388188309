package util

import "strings"

// SafeTruncate returns at most the first maxLen bytes of s. It is used to log
// a recognisable prefix of a code or token without logging the value itself.
// A negative maxLen yields "".
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// NormalizeURL strips trailing slashes so "https://a.example/" and
// "https://a.example" compare equal.
func NormalizeURL(url string) string {
	return strings.TrimRight(url, "/")
}
