package domain

import "strings"

// NormalizeHumanName trims leading/trailing whitespace and collapses internal whitespace runs.
func NormalizeHumanName(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// NormalizeEmail lowercases and trims an email address used as a login.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
