// Package privacy masks personal identifiers before text reaches logs or analytics.
package privacy

import (
	"regexp"

	"go.uber.org/zap"
)

var (
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	// Mainland resident ID: 17 digits plus a digit or X.
	idPattern    = regexp.MustCompile(`\b\d{17}[\dXx]\b`)
	phonePattern = regexp.MustCompile(`(?:\+?\d{1,3}[\s\-]?)?(?:1[3-9]\d{9}|\(?\d{3,4}\)?[\s\-]?\d{3,4}[\s\-]?\d{4})`)
)

// Redact replaces emails, national ID numbers and phone numbers in s with placeholders.
func Redact(s string) string {
	s = emailPattern.ReplaceAllString(s, "[email]")
	s = idPattern.ReplaceAllString(s, "[id]")
	return phonePattern.ReplaceAllString(s, "[phone]")
}

// String is a zap field carrying the redacted form of value.
func String(key, value string) zap.Field {
	return zap.String(key, Redact(value))
}
