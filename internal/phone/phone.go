// Package phone implements the E.164 phone-number normalization utility
// (A7), a thin out-of-core collaborator backing the case-registration and
// call-placement handlers.
package phone

import (
	"regexp"
	"strings"
)

var digitsPattern = regexp.MustCompile(`\d+`)

// NormalizeE164 ensures value begins with + and only contains digits
// afterward, returning "" for input that does not resolve to a plausible
// E.164 number (8-15 digits, per ITU-T E.164's maximum length).
func NormalizeE164(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	digits := Sanitize(value)
	if len(digits) < 8 || len(digits) > 15 {
		return ""
	}
	return "+" + digits
}

// Sanitize strips every non-digit character from value.
func Sanitize(value string) string {
	if value == "" {
		return ""
	}
	return strings.Join(digitsPattern.FindAllString(value, -1), "")
}

// Mask redacts all but the last 4 digits of a phone number for logging.
func Mask(value string) string {
	value = strings.TrimSpace(value)
	if len(value) <= 4 {
		return "****"
	}
	return "***" + value[len(value)-4:]
}
