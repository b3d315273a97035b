package messaging

import (
	"errors"
	"regexp"
	"strings"
)

var phoneDigitsRe = regexp.MustCompile(`\d+`)

// ErrInvalidPhone is returned for numbers that are not a 10 digit US number.
var ErrInvalidPhone = errors.New("messaging: phone must be a 10 digit US number")

// NormalizeE164 ensures the value begins with + and only contains digits afterward.
func NormalizeE164(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	digits := sanitizePhone(value)
	if digits == "" {
		return ""
	}
	return "+" + digits
}

// NormalizeUSPhone accepts a 10 digit number in any punctuation, optionally
// prefixed with the country code, and returns it as +1XXXXXXXXXX.
func NormalizeUSPhone(value string) (string, error) {
	digits := sanitizePhone(value)
	if len(digits) == 11 && digits[0] == '1' {
		digits = digits[1:]
	}
	if len(digits) != 10 {
		return "", ErrInvalidPhone
	}
	return "+1" + digits, nil
}

// MaskPhone keeps the last four digits for logs and confirmations.
func MaskPhone(value string) string {
	digits := sanitizePhone(value)
	if len(digits) <= 4 {
		return digits
	}
	return strings.Repeat("*", len(digits)-4) + digits[len(digits)-4:]
}

func sanitizePhone(value string) string {
	if value == "" {
		return ""
	}
	digits := phoneDigitsRe.FindAllString(value, -1)
	return strings.Join(digits, "")
}
