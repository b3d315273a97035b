package archive

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// Redaction order matters: emails first so their digits never read as a
// phone, then VINs, then phone numbers.
var redactions = []struct {
	re   *regexp.Regexp
	mark string
}{
	{regexp.MustCompile(`[\w.%+\-]+@[\w\-]+(?:\.[\w\-]+)*\.[A-Za-z]{2,}`), "[EMAIL]"},
	{regexp.MustCompile(`\b[A-HJ-NPR-Z0-9]{17}\b`), "[VIN]"},
	{regexp.MustCompile(`(?:\+?1[\s.\-]?)?(?:\(\d{3}\)|\d{3})[\s.\-]?\d{3}[\s.\-]?\d{4}\b`), "[PHONE]"},
}

// HashPhone keys archived records by phone without storing it. Formatting is
// ignored, so "(555) 123-4567" and "+15551234567" hash alike.
func HashPhone(phone string) string {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, phone)
	if len(digits) == 10 {
		digits = "1" + digits
	}
	sum := sha256.Sum256([]byte(digits))
	return hex.EncodeToString(sum[:])
}

// ScrubPII masks contact details and VINs in free text. Store errors echo
// row values, so failure text passes through here before it is archived.
func ScrubPII(text string) string {
	for _, r := range redactions {
		text = r.re.ReplaceAllString(text, r.mark)
	}
	return text
}
