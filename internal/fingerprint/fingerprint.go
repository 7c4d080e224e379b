// Package fingerprint derives a stable identity for candidate profile text
// so a profile is never messaged twice, even across runs and case or
// whitespace churn on the page.
package fingerprint

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"unicode"
)

// Normalize canonicalizes profile text: lowercase, all whitespace runs
// collapsed to a single space, leading/trailing punctuation and spaces
// trimmed. Two renderings of the same profile normalize identically.
func Normalize(text string) string {
	lower := strings.ToLower(text)
	fields := strings.FieldsFunc(lower, unicode.IsSpace)
	joined := strings.Join(fields, " ")
	return strings.TrimFunc(joined, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r)
	})
}

// Hash returns the 16-character lowercase hex fingerprint of normalized text.
func Hash(text string) string {
	h := sha256.Sum256([]byte(Normalize(text)))
	return fmt.Sprintf("%x", h[:8])
}
