// Package security holds input validation and identifier generation shared by
// every entry point that accepts buyer-supplied data.
package security

import (
	"crypto/rand"
	"encoding/hex"
	"regexp"
	"strings"
)

// Transaction ids are namespaced under "RTX" followed by 128 bits of
// randomness in uppercase hex. Anything else is rejected at the boundary so
// client-supplied strings cannot collide with generated ids.
const txPrefix = "RTX"

var (
	txPattern    = regexp.MustCompile(`^RTX[0-9A-F]{32}$`)
	digitPattern = regexp.MustCompile(`\D`)
	emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
)

// Mobile number prefixes of the Mozambican numbering plan:
// 82/83 mCel, 84/85 Vodacom, 86/87 Movitel.
var mobilePrefixes = map[string]bool{
	"82": true, "83": true,
	"84": true, "85": true,
	"86": true, "87": true,
}

// NewTransactionID generates a fresh transaction id.
func NewTransactionID() string {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand never fails on supported platforms
		panic(err)
	}
	return txPrefix + strings.ToUpper(hex.EncodeToString(buf[:]))
}

// ValidTransactionID reports whether id matches the generated format.
func ValidTransactionID(id string) bool {
	return txPattern.MatchString(id)
}

// DigitsOnly strips every non-digit character.
func DigitsOnly(s string) string {
	return digitPattern.ReplaceAllString(s, "")
}

// ValidPhone reports whether the value is a valid Mozambican mobile number:
// 9 digits after stripping separators, with a known operator prefix. A
// leading country code (258) is tolerated.
func ValidPhone(phone string) bool {
	digits := DigitsOnly(phone)
	if strings.HasPrefix(digits, "258") && len(digits) == 12 {
		digits = digits[3:]
	}
	if len(digits) != 9 {
		return false
	}
	return mobilePrefixes[digits[:2]]
}

// ValidEmail reports whether the value looks like a deliverable address.
func ValidEmail(email string) bool {
	return emailPattern.MatchString(email)
}

var sanitizer = strings.NewReplacer(
	"<", "",
	">", "",
	"\"", "",
	"'", "",
	"`", "",
	";", "",
	"\\", "",
	"\x00", "",
)

// Sanitize strips characters usable for storage injection or stored XSS from
// free-text buyer fields. Applied before persistence, never on output.
func Sanitize(s string) string {
	return strings.TrimSpace(sanitizer.Replace(s))
}
