package extract

import (
	"regexp"
	"strings"
	"unicode"
)

// idDigits allows a single space or tab between the 4-digit groups. Line
// breaks never join groups, so digits on a neighbouring line stay apart.
const idDigits = `(\d{4}[ \t]?\d{4}[ \t]?\d{4})`

var idRules = []rule{
	{"bare", regexp.MustCompile(`\b` + idDigits + `\b`), validID},
	{"label", regexp.MustCompile(`(?i)(?:\bAadhaar|\bAadhar|आधार|\bUID|\bID)\s*(?:Number|No\.?)?\s*:?\s*` + idDigits), validID},
	{"version-suffix", regexp.MustCompile(`\b` + idDigits + `[ \t]*\(\d{1,2}\)`), validID},
}

// NormalizeID removes all whitespace from an ID number.
func NormalizeID(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

// ValidID reports whether s is a 12-digit number not starting with 0 or 1.
func ValidID(s string) bool {
	if len(s) != 12 || s[0] == '0' || s[0] == '1' {
		return false
	}
	for i := range len(s) {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func validID(s string) (string, bool) {
	id := NormalizeID(s)
	return id, ValidID(id)
}

// IDNumber returns the first valid 12-digit ID number in text.
func IDNumber(text string) (string, bool) {
	v, _, ok := firstValid(idRules, text)
	return v, ok
}
