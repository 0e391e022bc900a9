package extract

import (
	"regexp"
	"strings"

	"github.com/MeKo-Tech/idcheck/internal/dates"
)

var dobRules = []rule{
	{"numeric-day-first", regexp.MustCompile(`\b(\d{2}[/-]\d{2}[/-]\d{4})\b`), normalizeDate},
	{"numeric-year-first", regexp.MustCompile(`\b(\d{4}[/-]\d{2}[/-]\d{2})\b`), normalizeDate},
	{"month-name", regexp.MustCompile(`(?i)\b(\d{1,2}\s+(?:Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)[a-z]*\s+\d{4})\b`), normalizeDate},
	{"label", regexp.MustCompile(`(?i)(?:\bDOB|\bD\.O\.B\.?|\bDate of Birth|जन्म तिथि)\s*:?\s*([^\n]+)`), normalizeDate},
}

func normalizeDate(s string) (string, bool) {
	v, err := dates.Normalize(strings.TrimSpace(s))
	return v, err == nil
}

// DOB returns the first parseable date of birth in text as DD-MM-YYYY.
func DOB(text string) (string, bool) {
	v, _, ok := firstValid(dobRules, text)
	return v, ok
}
