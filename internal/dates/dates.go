// Package dates parses free-text dates of birth as printed on identity cards.
package dates

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// Layout is the normalised output format.
const Layout = "02-01-2006"

// ErrUnparsable is wrapped by every Parse failure.
var ErrUnparsable = errors.New("unparsable date")

var (
	ordinalRe  = regexp.MustCompile(`(\d)(st|nd|rd|th)\b`)
	spaceRe    = regexp.MustCompile(`\s+`)
	yearFirst  = regexp.MustCompile(`^(\d{4})[-/.](\d{1,2})[-/.](\d{1,2})$`)
	yearLast   = regexp.MustCompile(`^(\d{1,2})[-/.](\d{1,2})[-/.](\d{4})$`)
	dayMonth   = regexp.MustCompile(`^(\d{1,2})[ \-/.]+([a-z]+)\.?[ \-/.]+(\d{4})$`)
	monthDay   = regexp.MustCompile(`^([a-z]+)\.? (\d{1,2}) (\d{4})$`)
	monthNames = []string{
		"january", "february", "march", "april", "may", "june",
		"july", "august", "september", "october", "november", "december",
	}
)

// Parse interprets s as a calendar date. With dayFirst set, an ambiguous
// numeric date such as 05/03/1999 is read as 5 March; the order is swapped
// only when the preferred reading is impossible.
//
// Only the card layouts below are accepted. Each is rewritten into a
// canonical day-first form and handed to dateparse, which validates the
// calendar day.
func Parse(s string, dayFirst bool) (time.Time, error) {
	in := normalize(s)
	if in == "" {
		return time.Time{}, fmt.Errorf("%w: empty input", ErrUnparsable)
	}
	canonical, err := canonicalize(in, dayFirst)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %w", ErrUnparsable, err)
	}
	t, err := dateparse.ParseIn(canonical, time.UTC, dateparse.PreferMonthFirst(false))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q: %w", ErrUnparsable, s, err)
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
}

// canonicalize maps a normalised date to "DD/MM/YYYY" or "D Month YYYY".
func canonicalize(in string, dayFirst bool) (string, error) {
	if m := yearFirst.FindStringSubmatch(in); m != nil {
		return numeric(atoi(m[3]), atoi(m[2]), m[1]), nil
	}
	if m := yearLast.FindStringSubmatch(in); m != nil {
		day, month := atoi(m[1]), atoi(m[2])
		if !dayFirst {
			day, month = month, day
		}
		if month > 12 && day <= 12 {
			day, month = month, day
		}
		return numeric(day, month, m[3]), nil
	}
	if m := dayMonth.FindStringSubmatch(in); m != nil {
		return named(m[1], m[2], m[3])
	}
	if m := monthDay.FindStringSubmatch(in); m != nil {
		return named(m[2], m[1], m[3])
	}
	return "", fmt.Errorf("unrecognised layout %q", in)
}

func numeric(day, month int, year string) string {
	return fmt.Sprintf("%02d/%02d/%s", day, month, year)
}

func named(day, month, year string) (string, error) {
	mo, ok := lookupMonth(month)
	if !ok {
		return "", fmt.Errorf("unknown month %q", month)
	}
	return fmt.Sprintf("%s %s %s", day, time.Month(mo), year), nil
}

// Normalize parses s day-first and formats it as DD-MM-YYYY.
func Normalize(s string) (string, error) {
	t, err := Parse(s, true)
	if err != nil {
		return "", err
	}
	return t.Format(Layout), nil
}

// Equal reports whether a and b name the same calendar day under day-first
// parsing. Either side failing to parse yields false.
func Equal(a, b string) bool {
	ta, err := Parse(a, true)
	if err != nil {
		return false
	}
	tb, err := Parse(b, true)
	if err != nil {
		return false
	}
	return ta.Equal(tb)
}

func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, ",", " ")
	s = ordinalRe.ReplaceAllString(s, "$1")
	s = spaceRe.ReplaceAllString(s, " ")
	return strings.Trim(s, " .;:")
}

func lookupMonth(tok string) (int, bool) {
	if len(tok) < 3 {
		return 0, false
	}
	for i, name := range monthNames {
		if strings.HasPrefix(name, tok) {
			return i + 1, true
		}
	}
	return 0, false
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
