// Package fuzzy scores string similarity on a 0-100 scale.
//
// Three distinct scorers are provided: Ratio compares whole strings,
// PartialRatio finds the best-matching substring of the longer input, and
// TokenSortRatio ignores word order. Scores are indel-normalised,
// 100 * (la + lb - indel) / (la + lb), the scale fuzzywuzzy thresholds
// are expressed in.
package fuzzy

import (
	"math"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	edlib "github.com/hbollon/go-edlib"
	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold lowercases s and strips combining marks so that OCR output and typed
// claims compare equal regardless of case or diacritics.
func Fold(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	// Casers carry state and must not be shared between goroutines.
	return cases.Fold().String(out)
}

// Ratio returns the indel similarity of a and b: twice their longest common
// subsequence over their combined length.
func Ratio(a, b string) int {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	if la == 0 && lb == 0 {
		return 100
	}
	if la == 0 || lb == 0 {
		return 0
	}
	return score(edlib.LCSEditDistance(a, b), la+lb)
}

// PartialRatio returns the best Ratio between the shorter string and every
// equal-length window of the longer one.
func PartialRatio(a, b string) int {
	short, long := []rune(a), []rune(b)
	if len(short) > len(long) {
		short, long = long, short
	}
	if len(short) == 0 {
		if len(long) == 0 {
			return 100
		}
		return 0
	}
	s := string(short)
	best := 0
	for i := 0; i+len(short) <= len(long); i++ {
		r := Ratio(s, string(long[i:i+len(short)]))
		if r > best {
			best = r
			if best == 100 {
				break
			}
		}
	}
	return best
}

// TokenSortRatio lowercases both inputs, reduces them to alphanumeric
// tokens, sorts the tokens and compares the rejoined strings.
func TokenSortRatio(a, b string) int {
	ta, tb := sortedTokens(a), sortedTokens(b)
	if ta == "" || tb == "" {
		return 0
	}
	return Ratio(ta, tb)
}

func sortedTokens(s string) string {
	tokens := strings.FieldsFunc(Fold(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}

// score rounds half to even, as Python's round does.
func score(indel, total int) int {
	return int(math.RoundToEven(100 * float64(total-indel) / float64(total)))
}
