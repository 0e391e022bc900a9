package extract

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/MeKo-Tech/idcheck/internal/fuzzy"
)

// NameOptions holds the name-matching thresholds on the 0-100 scale.
type NameOptions struct {
	AcceptThreshold    int // minimum score for a name to be returned
	FirstNameThreshold int // first-token score a pattern candidate must exceed
	MaxLength          int
}

// DefaultNameOptions returns the thresholds tuned for card scans.
func DefaultNameOptions() NameOptions {
	return NameOptions{AcceptThreshold: 75, FirstNameThreshold: 60, MaxLength: 40}
}

func (o NameOptions) withDefaults() NameOptions {
	d := DefaultNameOptions()
	if o.AcceptThreshold <= 0 {
		o.AcceptThreshold = d.AcceptThreshold
	}
	if o.FirstNameThreshold <= 0 {
		o.FirstNameThreshold = d.FirstNameThreshold
	}
	if o.MaxLength <= 0 {
		o.MaxLength = d.MaxLength
	}
	return o
}

var (
	namePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:\bName|नाम)\s*:?\s*([^\n]+)`),
		regexp.MustCompile(`(?i)\bTo\s+(.+)`),
		regexp.MustCompile(`(?i)\b(?:Mr\.?|Ms\.?|Mrs\.?|Shri|Smt|Km)\s+(.+)`),
		regexp.MustCompile(`(?m)^\s*([A-Z][a-z]+(?:[ \t]+[A-Z][a-z]+)+)[ \t]*$`),
	}
	nameCharset = regexp.MustCompile(`^[A-Za-z\s\-.]+$`)
)

// Name returns the candidate in text that best matches claimed, or false
// when nothing reaches the acceptance threshold.
func (e *Extractor) Name(text, claimed string) (string, bool) {
	claimedFolded := fuzzy.Fold(strings.TrimSpace(claimed))
	if claimedFolded == "" {
		return "", false
	}
	claimedFirst := strings.Fields(claimedFolded)[0]

	best, bestScore := "", 0
	for _, re := range namePatterns {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			candidate := strings.TrimSpace(m[1])
			if !e.plausible(candidate, claimedFirst) {
				continue
			}
			if s := fuzzy.Ratio(claimedFolded, fuzzy.Fold(candidate)); s > bestScore {
				best, bestScore = candidate, s
			}
		}
	}

	if bestScore < e.name.AcceptThreshold {
		for line := range strings.SplitSeq(text, "\n") {
			line = strings.TrimSpace(line)
			n := utf8.RuneCountInString(line)
			if n <= 3 || n >= e.name.MaxLength || strings.ContainsFunc(line, unicode.IsDigit) {
				continue
			}
			if s := fuzzy.PartialRatio(claimedFolded, fuzzy.Fold(line)); s > bestScore {
				best, bestScore = line, s
			}
		}
	}

	if bestScore < e.name.AcceptThreshold {
		return "", false
	}
	return best, true
}

// plausible applies the pattern-candidate filters: bounded length, letters
// and name punctuation only, and a first token resembling the claim.
func (e *Extractor) plausible(candidate, claimedFirst string) bool {
	if candidate == "" || utf8.RuneCountInString(candidate) > e.name.MaxLength {
		return false
	}
	if !nameCharset.MatchString(candidate) {
		return false
	}
	folded := fuzzy.Fold(candidate)
	tokens := strings.Fields(folded)
	if len(tokens) == 0 {
		return false
	}
	return fuzzy.Ratio(claimedFirst, tokens[0]) > e.name.FirstNameThreshold ||
		strings.Contains(folded, claimedFirst)
}
