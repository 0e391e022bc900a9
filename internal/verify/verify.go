// Package verify compares extracted identity fields against claimed values.
package verify

import (
	"strings"
	"time"

	"github.com/MeKo-Tech/idcheck/internal/dates"
	"github.com/MeKo-Tech/idcheck/internal/extract"
	"github.com/MeKo-Tech/idcheck/internal/fuzzy"
)

// DefaultNameThreshold is the minimum token-sort score for a name match.
const DefaultNameThreshold = 75

// Claim is the caller-supplied identity to verify against.
type Claim struct {
	Name     string `json:"name"`
	DOB      string `json:"dob"`
	IDNumber string `json:"id_number"`
}

// Report is the outcome of a verification. Unresolved fields never match.
type Report struct {
	NameMatch bool `json:"name_match"`
	DOBMatch  bool `json:"dob_match"`
	IDMatch   bool `json:"id_match"`
	AllMatch  bool `json:"all_match"`
	Age       *int `json:"age"`
	IsTeen    bool `json:"is_teen"`
}

// Verifier applies the per-field equivalence rules.
type Verifier struct {
	NameThreshold int
	Now           func() time.Time
}

// New returns a verifier with the given name threshold; non-positive values
// fall back to DefaultNameThreshold.
func New(nameThreshold int) *Verifier {
	if nameThreshold <= 0 {
		nameThreshold = DefaultNameThreshold
	}
	return &Verifier{NameThreshold: nameThreshold, Now: time.Now}
}

// Verify builds the report for fields against claim, including the age
// derived from the extracted date of birth.
func (v *Verifier) Verify(fields extract.Fields, claim Claim) Report {
	r := Report{
		NameMatch: v.NameMatches(fields.Name, claim.Name),
		DOBMatch:  DOBMatches(fields.DOB, claim.DOB),
		IDMatch:   IDMatches(fields.IDNumber, claim.IDNumber),
	}
	r.AllMatch = r.NameMatch && r.DOBMatch && r.IDMatch

	now := time.Now
	if v.Now != nil {
		now = v.Now
	}
	if age, ok := AgeFrom(fields.DOB, now()); ok {
		r.Age = &age
		r.IsTeen = IsTeen(age)
	}
	return r
}

// NameMatches reports whether both names are present and score at least
// the threshold under order-insensitive token comparison.
func (v *Verifier) NameMatches(extracted, claimed string) bool {
	if strings.TrimSpace(extracted) == "" || strings.TrimSpace(claimed) == "" {
		return false
	}
	return fuzzy.TokenSortRatio(claimed, extracted) >= v.NameThreshold
}

// DOBMatches reports whether both dates parse day-first to the same day.
func DOBMatches(extracted, claimed string) bool {
	if extracted == "" || claimed == "" {
		return false
	}
	return dates.Equal(extracted, claimed)
}

// IDMatches reports exact equality after whitespace removal.
func IDMatches(extracted, claimed string) bool {
	a, b := extract.NormalizeID(extracted), extract.NormalizeID(claimed)
	return a != "" && b != "" && a == b
}
