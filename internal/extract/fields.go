// Package extract mines pooled recognition text for identity fields.
//
// Each field is driven by an ordered table of (pattern, validator) rules
// evaluated with early exit, so the first valid match in table order wins.
package extract

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Fields holds the extracted values. An empty string means absent.
type Fields struct {
	Name     string
	DOB      string // DD-MM-YYYY
	IDNumber string // 12 digits
}

// Complete reports whether every field has been found.
func (f Fields) Complete() bool {
	return f.Name != "" && f.DOB != "" && f.IDNumber != ""
}

// MarshalJSON emits absent fields as null.
func (f Fields) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Name     *string `json:"name"`
		DOB      *string `json:"dob"`
		IDNumber *string `json:"id_number"`
	}{optional(f.Name), optional(f.DOB), optional(f.IDNumber)})
}

// UnmarshalJSON accepts the MarshalJSON layout; null reads as absent.
func (f *Fields) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name     string `json:"name"`
		DOB      string `json:"dob"`
		IDNumber string `json:"id_number"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*f = Fields{Name: raw.Name, DOB: raw.DOB, IDNumber: raw.IDNumber}
	return nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// rule is one entry of a field's pattern table. accept validates and
// normalises the captured text.
type rule struct {
	name   string
	re     *regexp.Regexp
	accept func(string) (string, bool)
}

// firstValid walks rules in order and returns the first accepted capture.
// After a rejected match the search resumes at the next word inside it, so
// a date's year glued to the front of an ID does not hide the ID.
func firstValid(rules []rule, text string) (string, string, bool) {
	for _, r := range rules {
		for pos := 0; pos < len(text); {
			loc := r.re.FindStringSubmatchIndex(text[pos:])
			if loc == nil {
				break
			}
			if v, ok := r.accept(text[pos+loc[2] : pos+loc[3]]); ok {
				return v, r.name, true
			}
			pos = resume(text, pos+loc[0], pos+loc[1])
		}
	}
	return "", "", false
}

// resume returns the offset just past the first whitespace in
// text[start:end], or end when the match holds none. Starting right after
// whitespace keeps \b at the new offset meaning what it meant in text.
func resume(text string, start, end int) int {
	if i := strings.IndexAny(text[start:end], " \t\n\r"); i >= 0 {
		return start + i + 1
	}
	return end
}

// Extractor fills Fields from pooled text.
type Extractor struct {
	name NameOptions
}

// New returns an extractor using the given name-matching options.
func New(opts NameOptions) *Extractor {
	return &Extractor{name: opts.withDefaults()}
}

// Fill sets every still-absent field of f that text can supply. Fields
// already present are never overwritten. It returns the fields it set.
func (e *Extractor) Fill(f *Fields, text, claimedName string) []string {
	var filled []string
	if f.Name == "" {
		if v, ok := e.Name(text, claimedName); ok {
			f.Name = v
			filled = append(filled, "name")
		}
	}
	if f.DOB == "" {
		if v, ok := DOB(text); ok {
			f.DOB = v
			filled = append(filled, "dob")
		}
	}
	if f.IDNumber == "" {
		if v, ok := IDNumber(text); ok {
			f.IDNumber = v
			filled = append(filled, "id_number")
		}
	}
	return filled
}
