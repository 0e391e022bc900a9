package extract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestName(t *testing.T) {
	cases := []struct {
		name    string
		text    string
		claimed string
		want    string
		found   bool
	}{
		{"label", "GOVERNMENT OF INDIA\nName: John Andrew Smith\nDOB: 05/03/1999", "John Andrew Smith", "John Andrew Smith", true},
		{"label on next line", "Name\nRavi Kumar", "Ravi Kumar", "Ravi Kumar", true},
		{"salutation", "To\nRavi Kumar\nS/O Mohan", "Ravi Kumar", "Ravi Kumar", true},
		{"honorific", "Shri Ravi Kumar", "Ravi Kumar", "Ravi Kumar", true},
		{"title cased line", "Government Of India\nRavi Kumar\n", "Ravi Kumar", "Ravi Kumar", true},
		{"ocr noise in label", "Name: Jon Smith", "John Smith", "Jon Smith", true},
		{"fallback line scan", "GOVT OF INDIA\nRAVI KUMARR\n2345 6789 0123", "Ravi Kumar", "RAVI KUMARR", true},
		{"digits rejected", "Name: J0hn 5mith", "John Smith", "", false},
		{"unrelated", "Name: Mary Jones", "John Smith", "", false},
		{"no text", "", "John Smith", "", false},
		{"empty claim", "Name: John Smith", "  ", "", false},
	}

	e := New(DefaultNameOptions())
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := e.Name(tc.text, tc.claimed)
			assert.Equal(t, tc.found, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestName_RejectsOverlongCandidate(t *testing.T) {
	long := "John Smith " + strings.Repeat("Abc ", 10)
	got, ok := New(DefaultNameOptions()).Name("Name: "+long, "John Smith")
	// The label candidate is too long; the fallback scan also skips the line.
	assert.False(t, ok)
	assert.Empty(t, got)
}

func TestName_FirstCandidateWinsTies(t *testing.T) {
	got, ok := New(DefaultNameOptions()).Name("Name: John Smith\nMr. JOHN SMITH", "John Smith")
	assert.True(t, ok)
	assert.Equal(t, "John Smith", got)
}

func TestName_FirstNameFilter(t *testing.T) {
	// The candidate's first token shares nothing with the claim and the claim's
	// first name is not contained, so the label match is discarded.
	got, ok := New(DefaultNameOptions()).Name("Name: Xavier\n", "Smith")
	assert.False(t, ok)
	assert.Empty(t, got)
}

func TestName_ConfigurableThreshold(t *testing.T) {
	strict := New(NameOptions{AcceptThreshold: 96, FirstNameThreshold: 60, MaxLength: 40})
	_, ok := strict.Name("Name: Jon Smith", "John Smith")
	assert.False(t, ok)
}
