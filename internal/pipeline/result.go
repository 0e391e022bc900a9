package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/MeKo-Tech/idcheck/internal/classifier"
	"github.com/MeKo-Tech/idcheck/internal/extract"
	"github.com/MeKo-Tech/idcheck/internal/verify"
)

// Result is the outcome of one verification. On failure only Error,
// RequestID and DurationMS are set; match data is absent.
type Result struct {
	RequestID string `json:"request_id"`
	Success   bool   `json:"success"`
	*verify.Report
	Extracted        *extract.Fields   `json:"extracted,omitempty"`
	DebugText        string            `json:"debug_text,omitempty"`
	ImageRecognition *ImageRecognition `json:"image_recognition,omitempty"`
	Error            string            `json:"error,omitempty"`
	DurationMS       int64             `json:"duration_ms"`

	// Variants lists the variants that were recognised, in order.
	Variants []string `json:"-"`
	// Err keeps the underlying failure for callers that classify errors.
	Err error `json:"-"`
}

// ImageRecognition is the advisory classifier output, or its failure.
type ImageRecognition struct {
	*classifier.Result
	Error string `json:"error,omitempty"`
}

// IsInputError reports whether the result failed claim validation.
func (r *Result) IsInputError() bool {
	var ie *InputError
	return r != nil && errors.As(r.Err, &ie)
}

// Verified reports whether every field matched.
func (r *Result) Verified() bool {
	return r != nil && r.Success && r.Report != nil && r.AllMatch
}

// ToJSON serializes r to indented JSON.
func ToJSON(r *Result) (string, error) {
	if r == nil {
		return "", errors.New("nil result")
	}
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// WriteText prints r in a human-readable layout.
func WriteText(w io.Writer, r *Result) error {
	if r == nil {
		return errors.New("nil result")
	}
	var sb strings.Builder
	if !r.Success {
		fmt.Fprintf(&sb, "Verification failed: %s\n", r.Error)
		_, err := io.WriteString(w, sb.String())
		return err
	}

	verdict := "MISMATCH"
	if r.AllMatch {
		verdict = "VERIFIED"
	}
	fmt.Fprintf(&sb, "Result: %s\n", verdict)
	fmt.Fprintf(&sb, "  Name match: %s\n", mark(r.NameMatch))
	fmt.Fprintf(&sb, "  DOB match:  %s\n", mark(r.DOBMatch))
	fmt.Fprintf(&sb, "  ID match:   %s\n", mark(r.IDMatch))
	if r.Age != nil {
		fmt.Fprintf(&sb, "  Age: %d (teen: %t)\n", *r.Age, r.IsTeen)
	}
	if r.Extracted != nil {
		sb.WriteString("Extracted:\n")
		fmt.Fprintf(&sb, "  Name: %s\n", orDash(r.Extracted.Name))
		fmt.Fprintf(&sb, "  DOB:  %s\n", orDash(r.Extracted.DOB))
		fmt.Fprintf(&sb, "  ID:   %s\n", orDash(r.Extracted.IDNumber))
	}
	if ir := r.ImageRecognition; ir != nil {
		if ir.Error != "" {
			fmt.Fprintf(&sb, "Image recognition error: %s\n", ir.Error)
		} else if ir.Result != nil {
			fmt.Fprintf(&sb, "Image recognition: %s (%.2f, %s)\n", ir.Label, ir.Confidence, ir.Method)
		}
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

func mark(ok bool) string {
	if ok {
		return "yes"
	}
	return "no"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
