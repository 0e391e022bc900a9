package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/MeKo-Tech/idcheck/internal/dates"
	"github.com/MeKo-Tech/idcheck/internal/extract"
	"github.com/MeKo-Tech/idcheck/internal/verify"
)

// InputError is a malformed or missing claimed field.
type InputError struct {
	Field  string
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ValidateClaim checks the claimed identity before any image work is done.
// All problems are reported, joined.
func ValidateClaim(c verify.Claim) error {
	var errs []error
	if strings.TrimSpace(c.Name) == "" {
		errs = append(errs, &InputError{Field: "name", Reason: "is required"})
	}

	switch dob := strings.TrimSpace(c.DOB); {
	case dob == "":
		errs = append(errs, &InputError{Field: "dob", Reason: "is required"})
	default:
		if _, err := dates.Parse(dob, true); err != nil {
			errs = append(errs, &InputError{Field: "dob", Reason: fmt.Sprintf("cannot parse %q as a date", dob)})
		}
	}

	switch id := extract.NormalizeID(c.IDNumber); {
	case id == "":
		errs = append(errs, &InputError{Field: "id_number", Reason: "is required"})
	case len(id) != 12 || strings.Trim(id, "0123456789") != "":
		errs = append(errs, &InputError{Field: "id_number", Reason: "must be 12 digits"})
	}
	return errors.Join(errs...)
}

// claimJSON accepts the legacy "aadhaar" key for the ID number.
type claimJSON struct {
	Name     string `json:"name"`
	DOB      string `json:"dob"`
	IDNumber string `json:"id_number"`
	Aadhaar  string `json:"aadhaar"`
}

// DecodeClaim reads a claimed identity from JSON.
func DecodeClaim(r io.Reader) (verify.Claim, error) {
	var raw claimJSON
	dec := json.NewDecoder(r)
	if err := dec.Decode(&raw); err != nil {
		return verify.Claim{}, fmt.Errorf("decode claim: %w", err)
	}
	id := raw.IDNumber
	if id == "" {
		id = raw.Aadhaar
	}
	return verify.Claim{Name: raw.Name, DOB: raw.DOB, IDNumber: id}, nil
}

// LoadClaim reads a claimed identity from a JSON file.
func LoadClaim(path string) (verify.Claim, error) {
	f, err := os.Open(path)
	if err != nil {
		return verify.Claim{}, fmt.Errorf("open claim file: %w", err)
	}
	defer func() { _ = f.Close() }()
	return DecodeClaim(f)
}
