package verify

import (
	"time"

	"github.com/MeKo-Tech/idcheck/internal/dates"
)

// Age returns the calendar age on now of someone born on dob.
func Age(dob, now time.Time) int {
	age := now.Year() - dob.Year()
	if now.Month() < dob.Month() || (now.Month() == dob.Month() && now.Day() < dob.Day()) {
		age--
	}
	return age
}

// AgeFrom parses a date of birth day-first and returns the age on now. An
// empty or unparsable date yields false.
func AgeFrom(dob string, now time.Time) (int, bool) {
	if dob == "" {
		return 0, false
	}
	t, err := dates.Parse(dob, true)
	if err != nil {
		return 0, false
	}
	return Age(t, now), true
}

// IsTeen reports whether age lies in [13, 20).
func IsTeen(age int) bool {
	return age >= 13 && age < 20
}
