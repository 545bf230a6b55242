package domain

import (
	"regexp"
	"strconv"
	"strings"
)

// OBD-II trouble code: one of P/C/B/U followed by four hex digits.
// Input is case-insensitive; codes are stored uppercase.
var obdRegex = regexp.MustCompile(`^(?i)[PCBU][0-9A-F]{4}$`)

// MinModelYear is the earliest model year we accept.
const MinModelYear = 1990

// MaxModelYear is the latest year we accept (generous headroom for
// next-year models).
const MaxModelYear = 2039

// ValidateOBDCode checks a raw trouble code and returns its canonical
// uppercase form.
func ValidateOBDCode(code string) (string, error) {
	code = strings.TrimSpace(code)
	if !obdRegex.MatchString(code) {
		return "", NewValidationError("obdCode", code, ErrInvalidOBDCode)
	}
	return strings.ToUpper(code), nil
}

// ValidateYear checks a model year against the accepted range.
func ValidateYear(year int) error {
	if year < MinModelYear || year > MaxModelYear {
		return NewValidationError("year", strconv.Itoa(year), ErrYearOutOfRange)
	}
	return nil
}
