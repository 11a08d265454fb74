package patients

import (
	"errors"
	"fmt"
)

var (
	// ErrPatientNotFound is returned when no patient matches the lookup.
	ErrPatientNotFound = errors.New("patient not found")

	// ErrInvalidPhone is returned when a phone fails normalization.
	ErrInvalidPhone = errors.New("invalid phone number")
)

// ValidatePhone checks that a phone is a bare national or international
// number: digits only, 10 to 15 of them.
func ValidatePhone(phone string) error {
	if n := len(phone); n < 10 || n > 15 {
		return fmt.Errorf("%w: %q", ErrInvalidPhone, phone)
	}
	for _, r := range phone {
		if r < '0' || r > '9' {
			return fmt.Errorf("%w: %q", ErrInvalidPhone, phone)
		}
	}
	return nil
}
