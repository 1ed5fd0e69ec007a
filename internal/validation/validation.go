// Package validation checks city registration input at the transport boundary.
package validation

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// MaxCityNameLen is the longest accepted city name, in runes.
const MaxCityNameLen = 100

var (
	// ErrCityNameEmpty is returned when the name is empty or whitespace-only.
	ErrCityNameEmpty = errors.New("city name is required")

	// ErrCityNameTooLong is returned when the name exceeds MaxCityNameLen runes.
	ErrCityNameTooLong = errors.New("city name too long")

	// ErrCityNamePadded is returned when the name has leading or trailing whitespace.
	// Names are exact identities, so they are rejected rather than trimmed.
	ErrCityNamePadded = errors.New("city name has leading or trailing whitespace")

	// ErrCityNameInvalidChars is returned when the name contains disallowed characters.
	ErrCityNameInvalidChars = errors.New("city name contains invalid characters")

	// ErrInvalidCoordinate is returned when a latitude or longitude is not a finite number.
	ErrInvalidCoordinate = errors.New("coordinate must be a finite number")
)

// ValidateCityName accepts letters (Unicode), digits, space, and - ' . ,
// up to MaxCityNameLen runes.
func ValidateCityName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return ErrCityNameEmpty
	}
	if trimmed != name {
		return ErrCityNamePadded
	}
	r := []rune(name)
	if len(r) > MaxCityNameLen {
		return ErrCityNameTooLong
	}
	for _, c := range r {
		if !isAllowedNameRune(c) {
			return ErrCityNameInvalidChars
		}
	}
	return nil
}

func isAllowedNameRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) {
		return true
	}
	switch r {
	case ' ', ',', '-', '\'', '.':
		return true
	}
	return false
}

// ParseCoordinate parses a decimal degree value. Range is not checked; the
// provider decides what it accepts.
func ParseCoordinate(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, ErrInvalidCoordinate
	}
	return v, nil
}
