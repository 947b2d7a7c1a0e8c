// Package ingest turns raw spreadsheet rows into per-phone customer aggregates.
package ingest

import (
	"strings"

	"github.com/rotisserie/eris"
)

// CountryCode is prefixed to phones that carry an area code but no country code.
const CountryCode = "55"

// canonicalLen is country code + area code + 9-digit subscriber number.
const canonicalLen = 13

// ErrInvalidPhone is returned when a phone cannot be canonicalised.
var ErrInvalidPhone = eris.New("ingest: invalid phone")

// NormalizePhone strips every non-digit from raw and returns the canonical
// 13-digit form. Numbers without an area code are rejected because the area
// code cannot be inferred.
func NormalizePhone(raw string) (string, error) {
	digits := digitsOnly(raw)

	switch len(digits) {
	case canonicalLen:
		if strings.HasPrefix(digits, CountryCode) {
			return digits, nil
		}
	case 10, 11:
		return CountryCode + digits, nil
	}
	return "", eris.Wrapf(ErrInvalidPhone, "%q has %d digits", raw, len(digits))
}

func digitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
