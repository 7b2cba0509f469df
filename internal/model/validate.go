package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Accepted endsAt layouts, most specific first.
var endsAtLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04",
	"2006-01-02",
}

// NameKey returns the identity form of a display name: trimmed, lower-cased.
func NameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// ParsePosition accepts "yes" / "no" in any case.
func ParsePosition(s string) (Position, error) {
	switch Position(strings.ToLower(strings.TrimSpace(s))) {
	case Yes:
		return Yes, nil
	case No:
		return No, nil
	}
	return "", fmt.Errorf("%w: position must be yes or no, got %q", ErrValidation, s)
}

// ParseEndsAt parses a market end time. Past dates are accepted:
// markets are resolved manually and end times are not enforced.
func ParseEndsAt(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: endsAt is required", ErrValidation)
	}
	for _, layout := range endsAtLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: endsAt %q is not a valid timestamp", ErrValidation, s)
}

// RequireNonEmpty fails with ErrValidation naming the first blank field.
// Fields are passed as name/value pairs.
func RequireNonEmpty(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			return fmt.Errorf("%w: %s is required", ErrValidation, pairs[i])
		}
	}
	return nil
}

// RequirePositive fails with ErrInvalidAmount when amount <= 0.
func RequirePositive(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w (got %s)", ErrInvalidAmount, amount)
	}
	return nil
}
