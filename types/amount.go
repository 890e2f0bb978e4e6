// Package types provides value types shared across warrant.
package types

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Amount is a price or balance in hundredths of the economy's currency unit.
// All arithmetic is integer-only.
//
// Examples:
//   - Amount(1000) = 10.00
//   - Amount(250)  = 2.50
type Amount int64

// Units creates an Amount from whole currency units.
func Units(n int64) Amount { return Amount(n * 100) }

// FromFloat converts a floating point value, rounding to the nearest hundredth.
func FromFloat(f float64) Amount { return Amount(math.Round(f * 100)) }

// ParseAmount parses a decimal string with at most two fractional digits,
// e.g. "10", "10.5", "10.50".
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("amount: parse %q: empty string", s)
	}

	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	whole, frac, hasFrac := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	major, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("amount: parse %q: %w", s, err)
	}

	var minor int64
	if hasFrac {
		if len(frac) == 0 || len(frac) > 2 {
			return 0, fmt.Errorf("amount: parse %q: expected 1 or 2 fractional digits", s)
		}
		if len(frac) == 1 {
			frac += "0"
		}
		minor, err = strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("amount: parse %q: %w", s, err)
		}
	}

	a := Amount(major*100 + minor)
	if neg {
		a = -a
	}
	return a, nil
}

// Add returns a + other.
func (a Amount) Add(other Amount) Amount { return a + other }

// Sub returns a - other.
func (a Amount) Sub(other Amount) Amount { return a - other }

// IsZero returns true if the amount is zero.
func (a Amount) IsZero() bool { return a == 0 }

// IsNegative returns true if the amount is less than zero.
func (a Amount) IsNegative() bool { return a < 0 }

// Float64 returns the amount in whole units.
func (a Amount) Float64() float64 { return float64(a) / 100 }

// String formats the amount with two fractional digits: "10.50".
func (a Amount) String() string {
	sign := ""
	v := int64(a)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// MarshalText implements encoding.TextMarshaler.
func (a Amount) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Amount) UnmarshalText(data []byte) error {
	parsed, err := ParseAmount(string(data))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// UnmarshalYAML accepts both numeric (`price: 10.5`) and quoted
// (`price: "10.50"`) scalars.
func (a *Amount) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("amount: line %d: expected a scalar", value.Line)
	}
	return a.UnmarshalText([]byte(value.Value))
}
