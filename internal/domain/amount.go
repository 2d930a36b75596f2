package domain

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// AmountScale is the number of minor units in one token.
const AmountScale = 100_000_000

const amountExp = -8

// Amount is a token quantity in fixed-point minor units (10^-8 token).
// It is never represented as binary floating point.
type Amount int64

// Tokens returns an Amount for a whole number of tokens.
func Tokens(n int64) Amount {
	return Amount(n * AmountScale)
}

// ParseAmount parses a decimal string such as "15" or "0.25".
// More than eight fractional digits is an error rather than a rounding.
func ParseAmount(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid amount %q", ErrValidation, s)
	}
	return amountFromDecimal(d)
}

func amountFromDecimal(d decimal.Decimal) (Amount, error) {
	scaled := d.Shift(-amountExp)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("%w: amount %s has more than 8 decimal places", ErrValidation, d)
	}
	if !scaled.BigInt().IsInt64() {
		return 0, fmt.Errorf("%w: amount %s out of range", ErrValidation, d)
	}
	return Amount(scaled.IntPart()), nil
}

// Decimal returns the amount as a decimal token value.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(int64(a), amountExp)
}

// String formats the amount without trailing zeros ("15", "0.5").
func (a Amount) String() string {
	return a.Decimal().String()
}

// Fixed formats the amount with exactly two decimals for display.
func (a Amount) Fixed() string {
	return a.Decimal().StringFixed(2)
}

// IsPositive reports whether the amount is strictly greater than zero.
func (a Amount) IsPositive() bool { return a > 0 }

// MarshalJSON encodes the amount as a quoted decimal string.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts a quoted decimal string or a bare JSON number.
func (a *Amount) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*a = 0
		return nil
	}
	var s string
	if len(b) > 0 && b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
	} else {
		s = string(b)
	}
	v, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*a = v
	return nil
}
