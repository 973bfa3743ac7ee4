package ir

import (
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/apd/v3"

	"github.com/roach88/allotment/internal/fault"
)

// DefaultDecimals is the number of fractional digits of a whole token.
const DefaultDecimals = 18

// ParseAmount converts a decimal token quantity ("777777", "0.5") into base
// units using the given number of decimals. Negative values, non-finite values
// and values with more fractional digits than decimals are rejected.
func ParseAmount(s string, decimals int) (*big.Int, error) {
	d, _, err := apd.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nil, fault.InvalidArgument("invalid amount %q", s)
	}
	if d.Form != apd.Finite {
		return nil, fault.InvalidArgument("amount %q is not finite", s)
	}
	if d.Negative && !d.IsZero() {
		return nil, fault.InvalidArgument("amount %q is negative", s)
	}

	var reduced apd.Decimal
	reduced.Reduce(d)
	exp := int64(reduced.Exponent) + int64(decimals)
	if exp < 0 {
		return nil, fault.InvalidArgument("amount %q has more than %d decimal places", s, decimals)
	}

	coeff := reduced.Coeff.MathBigInt()
	if exp > 0 {
		scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(exp), nil)
		coeff.Mul(coeff, scale)
	}
	return coeff.Abs(coeff), nil
}

// ParseBaseUnits parses an integer amount already expressed in base units.
func ParseBaseUnits(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok {
		return nil, fault.InvalidArgument("invalid base-unit amount %q", s)
	}
	if v.Sign() < 0 {
		return nil, fault.InvalidArgument("amount %q is negative", s)
	}
	return v, nil
}

// FormatAmount renders base units as a decimal token quantity without
// trailing zeros ("777777", "0.5").
func FormatAmount(v *big.Int, decimals int) string {
	if v == nil {
		return "0"
	}
	d := apd.NewWithBigInt(new(apd.BigInt).SetMathBigInt(v), -int32(decimals))
	var reduced apd.Decimal
	reduced.Reduce(d)
	return reduced.Text('f')
}

// ParseTime accepts unix seconds ("1604534400") or an RFC 3339 timestamp
// ("2020-11-05T00:00:00Z") and returns unix seconds.
func ParseTime(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fault.InvalidArgument("time must not be empty")
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, fault.InvalidArgument("invalid time %q: expected unix seconds or RFC 3339", s)
	}
	return t.Unix(), nil
}

// FormatTime renders unix seconds as an RFC 3339 UTC timestamp.
func FormatTime(unix int64) string {
	return time.Unix(unix, 0).UTC().Format(time.RFC3339)
}
