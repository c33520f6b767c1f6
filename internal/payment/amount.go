package payment

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrAmountNotMinorUnits is returned for fractional, non-numeric or
// non-positive amounts.
var ErrAmountNotMinorUnits = errors.New("amount must be an integer in the smallest currency unit")

var (
	feeRate  = decimal.RequireFromString("0.029")
	feeFixed = decimal.RequireFromString("0.30")
	hundred  = decimal.NewFromInt(100)
)

// PresetAmounts are the suggested donation amounts in major units.
var PresetAmounts = []int64{25, 50, 100, 250, 500}

// Quote is a fee breakdown in major units.
type Quote struct {
	Base  decimal.Decimal
	Fee   decimal.Decimal
	Total decimal.Decimal
}

// ComputeTotal applies the processing fee (2.9% + 0.30). Total includes the
// fee only when the donor chose to cover it. Values are not rounded.
func ComputeTotal(base decimal.Decimal, coverFees bool) Quote {
	fee := base.Mul(feeRate).Add(feeFixed)
	total := base
	if coverFees {
		total = base.Add(fee)
	}
	return Quote{Base: base, Fee: fee, Total: total}
}

// ToMinorUnits rounds a major unit amount to cents.
func ToMinorUnits(major decimal.Decimal) int64 {
	return major.Mul(hundred).Round(0).IntPart()
}

// MinorToMajor renders minor units as a major unit string with exactly two
// fraction digits, e.g. 1999 -> "19.99".
func MinorToMajor(minor int64) string {
	return decimal.New(minor, -2).StringFixed(2)
}

// ParseMinorAmount validates a raw JSON value as a positive integer amount.
// 19.99, 1e3, "100", null and 0 are all rejected.
func ParseMinorAmount(raw json.RawMessage) (int64, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || strings.ContainsAny(s, ".eE\"") {
		return 0, ErrAmountNotMinorUnits
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, ErrAmountNotMinorUnits
	}
	return n, nil
}
