package payment_test

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/edufund-checkout/internal/payment"
)

func TestParseMinorAmount(t *testing.T) {
	ok := map[string]int64{"1999": 1999, "1": 1, " 5000 ": 5000}
	for raw, want := range ok {
		got, err := payment.ParseMinorAmount(json.RawMessage(raw))
		require.NoError(t, err, raw)
		require.Equal(t, want, got)
	}

	for _, raw := range []string{"19.99", "1e3", `"100"`, "null", "0", "-5", "", "abc", "100.0"} {
		_, err := payment.ParseMinorAmount(json.RawMessage(raw))
		require.ErrorIs(t, err, payment.ErrAmountNotMinorUnits, raw)
	}
}

func TestMinorToMajor(t *testing.T) {
	cases := map[int64]string{
		100:    "1.00",
		250:    "2.50",
		100000: "1000.00",
		1999:   "19.99",
		5:      "0.05",
	}
	for minor, want := range cases {
		require.Equal(t, want, payment.MinorToMajor(minor))
	}
}

func TestComputeTotal(t *testing.T) {
	q := payment.ComputeTotal(decimal.NewFromInt(100), true)
	require.Equal(t, "3.20", q.Fee.StringFixed(2))
	require.Equal(t, "103.20", q.Total.StringFixed(2))
	require.EqualValues(t, 10320, payment.ToMinorUnits(q.Total))

	q = payment.ComputeTotal(decimal.NewFromInt(100), false)
	require.Equal(t, "3.20", q.Fee.StringFixed(2))
	require.Equal(t, "100.00", q.Total.StringFixed(2))
}

func TestComputeTotalRoundsOnlyAtBoundary(t *testing.T) {
	q := payment.ComputeTotal(decimal.RequireFromString("19.99"), true)
	// 19.99 * 0.029 = 0.57971
	require.True(t, q.Fee.Equal(decimal.RequireFromString("0.87971")))
	require.EqualValues(t, 2087, payment.ToMinorUnits(q.Total))
}
