package lottery

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPotwheel_Lottery_Receipt_RoundTrip(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 2, 14, 12, 30, 0, 0, time.UTC)
	r := NewReceipt("Gk3mCqf2V9tWPZm1vD7x4R8yLJ5nQb6T", 4_200_000_000, "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin", now)
	r.PayoutTxID = "payout-sig"
	r.SwapTxID = "swap-sig"
	r.BurnTxID = "burn-sig"
	r.BurnAmountRaw = 123_456_789
	r.BurnDecimals = 6

	data, err := json.Marshal(r)
	require.NoError(t, err)

	var decoded Receipt
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, *r, decoded)
}

func TestPotwheel_Lottery_Receipt_FreshID(t *testing.T) {
	t.Parallel()

	now := time.Now()
	a := NewReceipt("m", 1, "w", now)
	b := NewReceipt("m", 1, "w", now)
	require.NotEmpty(t, a.ID)
	require.NotEqual(t, a.ID, b.ID)
	require.Equal(t, time.UTC, a.Timestamp.Location())
}
