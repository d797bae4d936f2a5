package balance

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/web3guy0/polybot/internal/money"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// Scenario 3 (spec §8): insufficient balance makes Deduct a no-op and the
// router synthesizes a Reject instead of dispatching.
func TestDeductFailsWhenInsufficient(t *testing.T) {
	m := New()
	m.Snapshot("binance", d("100"))

	ok := m.Deduct("binance", d("50"))
	assert.True(t, ok)

	ok = m.Deduct("binance", d("60"))
	assert.False(t, ok)

	b := m.Get("binance")
	assert.True(t, b.Reserved.Equal(d("50")))
	assert.True(t, b.Free.Equal(d("50")))
}

func TestAddReleasesOnCancelKeepsReservedNonNegative(t *testing.T) {
	m := New()
	m.Snapshot("binance", d("100"))
	m.Deduct("binance", d("40")) // size*price == 40 reserved for this test's order

	m.Add("binance", money.UpdateOrder{
		Status: money.StatusCancelled, Size: d("4"), Price: d("10"), FilledSize: d("0"),
	})

	b := m.Get("binance")
	assert.True(t, b.Reserved.Equal(d("0")))
	assert.True(t, b.Free.Equal(d("100")))
}

func TestPartialFillKeepsRemainderReserved(t *testing.T) {
	m := New()
	m.Snapshot("binance", d("100"))
	m.Deduct("binance", d("40"))

	m.Add("binance", money.UpdateOrder{
		Status: money.StatusPartiallyFilled, Size: d("4"), Price: d("10"), FilledSize: d("2"),
	})

	b := m.Get("binance")
	assert.True(t, b.Reserved.Equal(d("40")))
}

func TestFullFillReleasesReservationWithoutReturningToFree(t *testing.T) {
	m := New()
	m.Snapshot("binance", d("100"))
	m.Deduct("binance", d("40"))

	m.Add("binance", money.UpdateOrder{
		Status: money.StatusFilled, Size: d("4"), Price: d("10"), FilledSize: d("4"),
	})

	b := m.Get("binance")
	assert.True(t, b.Reserved.Equal(d("0")))
	// the filled cost does not come back to Free — it moved to position accounting.
	assert.True(t, b.Free.Equal(d("60")))
}

func TestSnapshotClampsFreeWhenBelowReserved(t *testing.T) {
	m := New()
	m.Snapshot("binance", d("100"))
	m.Deduct("binance", d("90"))

	m.Snapshot("binance", d("50"))
	b := m.Get("binance")
	assert.True(t, b.Free.Equal(d("0")))
}
