package position

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/polybot/internal/money"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestReplaceSnapshotPreservesLocked(t *testing.T) {
	m := New()
	inst := money.Instrument{Exchange: "binance", Symbol: "BTCUSDT"}
	m.OnOrderUpdate("acct", money.UpdateOrder{
		Instrument: inst, Effect: money.EffectOpen, Status: money.StatusOpen, Size: d("1"),
	}, decimal.Zero)

	m.ReplaceSnapshot("acct", inst, d("10"), money.Now())
	book, ok := m.Get("acct", inst)
	require.True(t, ok)
	assert.True(t, book.Total.Equal(d("10")))
	assert.True(t, book.Locked.Equal(d("1")))
	assert.True(t, book.Available.Equal(d("9")))
}

func TestPlacingReservesAndFillReleasesIntoTotal(t *testing.T) {
	m := New()
	inst := money.Instrument{Exchange: "binance", Symbol: "ETHUSDT"}
	m.ReplaceSnapshot("acct", inst, d("0"), money.Now())

	m.OnOrderUpdate("acct", money.UpdateOrder{
		Instrument: inst, Effect: money.EffectOpen, Status: money.StatusOpen, Size: d("5"),
	}, decimal.Zero)
	book, _ := m.Get("acct", inst)
	assert.True(t, book.Locked.Equal(d("5")))

	m.OnOrderUpdate("acct", money.UpdateOrder{
		Instrument: inst, Effect: money.EffectOpen, Status: money.StatusFilled,
		Size: d("5"), FilledSize: d("5"),
	}, d("5"))
	book, _ = m.Get("acct", inst)
	assert.True(t, book.Locked.IsZero())
	assert.True(t, book.Total.Equal(d("5")))
}

func TestCancelReleasesRemainderBackToAvailable(t *testing.T) {
	m := New()
	inst := money.Instrument{Exchange: "binance", Symbol: "SOLUSDT"}
	m.ReplaceSnapshot("acct", inst, d("20"), money.Now())
	m.OnOrderUpdate("acct", money.UpdateOrder{
		Instrument: inst, Effect: money.EffectOpen, Status: money.StatusOpen, Size: d("8"),
	}, decimal.Zero)

	m.OnOrderUpdate("acct", money.UpdateOrder{
		Instrument: inst, Effect: money.EffectOpen, Status: money.StatusCancelled,
		Size: d("8"), FilledSize: d("3"),
	}, decimal.Zero)

	book, _ := m.Get("acct", inst)
	// only the unfilled remainder (8-3=5) is released; the 3 already
	// walked through a fill event in a realistic sequence, not exercised
	// here since this test drives Cancelled directly from Open.
	assert.True(t, book.Locked.Equal(d("3")))
	assert.True(t, book.Available.Equal(d("17")))
}
