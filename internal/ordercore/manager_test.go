package ordercore

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/polybot/internal/money"
)

func newTestManager() *Manager {
	return NewManager(NewTable(), nil)
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Scenario 1 (spec §8): two updates for the same fully-filled order produce
// exactly one canonical emission.
func TestTwoUpdateMergeFillsMonotonic(t *testing.T) {
	m := newTestManager()

	u1 := money.UpdateOrder{
		ClientID:  "A",
		Size:      dec("4"),
		FilledSize: dec("4"),
		Status:    money.StatusFilled,
		Price:     dec("3.8346"),
		UpdateTST: 941000,
	}
	out1 := m.Apply(u1)
	require.NotNil(t, out1)
	assert.Equal(t, money.StatusFilled, out1.Status)

	u2 := money.UpdateOrder{
		ClientID:        "A",
		Size:            dec("4"),
		FilledSize:      dec("4"),
		Status:          money.StatusFilled,
		LastFilledPrice: dec("3.8346"),
		UpdateTST:       73000000,
	}
	out2 := m.Apply(u2)
	// The row is already Filled, so the absorbing-terminal check (step 6,
	// run before status progression) drops u2.
	assert.Nil(t, out2)

	row := m.Table().FindByCloid("A")
	require.NotNil(t, row)
	assert.True(t, row.FilledSize.Equal(dec("4")))
	assert.Equal(t, money.StatusFilled, row.Status)
}

// Scenario 2 (spec §8): Open -> Filled promotes status and retains the
// Open effect carried on the first update.
func TestOpenToFilledPromotesStatusRetainsEffect(t *testing.T) {
	m := newTestManager()

	u1 := money.UpdateOrder{
		ClientID: "B",
		Size:     dec("4"),
		Price:    dec("3"),
		Status:   money.StatusSent,
		Effect:   money.EffectOpen,
	}
	out1 := m.Apply(u1)
	require.NotNil(t, out1)

	u2 := money.UpdateOrder{
		ClientID:           "B",
		Size:               dec("4"),
		Price:              dec("3"),
		FilledSize:         dec("4"),
		AverageFilledPrice: dec("3"),
		Status:             money.StatusFilled,
		Effect:             money.EffectUnknown,
	}
	out2 := m.Apply(u2)
	require.NotNil(t, out2)
	assert.Equal(t, money.StatusFilled, out2.Status)
	assert.Equal(t, money.EffectOpen, out2.Effect)
}

func TestStaleUpdateDropped(t *testing.T) {
	m := newTestManager()
	m.Apply(money.UpdateOrder{ClientID: "C", Status: money.StatusOpen, UpdateTST: 100})
	out := m.Apply(money.UpdateOrder{ClientID: "C", Status: money.StatusPartiallyFilled, UpdateTST: 50})
	assert.Nil(t, out)
}

func TestFillRegressionDropped(t *testing.T) {
	m := newTestManager()
	m.Apply(money.UpdateOrder{ClientID: "D", Size: dec("10"), FilledSize: dec("5"), Status: money.StatusPartiallyFilled, UpdateTST: 1})
	out := m.Apply(money.UpdateOrder{ClientID: "D", Size: dec("10"), FilledSize: dec("2"), Status: money.StatusPartiallyFilled, UpdateTST: 2})
	assert.Nil(t, out)
}

func TestPartiallyFilledReentryFromCancelPending(t *testing.T) {
	m := newTestManager()
	m.Apply(money.UpdateOrder{ClientID: "E", Size: dec("10"), FilledSize: dec("3"), Status: money.StatusPartiallyFilled, UpdateTST: 1})
	m.Apply(money.UpdateOrder{ClientID: "E", Status: money.StatusCancelPending, UpdateTST: 2})

	out := m.Apply(money.UpdateOrder{ClientID: "E", Size: dec("10"), FilledSize: dec("5"), Status: money.StatusPartiallyFilled, UpdateTST: 3})
	require.NotNil(t, out)
	// canonical status does not regress below CancelPending
	assert.Equal(t, money.StatusCancelPending, out.Status)
	assert.True(t, out.FilledSize.Equal(dec("5")))
}

func TestTerminalStatusIsAbsorbing(t *testing.T) {
	m := newTestManager()
	m.Apply(money.UpdateOrder{ClientID: "F", Status: money.StatusFilled, Size: dec("1"), FilledSize: dec("1"), UpdateTST: 1})
	out := m.Apply(money.UpdateOrder{ClientID: "F", Status: money.StatusOpen, UpdateTST: 2})
	assert.Nil(t, out)
}

// Boundary: a Cancel arriving before Open is not lost — row is inserted
// directly in CancelPending.
func TestCancelBeforeOpenInsertsDirectly(t *testing.T) {
	m := newTestManager()
	out := m.Apply(money.UpdateOrder{ClientID: "G", Status: money.StatusCancelPending, UpdateTST: 1})
	require.NotNil(t, out)
	assert.Equal(t, money.StatusCancelPending, out.Status)
}

// Boundary: first observed update with an empty local id gets one assigned.
func TestEmptyLocalIDIsSynthesized(t *testing.T) {
	m := newTestManager()
	out := m.Apply(money.UpdateOrder{ClientID: "H", Status: money.StatusSent, UpdateTST: 1})
	require.NotNil(t, out)
	assert.NotEmpty(t, out.LocalID)
}

func TestIdempotentReplay(t *testing.T) {
	m := newTestManager()
	u := money.UpdateOrder{ClientID: "I", Size: dec("1"), FilledSize: dec("1"), Status: money.StatusFilled, UpdateTST: 5}
	out1 := m.Apply(u)
	out2 := m.Apply(u)
	require.NotNil(t, out1)
	assert.Nil(t, out2)
}

func TestSoftCleanupExpiresStuckNewOrder(t *testing.T) {
	m := newTestManager()
	m.Apply(money.UpdateOrder{ClientID: "J", Status: money.StatusPending, UpdateLT: 0, UpdateTST: 1})

	synthetic := m.SoftCleanup(money.Time(int64(2) * int64(3600) * int64(1_000_000_000)))
	require.Len(t, synthetic, 1)
	assert.Equal(t, money.StatusExpired, synthetic[0].Status)

	out := m.Apply(synthetic[0])
	require.NotNil(t, out)
	assert.Equal(t, money.StatusExpired, out.Status)
}
