package batch

import (
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/polybot/internal/money"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type recordingDispatcher struct {
	mu      sync.Mutex
	placed  []money.RequestPlaceOrder
	canceled []money.RequestCancelOrder
}

func (r *recordingDispatcher) DispatchPlace(req money.RequestPlaceOrder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.placed = append(r.placed, req)
}

func (r *recordingDispatcher) DispatchCancel(req money.RequestCancelOrder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.canceled = append(r.canceled, req)
}

func inst(sym string) money.Instrument { return money.Instrument{Exchange: "binance", Symbol: sym} }

func TestConcurrentPlacementPlacesAllLegsImmediately(t *testing.T) {
	disp := &recordingDispatcher{}
	m := New(disp)

	m.Start(money.PlaceBatchOrders{
		Legs: []money.RequestPlaceOrder{
			{Instrument: inst("BTCUSDT"), Side: money.SideBuy, Size: d("1")},
			{Instrument: inst("ETHUSDT"), Side: money.SideSell, Size: d("1")},
		},
		Policy: money.BatchPolicy{PlaceType: money.PlaceConcurrent},
	})

	assert.Len(t, disp.placed, 2)
}

func TestSequentialPlacementOnlyPlacesFirstLeg(t *testing.T) {
	disp := &recordingDispatcher{}
	m := New(disp)

	m.Start(money.PlaceBatchOrders{
		Legs: []money.RequestPlaceOrder{
			{Instrument: inst("BTCUSDT"), Side: money.SideBuy, Size: d("2")},
			{Instrument: inst("ETHUSDT"), Side: money.SideSell, Size: d("2")},
		},
		Policy: money.BatchPolicy{PlaceType: money.PlaceSequential},
	})

	require.Len(t, disp.placed, 1)
	assert.Equal(t, "BTCUSDT", disp.placed[0].Instrument.Symbol)
}

// A fill on leg 1 splits the corresponding portion onto leg 2, bounded by
// leg 2's remaining capacity (I7: never exceeding original size).
func TestSequentialFillSplitsOntoNextLeg(t *testing.T) {
	disp := &recordingDispatcher{}
	m := New(disp)

	batchID := m.Start(money.PlaceBatchOrders{
		Legs: []money.RequestPlaceOrder{
			{Instrument: inst("BTCUSDT"), Side: money.SideBuy, Size: d("2")},
			{Instrument: inst("ETHUSDT"), Side: money.SideSell, Size: d("2")},
		},
		Policy: money.BatchPolicy{PlaceType: money.PlaceSequential},
	})
	require.Len(t, disp.placed, 1)
	firstClientID := disp.placed[0].ClientID

	m.OnUpdate(money.UpdateOrder{
		ClientID: firstClientID, Status: money.StatusPartiallyFilled,
		Size: d("2"), FilledSize: d("1"),
	})

	require.Len(t, disp.placed, 2)
	assert.Equal(t, "ETHUSDT", disp.placed[1].Instrument.Symbol)
	assert.True(t, disp.placed[1].Size.Equal(d("1")))
	_ = batchID
}

// Scenario 4 (spec §8): Invert compensation unwinds exactly the filled
// volume per leg, never the full original size.
func TestRejectWithInvertCompensationUnwindsFilledVolumeOnly(t *testing.T) {
	disp := &recordingDispatcher{}
	m := New(disp)

	m.Start(money.PlaceBatchOrders{
		Legs: []money.RequestPlaceOrder{
			{Instrument: inst("BTCUSDT"), Side: money.SideBuy, Size: d("2")},
			{Instrument: inst("ETHUSDT"), Side: money.SideSell, Size: d("2")},
		},
		Policy: money.BatchPolicy{PlaceType: money.PlaceConcurrent, Compensation: money.CompensationInvert},
	})
	require.Len(t, disp.placed, 2)
	btcClientID := disp.placed[0].ClientID
	ethClientID := disp.placed[1].ClientID

	// leg 1 partially fills before leg 2 is rejected outright.
	m.OnUpdate(money.UpdateOrder{ClientID: btcClientID, Status: money.StatusPartiallyFilled, Size: d("2"), FilledSize: d("1")})
	m.OnUpdate(money.UpdateOrder{ClientID: ethClientID, Status: money.StatusRejected, Size: d("2"), FilledSize: d("0")})

	// one unwind order should appear, on the BTC leg's opposite side,
	// sized to the 1 unit actually filled (not the original size of 2).
	var unwinds []money.RequestPlaceOrder
	for _, p := range disp.placed[2:] {
		unwinds = append(unwinds, p)
	}
	require.Len(t, unwinds, 1)
	assert.Equal(t, money.SideSell, unwinds[0].Side)
	assert.True(t, unwinds[0].Size.Equal(d("1")))
}

func TestRejectWithRetryReEmitsFreshClientID(t *testing.T) {
	disp := &recordingDispatcher{}
	m := New(disp)
	batchID := m.Start(money.PlaceBatchOrders{
		Legs:   []money.RequestPlaceOrder{{Instrument: inst("BTCUSDT"), Side: money.SideBuy, Size: d("1")}},
		Policy: money.BatchPolicy{PlaceType: money.PlaceConcurrent},
	})
	m.SetRetries(batchID, 1)
	firstClientID := disp.placed[0].ClientID

	m.OnUpdate(money.UpdateOrder{ClientID: firstClientID, Status: money.StatusRejected})

	require.Len(t, disp.placed, 2)
	assert.NotEqual(t, firstClientID, disp.placed[1].ClientID)
}

func TestMaintainPrunesFullyFilledStaleBatch(t *testing.T) {
	disp := &recordingDispatcher{}
	m := New(disp)
	m.Start(money.PlaceBatchOrders{
		Legs:   []money.RequestPlaceOrder{{Instrument: inst("BTCUSDT"), Side: money.SideBuy, Size: d("1")}},
		Policy: money.BatchPolicy{PlaceType: money.PlaceConcurrent},
	})
	clientID := disp.placed[0].ClientID
	m.OnUpdate(money.UpdateOrder{ClientID: clientID, Status: money.StatusFilled, Size: d("1"), FilledSize: d("1"), UpdateLT: 0})

	require.Equal(t, 1, m.Len())
	m.Maintain(money.Time(int64(10) * int64(1_000_000_000)))
	assert.Equal(t, 0, m.Len())
}
