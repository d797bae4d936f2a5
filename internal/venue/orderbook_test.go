package venue

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/polybot/internal/money"
)

func lvl(price, size string) PriceLevel {
	return PriceLevel{Price: decimal.RequireFromString(price), Size: decimal.RequireFromString(size)}
}

// Scenario 6 (spec §8): diffs arriving before the snapshot are buffered;
// stale diffs are dropped; the first kept diff must bridge the snapshot.
func TestOrderBookBootstrapBuffersThenBridges(t *testing.T) {
	b := NewBookBuilder(money.Instrument{Exchange: "binance", Symbol: "BTCUSDT"})
	require.False(t, b.Ready())

	// Arrives before the snapshot: buffered.
	b.BufferDiff(DepthDiff{FirstUpdateID: 5, FinalUpdateID: 10, Bids: []PriceLevel{lvl("100", "1")}})
	// Entirely stale relative to the eventual snapshot: dropped at apply time.
	b.BufferDiff(DepthDiff{FirstUpdateID: 1, FinalUpdateID: 3, Bids: []PriceLevel{lvl("99", "1")}})
	// Bridges the snapshot (first<=last+1<=final).
	b.BufferDiff(DepthDiff{FirstUpdateID: 11, FinalUpdateID: 15, Bids: []PriceLevel{lvl("101", "2")}})

	snap := DepthSnapshot{LastUpdateID: 10, Bids: []PriceLevel{lvl("100", "5")}}
	update, ok := b.ApplySnapshot(snap)
	require.True(t, ok)
	require.True(t, b.Ready())
	// Snapshot row plus the bridging diff's row, not the stale one.
	assert.Len(t, update.Bids, 2)
}

func TestOrderBookBootstrapRestartsWhenGapUnbridged(t *testing.T) {
	b := NewBookBuilder(money.Instrument{Exchange: "binance", Symbol: "ETHUSDT"})
	// Diff starts after the snapshot's last_update_id+1 — a gap.
	b.BufferDiff(DepthDiff{FirstUpdateID: 20, FinalUpdateID: 25})

	snap := DepthSnapshot{LastUpdateID: 10}
	_, ok := b.ApplySnapshot(snap)
	assert.False(t, ok)
	assert.False(t, b.Ready())
}

func TestSteadyStateDropsDiffNotAdvancingPastLastID(t *testing.T) {
	b := NewBookBuilder(money.Instrument{Exchange: "binance", Symbol: "BTCUSDT"})
	_, ok := b.ApplySnapshot(DepthSnapshot{LastUpdateID: 100})
	require.True(t, ok)

	_, ok = b.ApplyDiff(DepthDiff{FirstUpdateID: 90, FinalUpdateID: 100})
	assert.False(t, ok)

	update, ok := b.ApplyDiff(DepthDiff{FirstUpdateID: 101, FinalUpdateID: 105, Asks: []PriceLevel{lvl("110", "3")}})
	require.True(t, ok)
	assert.Len(t, update.Asks, 1)
}
