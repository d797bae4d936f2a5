package venue

import (
	"github.com/rs/zerolog/log"

	"github.com/web3guy0/polybot/internal/money"
)

// DepthDiff is one incremental L2 update as the venue frames it (Binance
// spot/futures style): a contiguous [FirstUpdateID, FinalUpdateID] range
// applied atomically.
type DepthDiff struct {
	FirstUpdateID int64
	FinalUpdateID int64
	Bids          []PriceLevel
	Asks          []PriceLevel
}

// DepthSnapshot is the REST bootstrap response for a symbol's book.
type DepthSnapshot struct {
	LastUpdateID int64
	Bids         []PriceLevel
	Asks         []PriceLevel
}

type bookState int

const (
	bookAwaitingSnapshot bookState = iota
	bookSteady
)

// BookBuilder implements the snapshot/diff bootstrap sequence from §4.C:
// buffer diffs until a REST snapshot arrives, discard diffs that are
// already covered by the snapshot, verify the first kept diff actually
// bridges the snapshot, then apply snapshot followed by the buffered
// diffs before entering steady state.
type BookBuilder struct {
	instrument money.Instrument
	state      bookState
	buffered   []DepthDiff
	snapshot   *DepthSnapshot
	lastID     int64
}

// NewBookBuilder starts a builder in the awaiting-snapshot state. Callers
// should issue the REST snapshot request as soon as the first diff
// subscription is established and feed it via ApplySnapshot once it
// returns.
func NewBookBuilder(instrument money.Instrument) *BookBuilder {
	return &BookBuilder{instrument: instrument, state: bookAwaitingSnapshot}
}

// Ready reports whether the builder has left bootstrap and is producing
// live BookUpdates.
func (b *BookBuilder) Ready() bool {
	return b.state == bookSteady
}

// BufferDiff stores an incoming diff while waiting on the snapshot. It is
// a no-op once the builder is steady; use ApplyDiff there instead.
func (b *BookBuilder) BufferDiff(d DepthDiff) {
	if b.state != bookAwaitingSnapshot {
		return
	}
	b.buffered = append(b.buffered, d)
}

// ApplySnapshot consumes the REST snapshot, drops any buffered diff that
// is already covered, validates the first kept diff bridges the snapshot,
// and returns the full BookUpdate to emit (snapshot merged with the
// surviving buffered diffs) plus ok=false if bootstrap must restart
// because no kept diff bridges the gap.
func (b *BookBuilder) ApplySnapshot(snap DepthSnapshot) (BookUpdate, bool) {
	b.snapshot = &snap
	b.lastID = snap.LastUpdateID

	var kept []DepthDiff
	for _, d := range b.buffered {
		if d.FinalUpdateID <= snap.LastUpdateID {
			continue // entirely stale relative to the snapshot
		}
		kept = append(kept, d)
	}
	b.buffered = nil

	if len(kept) > 0 {
		first := kept[0]
		if !(first.FirstUpdateID <= snap.LastUpdateID+1 && snap.LastUpdateID+1 <= first.FinalUpdateID) {
			log.Warn().
				Str("instrument", b.instrument.String()).
				Int64("snapshot_last_id", snap.LastUpdateID).
				Int64("diff_first_id", first.FirstUpdateID).
				Int64("diff_final_id", first.FinalUpdateID).
				Msg("order book snapshot and buffered diffs do not bridge; bootstrap must restart")
			b.state = bookAwaitingSnapshot
			b.snapshot = nil
			return BookUpdate{}, false
		}
	}

	out := BookUpdate{Snapshot: true, Bids: snap.Bids, Asks: snap.Asks}
	for _, d := range kept {
		out.Bids = append(out.Bids, d.Bids...)
		out.Asks = append(out.Asks, d.Asks...)
		b.lastID = d.FinalUpdateID
	}
	b.state = bookSteady
	return out, true
}

// ApplyDiff processes a diff once steady. Diffs whose FinalUpdateID does
// not advance past the last applied id are stale and dropped.
func (b *BookBuilder) ApplyDiff(d DepthDiff) (BookUpdate, bool) {
	if b.state != bookSteady {
		b.BufferDiff(d)
		return BookUpdate{}, false
	}
	if d.FinalUpdateID <= b.lastID {
		return BookUpdate{}, false
	}
	b.lastID = d.FinalUpdateID
	return BookUpdate{Snapshot: false, Bids: d.Bids, Asks: d.Asks}, true
}
