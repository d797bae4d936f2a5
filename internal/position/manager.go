// Package position implements PositionManager (§4.F): per-(account,
// instrument) position bookkeeping driven by merged order updates and
// venue snapshots, keyed by (account, instrument) rather than a single
// implicit account.
package position

import (
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/polybot/internal/money"
)

// Book is one account's position in one instrument.
type Book struct {
	Account    string
	Instrument money.Instrument
	Total      decimal.Decimal
	Available  decimal.Decimal
	Locked     decimal.Decimal
	UpdatedLT  money.Time
}

type key struct {
	account    string
	instrument money.Instrument
}

// Manager is the single-writer position store. Reads are served from
// value-copy snapshots.
type Manager struct {
	mu     sync.RWMutex
	books  map[key]*Book
	deltas chan Book
}

// New builds an empty PositionManager.
func New() *Manager {
	return &Manager{
		books:  make(map[key]*Book),
		deltas: make(chan Book, 256),
	}
}

// Deltas exposes the book-change stream; cmd/executioncore drains it into
// the append-only position snapshot log.
func (m *Manager) Deltas() <-chan Book {
	return m.deltas
}

func (m *Manager) getOrCreateLocked(account string, instrument money.Instrument) *Book {
	k := key{account, instrument}
	b, ok := m.books[k]
	if !ok {
		b = &Book{Account: account, Instrument: instrument}
		m.books[k] = b
	}
	return b
}

// ReplaceSnapshot installs an authoritative REST balance snapshot: total
// is replaced outright, available/locked are recomputed so their sum
// still matches total (locked is preserved where possible).
func (m *Manager) ReplaceSnapshot(account string, instrument money.Instrument, total decimal.Decimal, now money.Time) {
	m.mu.Lock()
	b := m.getOrCreateLocked(account, instrument)
	b.Total = total
	if b.Locked.GreaterThan(total) {
		b.Locked = total
	}
	b.Available = total.Sub(b.Locked)
	b.UpdatedLT = now
	snap := *b
	m.mu.Unlock()

	m.emit(snap)
}

// OnOrderUpdate applies PositionManager's order-lifecycle hooks: placing
// reserves size into Locked, and cancel/reject/fill release or realize it.
// Only orders whose effect is neither NA nor Unknown move the position; reduce-only closes
// decrement Total on fill.
func (m *Manager) OnOrderUpdate(account string, u money.UpdateOrder, fillDelta decimal.Decimal) {
	if u.Effect == money.EffectNA || u.Effect == money.EffectUnknown {
		return
	}
	m.mu.Lock()
	b := m.getOrCreateLocked(account, u.Instrument)

	switch {
	case u.Status.IsNew() || u.Status == money.StatusOpen:
		b.Locked = b.Locked.Add(u.Size)
		b.Available = b.Available.Sub(u.Size)
	case u.Status == money.StatusCancelled || u.Status == money.StatusRejected || u.Status == money.StatusExpired:
		remaining := u.Size.Sub(u.FilledSize)
		b.Locked = b.Locked.Sub(remaining)
		b.Available = b.Available.Add(remaining)
	case u.Status == money.StatusPartiallyFilled || u.Status == money.StatusFilled:
		if fillDelta.IsPositive() {
			b.Locked = b.Locked.Sub(fillDelta)
			if u.Effect == money.EffectOpen {
				b.Total = b.Total.Add(fillDelta)
			} else if u.Effect.IsReduceOnly() {
				b.Total = b.Total.Sub(fillDelta)
			}
		}
		if u.Status == money.StatusFilled {
			remaining := u.Size.Sub(u.FilledSize)
			if remaining.IsPositive() {
				b.Locked = b.Locked.Sub(remaining)
				b.Available = b.Available.Add(remaining)
			}
		}
	}

	if b.Locked.IsNegative() {
		log.Warn().Str("account", account).Str("instrument", u.Instrument.String()).
			Str("locked", b.Locked.String()).Msg("position locked size went negative; clamping")
		b.Locked = decimal.Zero
	}
	b.UpdatedLT = u.UpdateLT
	snap := *b
	m.mu.Unlock()

	m.emit(snap)
}

func (m *Manager) emit(b Book) {
	select {
	case m.deltas <- b:
	default:
		log.Warn().Str("instrument", b.Instrument.String()).Msg("position delta channel full; dropping this delta")
	}
}

// Get returns a snapshot of one (account, instrument) book.
func (m *Manager) Get(account string, instrument money.Instrument) (Book, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.books[key{account, instrument}]
	if !ok {
		return Book{}, false
	}
	return *b, true
}

// All returns a snapshot of every tracked book for an account.
func (m *Manager) All(account string) []Book {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Book, 0, len(m.books))
	for k, b := range m.books {
		if k.account == account {
			out = append(out, *b)
		}
	}
	return out
}
