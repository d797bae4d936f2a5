// Package balance implements BalanceManager (§4.G): per-venue quote
// balance with reserve/release semantics gating order placement, using
// decimal-exact reserve accounting rather than ad-hoc float checks.
package balance

import (
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/polybot/internal/money"
)

// Balance is one venue's quote-currency balance split into free and
// reserved. Invariant (§8): reserved >= 0 and reserved + free = total as
// of the last snapshot.
type Balance struct {
	Exchange string
	Free     decimal.Decimal
	Reserved decimal.Decimal
	Total    decimal.Decimal
}

// Manager is the single-writer balance store, keyed by exchange.
type Manager struct {
	mu     sync.Mutex
	books  map[string]*Balance
	deltas chan Balance
}

// New builds an empty BalanceManager.
func New() *Manager {
	return &Manager{books: make(map[string]*Balance), deltas: make(chan Balance, 256)}
}

// Deltas exposes the balance-change stream for the append-only snapshot
// log (§6).
func (m *Manager) Deltas() <-chan Balance {
	return m.deltas
}

func (m *Manager) emit(b Balance) {
	select {
	case m.deltas <- b:
	default:
		log.Warn().Str("exchange", b.Exchange).Msg("balance delta channel full; dropping")
	}
}

func (m *Manager) getOrCreateLocked(exchange string) *Balance {
	b, ok := m.books[exchange]
	if !ok {
		b = &Balance{Exchange: exchange}
		m.books[exchange] = b
	}
	return b
}

// Snapshot installs the venue's last reported total, adjusting free so
// free+reserved keeps matching (reserved is never touched by a snapshot —
// only by Deduct/Add — so an external deposit/withdrawal shows up purely
// as a change in Free).
func (m *Manager) Snapshot(exchange string, total decimal.Decimal) {
	m.mu.Lock()
	b := m.getOrCreateLocked(exchange)
	b.Total = total
	free := total.Sub(b.Reserved)
	if free.IsNegative() {
		log.Warn().Str("exchange", exchange).Msg("balance snapshot smaller than outstanding reservations; clamping free to zero")
		free = decimal.Zero
	}
	b.Free = free
	snap := *b
	m.mu.Unlock()
	m.emit(snap)
}

// Deduct reserves quoteAmount against an order about to be placed.
// Returns false (and makes no change) if free balance is insufficient.
func (m *Manager) Deduct(exchange string, quoteAmount decimal.Decimal) bool {
	m.mu.Lock()
	b := m.getOrCreateLocked(exchange)
	if quoteAmount.GreaterThan(b.Free) {
		m.mu.Unlock()
		return false
	}
	b.Free = b.Free.Sub(quoteAmount)
	b.Reserved = b.Reserved.Add(quoteAmount)
	snap := *b
	m.mu.Unlock()
	m.emit(snap)
	return true
}

// Add credits back the unfilled part of a reservation on
// cancel/reject/expire; a partial fill leaves the reservation untouched.
// On full fill the reservation for the filled cost is released without
// returning to Free — that value has moved to position accounting.
func (m *Manager) Add(exchange string, u money.UpdateOrder) {
	m.mu.Lock()
	b := m.getOrCreateLocked(exchange)

	reservedCost := u.Size.Mul(u.Price)
	switch {
	case u.Status == money.StatusCancelled || u.Status == money.StatusRejected || u.Status == money.StatusExpired:
		remaining := u.Size.Sub(u.FilledSize)
		release := remaining.Mul(u.Price)
		b.Reserved = b.Reserved.Sub(release)
		b.Free = b.Free.Add(release)
	case u.Status == money.StatusFilled:
		// Entire reservation is released; the filled-cost portion has
		// already moved into position accounting via PositionManager.
		b.Reserved = b.Reserved.Sub(reservedCost)
	case u.Status == money.StatusPartiallyFilled:
		// Remaining size stays reserved; nothing to release yet.
	}

	if b.Reserved.IsNegative() {
		log.Warn().Str("exchange", exchange).Str("reserved", b.Reserved.String()).
			Msg("balance reserved went negative; clamping to zero")
		b.Reserved = decimal.Zero
	}
	snap := *b
	m.mu.Unlock()
	m.emit(snap)
}

// Get returns a snapshot of one venue's balance.
func (m *Manager) Get(exchange string) Balance {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.getOrCreateLocked(exchange)
	return *b
}
