package ordercore

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/polybot/internal/money"
)

// OrderLog is the durable persistence hook the OrderManager writes every
// merged row to (§4.E step 10, §6 persistence layout). Implemented by
// internal/storage against gorm.
type OrderLog interface {
	SaveOrder(o money.Order) error
}

// noopLog is used when the manager is built without a persistence backend.
type noopLog struct{}

func (noopLog) SaveOrder(money.Order) error { return nil }

// Manager is the authoritative update merger (§4.E). It owns the Table's
// write path; everything else only reads snapshots.
type Manager struct {
	table *Table
	log   OrderLog

	// expireAfter is how long a dead or stuck-new row survives before
	// soft_cleanup removes/expires it. Defaults to 1 hour per spec.
	expireAfter time.Duration
}

// NewManager builds an OrderManager backed by the given table. A nil log
// is replaced with a no-op logger.
func NewManager(table *Table, orderLog OrderLog) *Manager {
	if orderLog == nil {
		orderLog = noopLog{}
	}
	return &Manager{
		table:       table,
		log:         orderLog,
		expireAfter: time.Hour,
	}
}

// Table exposes the backing OrderTable for read-only consumers.
func (m *Manager) Table() *Table {
	return m.table
}

// Apply runs the §4.E algorithm for one raw update and returns the
// normalized UpdateOrder to broadcast, or nil if the update was dropped.
func (m *Manager) Apply(u money.UpdateOrder) *money.UpdateOrder {
	local, client, server := u.GetIDs()
	row := m.table.FindByIDs(local, client, server)

	// Step 2: no row found.
	if row == nil {
		if u.LocalID == "" {
			u.LocalID = GenLocalID()
			log.Warn().
				Str("client_id", u.ClientID).
				Str("synthesized_local_id", u.LocalID).
				Msg("order update arrived without a local id; synthesizing one")
		}
		fresh := money.ToOrder(&u)
		row = m.table.InsertLocked(fresh)
		if err := m.log.SaveOrder(*row); err != nil {
			log.Error().Err(err).Str("client_id", row.ClientID).Msg("failed to persist new order")
		}
		out := money.FromOrder(row)
		return &out
	}

	var emit *money.UpdateOrder
	m.table.MutateLocked(row, func(r *money.Order) {
		emit = m.mergeLocked(r, u)
	})
	if emit != nil {
		if err := m.log.SaveOrder(*row); err != nil {
			log.Error().Err(err).Str("client_id", row.ClientID).Msg("failed to persist order update")
		}
	}
	return emit
}

// mergeLocked implements steps 3-9 of §4.E against an already-located row.
// Must be called with the table's write lock held (via MutateLocked).
func (m *Manager) mergeLocked(r *money.Order, u money.UpdateOrder) *money.UpdateOrder {
	// Step 3: staleness.
	if u.UpdateTST < r.UpdateTST {
		return nil
	}

	// Step 4: fill regression.
	if u.Size.GreaterThan(decimal.Zero) && u.FilledSize.LessThan(r.FilledSize) {
		return nil
	}

	// Step 6: absorbing terminal (checked before status progression so a
	// stray update after death never reopens a dead row).
	if r.Status.IsDead() {
		return nil
	}

	// Step 5: status progression, with the PartiallyFilled re-entry rule. A
	// PartiallyFilled report whose filled size equals the order size counts
	// as Filled.
	newStatus := u.Status
	if newStatus == money.StatusPartiallyFilled {
		size := u.Size
		if size.IsZero() {
			size = r.Size
		}
		if size.IsPositive() && u.FilledSize.Equal(size) {
			newStatus = money.StatusFilled
		}
	}
	switch {
	case isReentryCandidate(r.Status) && newStatus == money.StatusPartiallyFilled:
		newStatus = r.Status
	case newStatus > r.Status:
		// ok, proceeds
	default:
		return nil
	}

	// Step 7: compute the canonical fill delta before mutating FilledSize.
	maxFilled := u.FilledSize
	if r.FilledSize.GreaterThan(maxFilled) {
		maxFilled = r.FilledSize
	}
	delta := maxFilled.Sub(r.FilledSize)

	// Step 8: field-wise merge.
	if u.LocalID != "" {
		r.LocalID = u.LocalID
	}
	if u.ClientID != "" {
		r.ClientID = u.ClientID
	}
	if u.ServerID != "" {
		r.ServerID = u.ServerID
	}
	if !u.Price.IsZero() {
		r.Price = u.Price
	}
	if !u.Size.IsZero() {
		r.Size = u.Size
	}
	r.FilledSize = maxFilled
	if !u.AverageFilledPrice.IsZero() {
		r.AverageFilledPrice = u.AverageFilledPrice
	}
	r.LastFilledSize = u.LastFilledSize
	r.LastFilledPrice = u.LastFilledPrice
	r.Status = newStatus
	if u.Effect != money.EffectUnknown {
		r.Effect = u.Effect
	}
	if u.Type != money.OrderTypeUnknown {
		r.Type = u.Type
	}
	if u.TIF != money.TIFUnknown {
		r.TIF = u.TIF
	}
	r.UpdateLT = u.UpdateLT
	r.UpdateEST = u.UpdateEST
	r.UpdateTST = u.UpdateTST
	r.Updated = true
	if u.Managed != nil && *u.Managed {
		r.Managed = true
	}
	if newStatus.IsCancel() {
		r.CancelLT = u.UpdateLT
	}
	if newStatus.IsDead() {
		r.CloseLT = u.UpdateLT
	}
	if u.Reason != "" {
		log.Warn().Str("client_id", r.ClientID).Str("reason", u.Reason).Msg("order update carried a reason")
	}

	// Step 9: emit a normalized update carrying the canonical ids and the
	// computed last-filled delta.
	out := money.FromOrder(r)
	out.LastFilledSize = delta
	out.Reason = u.Reason
	out.Transaction = u.Transaction
	return &out
}

// isReentryCandidate reports whether last is one of the statuses from
// which a PartiallyFilled re-arrival should be treated as a continuation
// rather than a regression (§4.E step 5).
func isReentryCandidate(last money.OrderStatus) bool {
	switch last {
	case money.StatusPartiallyFilled, money.StatusCancelPending, money.StatusCancelSent, money.StatusCancelReceived:
		return true
	}
	return false
}

// SoftCleanup runs the cooperative, periodic cleanup pass (§4.E): dead rows
// older than expireAfter are dropped; new rows stuck for longer than
// expireAfter are marked Expired with a synthetic update, which the caller
// should route back through Apply/broadcast exactly like a real update.
func (m *Manager) SoftCleanup(now money.Time) []money.UpdateOrder {
	cutoff := now - money.Time(m.expireAfter.Nanoseconds())

	m.table.RemoveDead(func(r *money.Order) bool {
		return r.Status.IsDead() && r.UpdateLT < cutoff
	})

	var synthetic []money.UpdateOrder
	for _, row := range m.table.Iter() {
		if !row.Status.IsNew() || row.UpdateLT >= cutoff {
			continue
		}
		u := money.UpdateOrder{
			Instrument: row.Instrument,
			LocalID:    row.LocalID,
			ClientID:   row.ClientID,
			ServerID:   row.ServerID,
			Status:     money.StatusExpired,
			UpdateLT:   now,
			UpdateEST:  now,
			UpdateTST:  now,
			Reason:     "new order expired before getting confirmation",
		}
		synthetic = append(synthetic, u)
	}
	return synthetic
}
