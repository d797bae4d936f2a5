// Package batch implements BatchOrderManager (§4.I): hedged-pair and
// multi-leg placement, split-on-fill, retry, and compensation across a
// multi-leg batch, with a reverse index from sub-order id to batch.
package batch

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/polybot/internal/money"
)

// MinNotional is the smallest fill delta worth splitting onto the next
// leg; below this, unhandled fill volume simply accumulates.
var MinNotional = decimal.NewFromFloat(0.01)

// MaintenanceInterval is how often Maintain should be called by the
// owning router loop.
const MaintenanceInterval = 300 * time.Millisecond

// StaleBatchAge is how long a fully-filled batch survives after its last
// update before Maintain prunes it.
const StaleBatchAge = 5 * time.Second

// Dispatcher is how the manager hands a freshly minted child request back
// to the router for placement, and how it asks for every live sub-order
// of a batch to be cancelled.
type Dispatcher interface {
	DispatchPlace(req money.RequestPlaceOrder)
	DispatchCancel(req money.RequestCancelOrder)
}

// Manager owns every in-flight batch and the reverse index from a
// sub-order's client id back to its batch.
type Manager struct {
	mu         sync.Mutex
	batches    map[string]*money.Batch
	byClientID map[string]string // client_id -> batch_id

	dispatch Dispatcher
	idSeq    uint64
}

// New builds an empty BatchOrderManager.
func New(dispatch Dispatcher) *Manager {
	return &Manager{
		batches:    make(map[string]*money.Batch),
		byClientID: make(map[string]string),
		dispatch:   dispatch,
	}
}

func (m *Manager) nextID(prefix string) string {
	m.idSeq++
	return prefix + "-" + decimal.NewFromInt(int64(m.idSeq)).String()
}

// Start registers a new batch and places its legs per the policy's
// PlaceType: Concurrent places every leg's original size immediately;
// Sequential places only the first leg, letting subsequent legs absorb
// fills as they arrive.
func (m *Manager) Start(req money.PlaceBatchOrders) string {
	m.mu.Lock()
	batchID := m.nextID("batch")
	legs := make([]*money.Leg, 0, len(req.Legs))
	for _, l := range req.Legs {
		legs = append(legs, &money.Leg{Original: l})
	}
	batch := &money.Batch{ID: batchID, Policy: req.Policy, Legs: legs, LastUpdateLT: money.Now()}
	m.batches[batchID] = batch
	m.mu.Unlock()

	switch req.Policy.PlaceType {
	case money.PlaceConcurrent:
		for _, leg := range legs {
			m.placeSubOrder(batchID, leg, leg.Original.Size)
		}
	default: // Sequential
		if len(legs) > 0 {
			m.placeSubOrder(batchID, legs[0], legs[0].Original.Size)
		}
	}
	if n := req.Policy.Retry.MaxRetries; n > 0 {
		m.SetRetries(batchID, n)
	}
	return batchID
}

func (m *Manager) placeSubOrder(batchID string, leg *money.Leg, size decimal.Decimal) {
	if size.LessThanOrEqual(decimal.Zero) {
		return
	}
	clientID := m.nextID("sub")
	req := leg.Original
	req.Size = size
	req.ClientID = clientID

	sub := &money.SubOrder{Request: req, ClientID: clientID, RetriesLeft: 0, Live: true, FilledSize: decimal.Zero}

	m.mu.Lock()
	leg.SubOrders = append(leg.SubOrders, sub)
	m.byClientID[clientID] = batchID
	m.mu.Unlock()

	m.dispatch.DispatchPlace(req)
}

// SetRetries overrides the retry budget for every sub-order of a batch's
// legs at start time (wired from BatchPolicy.Retry.MaxRetries).
func (m *Manager) SetRetries(batchID string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[batchID]
	if !ok {
		return
	}
	for _, leg := range b.Legs {
		for _, s := range leg.SubOrders {
			s.RetriesLeft = n
		}
	}
}

// OnUpdate processes one canonical UpdateOrder against the batch state
// (§4.I steps 1-3).
func (m *Manager) OnUpdate(u money.UpdateOrder) {
	m.mu.Lock()
	batchID, ok := m.byClientID[u.ClientID]
	if !ok {
		m.mu.Unlock()
		return
	}
	b := m.batches[batchID]
	if b == nil {
		m.mu.Unlock()
		return
	}
	leg, sub, legIdx := findSubOrder(b, u.ClientID)
	if sub == nil {
		m.mu.Unlock()
		return
	}

	sub.Status = u.Status
	sub.FilledSize = u.FilledSize
	if u.Status.IsDead() && u.Status != money.StatusFilled {
		sub.Live = false
	}
	if u.Status == money.StatusFilled {
		sub.Live = false
	}
	b.LastUpdateLT = u.UpdateLT
	m.mu.Unlock()

	switch {
	case u.Status == money.StatusFilled || u.Status == money.StatusPartiallyFilled:
		m.handleFill(b, leg, legIdx)
	case u.Status == money.StatusRejected:
		m.handleReject(b, leg, sub)
	}
}

func findSubOrder(b *money.Batch, clientID string) (*money.Leg, *money.SubOrder, int) {
	for i, leg := range b.Legs {
		for _, s := range leg.SubOrders {
			if s.ClientID == clientID {
				return leg, s, i
			}
		}
	}
	return nil, nil, -1
}

func (m *Manager) handleFill(b *money.Batch, leg *money.Leg, legIdx int) {
	m.mu.Lock()
	unhandled := leg.FilledSize().Sub(leg.PlacedFills)
	m.mu.Unlock()

	if unhandled.LessThan(MinNotional) {
		return
	}
	if b.Policy.PlaceType != money.PlaceSequential {
		m.mu.Lock()
		leg.PlacedFills = leg.FilledSize()
		m.mu.Unlock()
		return
	}

	m.mu.Lock()
	var next *money.Leg
	if legIdx >= 0 && legIdx+1 < len(b.Legs) {
		candidate := b.Legs[legIdx+1]
		if candidate.Capacity().GreaterThan(decimal.Zero) {
			next = candidate
		}
	}
	var splitSize decimal.Decimal
	if next != nil {
		splitSize = unhandled
		if cap := next.Capacity(); splitSize.GreaterThan(cap) {
			splitSize = cap
		}
	}
	leg.PlacedFills = leg.FilledSize()
	m.mu.Unlock()

	if next != nil && splitSize.GreaterThan(decimal.Zero) {
		m.placeSubOrder(b.ID, next, splitSize)
	}
}

func (m *Manager) handleReject(b *money.Batch, leg *money.Leg, sub *money.SubOrder) {
	m.mu.Lock()
	if sub.RetriesLeft > 0 {
		sub.RetriesLeft--
		retries := sub.RetriesLeft
		req := sub.Request
		m.mu.Unlock()

		log.Warn().Str("batch", b.ID).Str("client_id", sub.ClientID).Int("retries_left", retries).
			Msg("sub-order rejected; retrying with a fresh id")
		m.placeSubOrder(b.ID, leg, req.Size)
		// The fresh sub-order carries the remaining retry budget.
		m.mu.Lock()
		if n := len(leg.SubOrders); n > 0 {
			leg.SubOrders[n-1].RetriesLeft = retries
		}
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	m.applyCompensation(b)
}

func (m *Manager) applyCompensation(b *money.Batch) {
	m.mu.Lock()
	already := b.Compensated
	b.Compensated = true
	policy := b.Policy.Compensation
	legs := b.Legs
	m.mu.Unlock()
	if already {
		return
	}

	switch policy {
	case money.CompensationIgnore:
		return
	case money.CompensationCancel:
		for _, leg := range legs {
			m.mu.Lock()
			live := liveSubOrders(leg)
			m.mu.Unlock()
			for _, s := range live {
				m.dispatch.DispatchCancel(money.RequestCancelOrder{
					Instrument: s.Request.Instrument, ClientID: s.ClientID,
				})
			}
		}
	case money.CompensationInvert:
		for _, leg := range legs {
			m.mu.Lock()
			filled := leg.FilledSize()
			m.mu.Unlock()
			if filled.LessThanOrEqual(decimal.Zero) {
				continue
			}
			invertSide := money.SideSell
			if leg.Original.Side == money.SideSell {
				invertSide = money.SideBuy
			}
			req := money.RequestPlaceOrder{
				Instrument: leg.Original.Instrument,
				Side:       invertSide,
				Size:       filled,
				Type:       money.OrderTypeMarket,
				ClientID:   m.nextID("unwind"),
			}
			m.dispatch.DispatchPlace(req)
		}
	}
}

func liveSubOrders(leg *money.Leg) []*money.SubOrder {
	var out []*money.SubOrder
	for _, s := range leg.SubOrders {
		if s.Live {
			out = append(out, s)
		}
	}
	return out
}

// Maintain prunes batches that are entirely filled and have been idle
// past StaleBatchAge (§4.I step 4). Call it on a ~300ms ticker from the
// owning router loop.
func (m *Manager) Maintain(now money.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, b := range m.batches {
		if !allLegsFilled(b) {
			continue
		}
		age := now - b.LastUpdateLT
		if age < money.Time(StaleBatchAge.Nanoseconds()) {
			continue
		}
		for _, leg := range b.Legs {
			for _, s := range leg.SubOrders {
				delete(m.byClientID, s.ClientID)
			}
		}
		delete(m.batches, id)
	}
}

func allLegsFilled(b *money.Batch) bool {
	for _, leg := range b.Legs {
		for _, s := range leg.SubOrders {
			if s.Status != money.StatusFilled {
				return false
			}
		}
		if len(leg.SubOrders) == 0 {
			return false
		}
	}
	return true
}

// Len reports how many batches are currently tracked, for tests/metrics.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.batches)
}
