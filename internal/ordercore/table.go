// Package ordercore implements the OrderTable (§4.D) and the OrderManager
// update merger (§4.E) that together keep a single, monotonic canonical
// timeline of order state across heterogeneous exchange feeds.
package ordercore

import (
	"sync"

	"github.com/web3guy0/polybot/internal/money"
)

// Table is a row-oriented, in-memory store of live orders keyed by the
// three id namespaces (local/client/server). All mutation happens on a
// single writer goroutine (the OrderManager); readers take snapshots.
type Table struct {
	mu sync.RWMutex

	byLocal  map[string]*money.Order
	byClient map[string]*money.Order
	byServer map[string]*money.Order
	rows     []*money.Order
}

// NewTable creates an empty OrderTable.
func NewTable() *Table {
	return &Table{
		byLocal:  make(map[string]*money.Order),
		byClient: make(map[string]*money.Order),
		byServer: make(map[string]*money.Order),
	}
}

// Insert initializes a new row from an Order value (already populated by
// the caller, e.g. via money.ToOrder).
func (t *Table) Insert(o money.Order) *money.Order {
	t.mu.Lock()
	defer t.mu.Unlock()

	row := &o
	t.rows = append(t.rows, row)
	t.index(row)
	return row
}

func (t *Table) index(row *money.Order) {
	if row.LocalID != "" {
		t.byLocal[row.LocalID] = row
	}
	if row.ClientID != "" {
		t.byClient[row.ClientID] = row
	}
	if row.ServerID != "" {
		t.byServer[row.ServerID] = row
	}
}

// reindex refreshes the id maps for a row whose ids may have just been
// filled in by a merge (field-wise merges never move a row in t.rows).
func (t *Table) reindex(row *money.Order) {
	t.index(row)
}

// FindByIDs returns the first row where any non-empty provided id matches
// the row's same-namespace id. Tie-break priority: local > client > server.
func (t *Table) FindByIDs(local, client, server string) *money.Order {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.findByIDsLocked(local, client, server)
}

func (t *Table) findByIDsLocked(local, client, server string) *money.Order {
	if local != "" {
		if row, ok := t.byLocal[local]; ok {
			return row
		}
	}
	if client != "" {
		if row, ok := t.byClient[client]; ok {
			return row
		}
	}
	if server != "" {
		if row, ok := t.byServer[server]; ok {
			return row
		}
	}
	return nil
}

// FindByCloid does an exact client-id match.
func (t *Table) FindByCloid(clientID string) *money.Order {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.byClient[clientID]
}

// Iter returns a value-copy snapshot of every row, safe for concurrent
// readers while the single writer keeps mutating the live rows.
func (t *Table) Iter() []money.Order {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]money.Order, 0, len(t.rows))
	for _, row := range t.rows {
		out = append(out, *row)
	}
	return out
}

// RemoveByCloid deletes the row matching the given client id, if any.
func (t *Table) RemoveByCloid(clientID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	row, ok := t.byClient[clientID]
	if !ok {
		return
	}
	t.removeLocked(row)
}

func (t *Table) removeLocked(row *money.Order) {
	delete(t.byLocal, row.LocalID)
	delete(t.byClient, row.ClientID)
	delete(t.byServer, row.ServerID)
	for i, r := range t.rows {
		if r == row {
			t.rows = append(t.rows[:i], t.rows[i+1:]...)
			break
		}
	}
}

// RemoveDead removes rows matching pred under the write lock — used by the
// OrderManager's soft-cleanup pass (§4.E).
func (t *Table) RemoveDead(pred func(*money.Order) bool) []money.Order {
	t.mu.Lock()
	defer t.mu.Unlock()

	var removed []money.Order
	kept := t.rows[:0]
	for _, row := range t.rows {
		if pred(row) {
			removed = append(removed, *row)
			delete(t.byLocal, row.LocalID)
			delete(t.byClient, row.ClientID)
			delete(t.byServer, row.ServerID)
			continue
		}
		kept = append(kept, row)
	}
	t.rows = kept
	return removed
}

// MutateLocked runs fn with the write lock held, passing the live row
// pointer so the caller (OrderManager.Apply) can merge fields in place and
// have the id indexes stay consistent afterwards.
func (t *Table) MutateLocked(row *money.Order, fn func(*money.Order)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(row)
	t.reindex(row)
}

// InsertLocked inserts a new row under the write lock and returns it —
// used by the OrderManager when FindByIDs finds nothing.
func (t *Table) InsertLocked(o money.Order) *money.Order {
	t.mu.Lock()
	defer t.mu.Unlock()
	row := &o
	t.rows = append(t.rows, row)
	t.index(row)
	return row
}

// Len returns the number of live rows.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows)
}
