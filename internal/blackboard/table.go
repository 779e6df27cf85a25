// Package blackboard implements the typed fact/hypothesis table and the
// content-addressed object list (spec §3.2, §3.3): the shared store the
// GameMaster mutates and every other component reads via RPC.
package blackboard

import (
	"fmt"
	"sync"

	"github.com/anthropics/gmengine/internal/logging"
	"github.com/anthropics/gmengine/internal/record"
)

// Table is a typed column store of records, all sharing one taint value.
// Per spec §5, the GameMaster is its sole writer; Table still carries a
// mutex so read-only callers (screen, save) never race a concurrent write.
type Table struct {
	mu      sync.RWMutex
	tainted bool
	nextID  int
	columns map[string][]*record.Record
	byID    map[int]*record.Record
	known   map[string]bool // kinds the registry has declared for this table
}

// NewTable builds an empty table for the given taint. known lists the record
// kinds the registry allows in this table; Add fails for any other kind.
func NewTable(tainted bool, known map[string]bool) *Table {
	return &Table{
		tainted: tainted,
		nextID:  0,
		columns: make(map[string][]*record.Record),
		byID:    make(map[int]*record.Record),
		known:   known,
	}
}

// Tainted reports the taint this table enforces on inserted records.
func (t *Table) Tainted() bool { return t.tainted }

// Add assigns the record an id and inserts it. The record's taint must match
// the table's; its kind must be a known column (spec §4.2).
func (t *Table) Add(r *record.Record) (int, error) {
	if r.Tainted != t.tainted {
		return 0, fmt.Errorf("blackboard: record taint %v disagrees with table taint %v", r.Tainted, t.tainted)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.known != nil && !t.known[r.Kind] {
		return 0, fmt.Errorf("blackboard: unknown record kind %q", r.Kind)
	}
	id := t.nextID
	t.nextID++
	r.ID = id
	t.columns[r.Kind] = append(t.columns[r.Kind], r)
	t.byID[id] = r
	logging.BlackboardDebug("table(tainted=%v): inserted id=%d kind=%s", t.tainted, id, r.Kind)
	return id, nil
}

// FindByID looks up a record by id in O(1).
func (t *Table) FindByID(id int) (*record.Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.byID[id]
	return r, ok
}

// GetColumn returns the records of one kind, or an error if the kind is
// unknown to the table.
func (t *Table) GetColumn(kind string) ([]*record.Record, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.known != nil && !t.known[kind] {
		return nil, fmt.Errorf("blackboard: unknown record kind %q", kind)
	}
	col := t.columns[kind]
	out := make([]*record.Record, len(col))
	copy(out, col)
	return out, nil
}

// GetColumns returns the union of several kinds' records, in kind-list order.
func (t *Table) GetColumns(kinds []string) ([]*record.Record, error) {
	var out []*record.Record
	for _, k := range kinds {
		col, err := t.GetColumn(k)
		if err != nil {
			return nil, err
		}
		out = append(out, col...)
	}
	return out, nil
}

// All returns every record currently in the table, grouped by kind in the
// shape save/restore needs (spec §6.3).
func (t *Table) All() map[string][]*record.Record {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string][]*record.Record, len(t.columns))
	for kind, col := range t.columns {
		cp := make([]*record.Record, len(col))
		copy(cp, col)
		out[kind] = cp
	}
	return out
}

// NextID reports the next id the table would assign, for save snapshots.
func (t *Table) NextID() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.nextID
}

// Remove deletes a record by id from both the index and its column. Only
// meaningful on the hypothesis table (spec §3.2); the caller enforces that.
func (t *Table) Remove(id int) (*record.Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.byID[id]
	if !ok {
		return nil, fmt.Errorf("blackboard: record %d not found", id)
	}
	delete(t.byID, id)
	col := t.columns[r.Kind]
	for i, c := range col {
		if c.ID == id {
			t.columns[r.Kind] = append(col[:i], col[i+1:]...)
			break
		}
	}
	return r, nil
}

// Restore replaces the table's contents wholesale, used by load() (spec
// §4.4.8). nextID must be at least one past the highest restored id.
func (t *Table) Restore(columns map[string][]*record.Record, nextID int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.columns = make(map[string][]*record.Record)
	t.byID = make(map[int]*record.Record)
	for kind, col := range columns {
		cp := make([]*record.Record, len(col))
		copy(cp, col)
		t.columns[kind] = cp
		for _, r := range cp {
			t.byID[r.ID] = r
		}
	}
	t.nextID = nextID
}
