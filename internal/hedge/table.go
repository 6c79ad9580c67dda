package hedge

import (
	"errors"
	"sync"
)

var (
	ErrNotFound  = errors.New("no active hedge for position")
	ErrDuplicate = errors.New("position already has an active hedge")
)

// Table owns the process-wide map of hedge positions. Every access
// goes through it; tests inject a fresh instance per case.
type Table struct {
	mu        sync.Mutex
	positions map[string]*Position
}

func NewTable() *Table {
	return &Table{positions: make(map[string]*Position)}
}

func (t *Table) Get(positionID string) (*Position, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pos, ok := t.positions[positionID]
	return pos, ok
}

func (t *Table) Set(pos *Position) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.positions[pos.PositionID] = pos
}

// SetIfAbsent inserts pos unless its id is already present.
func (t *Table) SetIfAbsent(pos *Position) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.positions[pos.PositionID]; ok {
		return ErrDuplicate
	}
	t.positions[pos.PositionID] = pos
	return nil
}

func (t *Table) Delete(positionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.positions, positionID)
}

// Rename moves a position to a new key. Only the key changes; the
// position value is untouched apart from its id field.
func (t *Table) Rename(oldID, newID string) (*Position, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pos, ok := t.positions[oldID]
	if !ok {
		return nil, ErrNotFound
	}
	if _, exists := t.positions[newID]; exists {
		return nil, ErrDuplicate
	}
	delete(t.positions, oldID)
	pos.PositionID = newID
	t.positions[newID] = pos
	return pos, nil
}

// ForEach calls fn for every position. fn runs under the table lock;
// keep it short.
func (t *Table) ForEach(fn func(pos *Position)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, pos := range t.positions {
		fn(pos)
	}
}

func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.positions)
}
