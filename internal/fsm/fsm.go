// Package fsm implements the small table-driven finite state machine every
// peer runs to gate which messages it may legally send or accept next
// (component C4). The table is data, not a switch statement, so the
// join/leave/replacement protocols in internal/peer can be read off the
// transition table rather than traced through branches.
package fsm

import (
	"fmt"
	"sync"

	"overlay/internal/domain"
)

// State is one state of a peer's lifecycle.
type State string

// Event is a message kind or internal trigger that may cause a transition.
type Event string

type key struct {
	state State
	event Event
}

// Transition describes where an (state, event) pair leads, and an optional
// guard that can still reject the transition at runtime (e.g. "refuse a
// concurrent join", spec's determinism rule for simultaneous joins at one
// parent).
type Transition struct {
	To    State
	Guard func() error
}

// Table maps (state, event) to the transition it triggers.
type Table map[key]Transition

// NewTable builds an empty transition table.
func NewTable() Table { return make(Table) }

// Add registers a transition. Re-registering the same (from, event) pair
// overwrites the previous entry -- callers build the table once at startup.
func (t Table) Add(from State, event Event, to State, guard func() error) {
	t[key{from, event}] = Transition{To: to, Guard: guard}
}

// Machine is one peer's live state, driven by a shared Table.
type Machine struct {
	mu    sync.Mutex
	table Table
	state State
}

// New creates a Machine starting in initial, driven by table.
func New(table Table, initial State) *Machine {
	return &Machine{table: table, state: initial}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Fire applies event to the machine. If no transition is registered for
// (current state, event), or the transition's guard rejects it, Fire
// returns an error wrapping domain.ErrFSMViolation and leaves the state
// unchanged.
func (m *Machine) Fire(event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tr, ok := m.table[key{m.state, event}]
	if !ok {
		return fmt.Errorf("%w: no transition for state=%s event=%s", domain.ErrFSMViolation, m.state, event)
	}
	if tr.Guard != nil {
		if err := tr.Guard(); err != nil {
			return fmt.Errorf("%w: guard rejected state=%s event=%s: %v", domain.ErrFSMViolation, m.state, event, err)
		}
	}
	m.state = tr.To
	return nil
}

// CanFire reports whether event is legal in the current state, without
// applying it or running its guard.
func (m *Machine) CanFire(event Event) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.table[key{m.state, event}]
	return ok
}
