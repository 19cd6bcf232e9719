package rfc003

import (
	"fmt"
	"sync"
)

// entry pairs a swap's state with its own lock, so a write to one SwapId
// never blocks a read or write of another (spec.md §4.4/§5: events for a
// single SwapId are serialized; across ids there is no ordering).
type entry struct {
	mu    sync.Mutex
	state State
}

// Store is the C4 mapping SwapId -> SwapState: insert is idempotent on
// equal initial state, update is single-writer per id via a per-id
// exclusive lock, get returns a snapshot, and readers never block writers
// beyond the duration of a single state read.
type Store struct {
	mu      sync.RWMutex // guards the entries map itself, not its values
	entries map[SwapId]*entry
}

func NewStore() *Store {
	return &Store{entries: make(map[SwapId]*entry)}
}

// Insert registers (id, state0). Idempotent if id already holds a state
// deep-equal to state0; returns ErrDuplicate otherwise (I3).
func (s *Store) Insert(id SwapId, state0 State) error {
	s.mu.Lock()
	e, exists := s.entries[id]
	if !exists {
		e = &entry{state: state0}
		s.entries[id] = e
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	if !statesEqual(e.state, state0) {
		return fmt.Errorf("%w: %s", ErrDuplicate, id)
	}
	return nil
}

// Update acquires id's per-id exclusive lock, applies the state machine to
// the current state and event, and writes back the result. No two
// concurrent updates on the same id interleave.
func (s *Store) Update(id SwapId, event Event) (State, error) {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return State{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.IsTerminal() {
		return e.state, fmt.Errorf("%w: %s", ErrTerminal, id)
	}

	e.state = Transition(e.state, event)
	return e.state, nil
}

// Get returns a snapshot of id's current state.
func (s *Store) Get(id SwapId) (State, error) {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return State{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, nil
}

// All returns a snapshot of every (SwapId, State) pair currently held. The
// snapshot is consistent per id but not necessarily across ids: a
// concurrent Update racing this call may or may not be reflected for any
// given id, matching spec.md §4.4's "all()" contract.
func (s *Store) All() map[SwapId]State {
	s.mu.RLock()
	ids := make([]SwapId, 0, len(s.entries))
	ents := make([]*entry, 0, len(s.entries))
	for id, e := range s.entries {
		ids = append(ids, id)
		ents = append(ents, e)
	}
	s.mu.RUnlock()

	out := make(map[SwapId]State, len(ids))
	for i, id := range ids {
		ents[i].mu.Lock()
		out[id] = ents[i].state
		ents[i].mu.Unlock()
	}
	return out
}

func statesEqual(a, b State) bool {
	if a.Phase != b.Phase || a.Alpha != b.Alpha || a.Beta != b.Beta || a.SecretHash != b.SecretHash {
		return false
	}
	if (a.Secret == nil) != (b.Secret == nil) {
		return false
	}
	if a.Secret != nil && *a.Secret != *b.Secret {
		return false
	}
	return true
}
