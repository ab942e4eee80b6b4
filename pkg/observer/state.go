package observer

import (
	"sync"

	"github.com/calderadb/quotad/pkg/quota"
)

// StateMap tracks the last enforced violation state per subject.  It is the
// only memory of what was enforced across passes: every mutation happens
// together with the notifier call it reflects.  A subject with no entry is
// in observance.
type StateMap[S comparable] struct {
	mu     sync.Mutex
	states map[S]quota.ViolationState
}

func NewStateMap[S comparable]() *StateMap[S] {
	return &StateMap[S]{states: make(map[S]quota.ViolationState)}
}

// Get returns the tracked state of subject, defaulting to observance.
func (m *StateMap[S]) Get(subject S) quota.ViolationState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if state, ok := m.states[subject]; ok {
		return state
	}
	return quota.InObservance
}

// Set records state for subject.
func (m *StateMap[S]) Set(subject S, state quota.ViolationState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[subject] = state
}

// Snapshot returns a copy of all tracked states.
func (m *StateMap[S]) Snapshot() map[S]quota.ViolationState {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := make(map[S]quota.ViolationState, len(m.states))
	for subject, state := range m.states {
		snapshot[subject] = state
	}
	return snapshot
}

func (m *StateMap[S]) countInViolation() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, state := range m.states {
		if state == quota.InViolation {
			n++
		}
	}
	return n
}
