// Package compensation maintains the rollback ledger for one saga and executes
// registered compensations in reverse order when a later step fails.
package compensation

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Action undoes one previously successful forward step.
type Action func(ctx context.Context) error

type entry struct {
	name     string
	action   Action
	critical bool
}

// UnwindError aggregates every rollback failure from one unwind pass.
type UnwindError struct {
	Failed    []string
	Succeeded int
	Halted    bool
}

func (e *UnwindError) Error() string {
	msg := fmt.Sprintf("compensation failed for [%s] (%d succeeded)",
		strings.Join(e.Failed, ", "), e.Succeeded)
	if e.Halted {
		msg += ", unwind halted by critical step"
	}
	return msg
}

// Manager owns one saga's ledger. One instance per logical saga; the ledger
// is cleared after every unwind.
type Manager struct {
	mu      sync.Mutex
	entries []entry
}

func NewManager() *Manager {
	return &Manager{}
}

// Add appends a rollback entry after a forward step succeeds. Critical
// entries halt the unwind if their rollback fails.
func (m *Manager) Add(name string, action Action, critical bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry{name: name, action: action, critical: critical})
}

// Len returns the number of queued compensations.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Execute walks the ledger in reverse insertion order. A failing rollback is
// recorded and the walk continues, unless the entry is critical, in which
// case the walk stops. The ledger is cleared regardless of outcome; a nil
// return is the only success condition.
func (m *Manager) Execute(ctx context.Context) error {
	m.mu.Lock()
	entries := m.entries
	m.entries = nil
	m.mu.Unlock()

	var failed []string
	succeeded := 0
	halted := false

	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if err := e.action(ctx); err != nil {
			failed = append(failed, e.name)
			if e.critical {
				halted = true
				break
			}
			continue
		}
		succeeded++
	}

	if len(failed) > 0 {
		return &UnwindError{Failed: failed, Succeeded: succeeded, Halted: halted}
	}
	return nil
}
