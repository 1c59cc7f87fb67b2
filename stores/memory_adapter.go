// Package stores provides persistence adapters and change watchers for the
// enforcer: an in-memory adapter for tests and embedding, a SQL adapter on
// squealx, and a Redis pub/sub watcher.
package stores

import (
	"sync"

	"github.com/oarkflow/permit"
)

type storedRule struct {
	sec    string
	ptype  string
	fields []string
}

func (r storedRule) equals(sec, ptype string, fields []string) bool {
	if r.sec != sec || r.ptype != ptype || len(r.fields) != len(fields) {
		return false
	}
	for i := range fields {
		if r.fields[i] != fields[i] {
			return false
		}
	}
	return true
}

func (r storedRule) matchesFilter(fieldIndex int, fieldValues []string) bool {
	for i, want := range fieldValues {
		if want == "" {
			continue
		}
		pos := fieldIndex + i
		if pos >= len(r.fields) || r.fields[pos] != want {
			return false
		}
	}
	return true
}

// MemoryAdapter keeps rows in process memory. It implements the full
// adapter surface, so it doubles as the reference adapter in tests.
type MemoryAdapter struct {
	mu       sync.RWMutex
	rules    []storedRule
	filtered bool
}

func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{}
}

func (a *MemoryAdapter) LoadPolicy(m *permit.Model) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.filtered = false
	for _, r := range a.rules {
		if err := m.AddRow(r.sec, r.ptype, r.fields); err != nil {
			return err
		}
	}
	return nil
}

func (a *MemoryAdapter) LoadFilteredPolicy(m *permit.Model, filter permit.Filter) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, r := range a.rules {
		values, ok := filter[r.ptype]
		if ok && !r.matchesFilter(0, values) {
			continue
		}
		if err := m.AddRow(r.sec, r.ptype, r.fields); err != nil {
			return err
		}
	}
	a.filtered = true
	return nil
}

func (a *MemoryAdapter) IsFiltered() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.filtered
}

func (a *MemoryAdapter) SavePolicy(m *permit.Model) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rules = nil
	for _, sec := range []string{"p", "g"} {
		for _, ptype := range m.Keys(sec) {
			for _, fields := range m.Rows(sec, ptype) {
				a.rules = append(a.rules, storedRule{sec: sec, ptype: ptype, fields: fields})
			}
		}
	}
	return nil
}

func (a *MemoryAdapter) AddPolicy(sec, ptype string, rule []string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rules = append(a.rules, storedRule{sec: sec, ptype: ptype, fields: append([]string(nil), rule...)})
	return nil
}

func (a *MemoryAdapter) AddPolicies(sec, ptype string, rules [][]string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, rule := range rules {
		a.rules = append(a.rules, storedRule{sec: sec, ptype: ptype, fields: append([]string(nil), rule...)})
	}
	return nil
}

func (a *MemoryAdapter) RemovePolicy(sec, ptype string, rule []string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	kept := a.rules[:0]
	for _, r := range a.rules {
		if !r.equals(sec, ptype, rule) {
			kept = append(kept, r)
		}
	}
	a.rules = kept
	return nil
}

func (a *MemoryAdapter) RemovePolicies(sec, ptype string, rules [][]string) error {
	for _, rule := range rules {
		if err := a.RemovePolicy(sec, ptype, rule); err != nil {
			return err
		}
	}
	return nil
}

func (a *MemoryAdapter) RemoveFilteredPolicy(sec, ptype string, fieldIndex int, fieldValues ...string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	kept := a.rules[:0]
	for _, r := range a.rules {
		if r.sec == sec && r.ptype == ptype && r.matchesFilter(fieldIndex, fieldValues) {
			continue
		}
		kept = append(kept, r)
	}
	a.rules = kept
	return nil
}

func (a *MemoryAdapter) UpdatePolicy(sec, ptype string, oldRule, newRule []string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, r := range a.rules {
		if r.equals(sec, ptype, oldRule) {
			a.rules[i].fields = append([]string(nil), newRule...)
			return nil
		}
	}
	return nil
}

// Len reports the stored row count, for tests.
func (a *MemoryAdapter) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.rules)
}
