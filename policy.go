package permit

import (
	"fmt"
	"sort"
)

// hasPolicy reports whether an identical row is already stored.
func (a *Assertion) hasPolicy(rule *Rule) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.policyIndex[rule.Text()]
	return ok
}

// addPolicy inserts one row. Rows must match the definition arity and must
// not duplicate an existing row. Definitions carrying a priority token keep
// the list sorted ascending by priority, ties landing after their equals.
func (a *Assertion) addPolicy(rule *Rule) error {
	if len(a.tokenNames) > 0 && rule.Len() != len(a.tokenNames) {
		return fmt.Errorf("%w: %q has %d fields, definition %q expects %d",
			ErrInvalidRule, rule.Text(), rule.Len(), a.Key, len(a.tokenNames))
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.policyIndex[rule.Text()]; ok {
		return fmt.Errorf("%w: %q already exists in %q", ErrInvalidRule, rule.Text(), a.Key)
	}
	if a.priorityIndex >= 0 {
		p, _ := a.priorityValue(rule)
		// First position whose priority is strictly greater, so equal
		// priorities keep insertion order.
		pos := sort.Search(len(a.Policy), func(i int) bool {
			existing, _ := a.priorityValue(a.Policy[i])
			return existing > p
		})
		a.Policy = append(a.Policy, nil)
		copy(a.Policy[pos+1:], a.Policy[pos:])
		a.Policy[pos] = rule
		for i := pos; i < len(a.Policy); i++ {
			a.policyIndex[a.Policy[i].Text()] = i
		}
		return nil
	}
	a.Policy = append(a.Policy, rule)
	a.policyIndex[rule.Text()] = len(a.Policy) - 1
	return nil
}

// addPolicies inserts each row in order, stopping at the first failure.
// Rows added before the failure stay.
func (a *Assertion) addPolicies(rules []*Rule) error {
	for _, rule := range rules {
		if err := a.addPolicy(rule); err != nil {
			return err
		}
	}
	return nil
}

// removePolicy deletes the row equal to rule. Reports whether a row was
// removed.
func (a *Assertion) removePolicy(rule *Rule) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	pos, ok := a.policyIndex[rule.Text()]
	if !ok {
		return false
	}
	a.Policy = append(a.Policy[:pos], a.Policy[pos+1:]...)
	delete(a.policyIndex, rule.Text())
	for i := pos; i < len(a.Policy); i++ {
		a.policyIndex[a.Policy[i].Text()] = i
	}
	return true
}

func (a *Assertion) removePolicies(rules []*Rule) bool {
	removed := false
	for _, rule := range rules {
		if a.removePolicy(rule) {
			removed = true
		}
	}
	return removed
}

// updatePolicy replaces old with new in place, keeping list position.
// Fails when old is absent or new already exists elsewhere.
func (a *Assertion) updatePolicy(oldRule, newRule *Rule) error {
	if len(a.tokenNames) > 0 && newRule.Len() != len(a.tokenNames) {
		return fmt.Errorf("%w: %q has %d fields, definition %q expects %d",
			ErrInvalidRule, newRule.Text(), newRule.Len(), a.Key, len(a.tokenNames))
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	pos, ok := a.policyIndex[oldRule.Text()]
	if !ok {
		return fmt.Errorf("rule %q not found in %q", oldRule.Text(), a.Key)
	}
	if other, exists := a.policyIndex[newRule.Text()]; exists && other != pos {
		return fmt.Errorf("rule %q already exists in %q", newRule.Text(), a.Key)
	}
	delete(a.policyIndex, oldRule.Text())
	a.Policy[pos] = newRule
	a.policyIndex[newRule.Text()] = pos
	return nil
}

// getPolicy returns a snapshot copy of all rows.
func (a *Assertion) getPolicy() []*Rule {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]*Rule, len(a.Policy))
	copy(out, a.Policy)
	return out
}

// getFilteredPolicy returns rows whose fields from fieldIndex onward equal
// the given values. Empty strings in values match anything.
func (a *Assertion) getFilteredPolicy(fieldIndex int, fieldValues ...string) []*Rule {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var out []*Rule
	for _, rule := range a.Policy {
		if ruleMatchesFilter(rule, fieldIndex, fieldValues) {
			out = append(out, rule)
		}
	}
	return out
}

// removeFilteredPolicy deletes every row matching the filter and returns
// the deleted rows. An all-blank filter is a no-op guard: it would delete
// everything, which only ClearPolicy may do.
func (a *Assertion) removeFilteredPolicy(fieldIndex int, fieldValues ...string) []*Rule {
	allBlank := true
	for _, v := range fieldValues {
		if v != "" {
			allBlank = false
			break
		}
	}
	if allBlank {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	var kept []*Rule
	var removed []*Rule
	for _, rule := range a.Policy {
		if ruleMatchesFilter(rule, fieldIndex, fieldValues) {
			removed = append(removed, rule)
			delete(a.policyIndex, rule.Text())
		} else {
			kept = append(kept, rule)
		}
	}
	if len(removed) > 0 {
		a.Policy = kept
		for i, rule := range kept {
			a.policyIndex[rule.Text()] = i
		}
	}
	return removed
}

func ruleMatchesFilter(rule *Rule, fieldIndex int, fieldValues []string) bool {
	for i, want := range fieldValues {
		if want == "" {
			continue
		}
		got, err := rule.Field(fieldIndex + i)
		if err != nil || got != want {
			return false
		}
	}
	return true
}

// policyScanner walks an assertion's rows under a lazily acquired read
// lock. The lock is taken on the first Next or Len call and held until the
// scan ends. Callers abandoning a scan early must call Interrupt; finishing
// the scan releases the lock on its own.
type policyScanner struct {
	a      *Assertion
	idx    int
	locked bool
	done   bool
}

func (a *Assertion) scan() *policyScanner {
	return &policyScanner{a: a, idx: -1}
}

func (s *policyScanner) lock() {
	if !s.locked && !s.done {
		s.a.mu.RLock()
		s.locked = true
	}
}

// Len reports the row count of the snapshot being scanned.
func (s *policyScanner) Len() int {
	s.lock()
	return len(s.a.Policy)
}

// Next advances to the next row, releasing the lock when the scan is
// exhausted.
func (s *policyScanner) Next() (*Rule, bool) {
	if s.done {
		return nil, false
	}
	s.lock()
	s.idx++
	if s.idx >= len(s.a.Policy) {
		s.release()
		return nil, false
	}
	return s.a.Policy[s.idx], true
}

// Interrupt ends the scan early. Safe to call more than once, and safe
// after natural exhaustion.
func (s *policyScanner) Interrupt() {
	s.release()
}

func (s *policyScanner) release() {
	if s.locked {
		s.a.mu.RUnlock()
		s.locked = false
	}
	s.done = true
}
