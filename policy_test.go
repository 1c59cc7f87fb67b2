package permit

import "testing"

func TestAddPolicyRejectsDuplicates(t *testing.T) {
	m := basicModel()
	a, _ := m.GetAssertion("p", "p")
	rule := newStringRule([]string{"alice", "data1", "read"})
	if err := a.addPolicy(rule); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := a.addPolicy(newStringRule([]string{"alice", "data1", "read"})); err == nil {
		t.Fatal("duplicate row must be rejected")
	}
	if len(a.Policy) != 1 {
		t.Fatalf("expected 1 row, got %d", len(a.Policy))
	}
}

func TestRemoveThenReAdd(t *testing.T) {
	m := basicModel()
	a, _ := m.GetAssertion("p", "p")
	rule := newStringRule([]string{"alice", "data1", "read"})
	if err := a.addPolicy(rule); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !a.removePolicy(rule) {
		t.Fatal("expected removal to report true")
	}
	if a.removePolicy(rule) {
		t.Fatal("second removal must report false")
	}
	if err := a.addPolicy(rule); err != nil {
		t.Fatalf("re-add after remove failed: %v", err)
	}
}

func TestPriorityInsertOrder(t *testing.T) {
	m := NewModel()
	m.AddDef("p", "p", "priority, sub, obj, act")
	a, _ := m.GetAssertion("p", "p")

	rows := [][]string{
		{"10", "alice", "data1", "read"},
		{"1", "root", "data1", "read"},
		{"5", "bob", "data1", "read"},
		{"5", "carol", "data1", "read"},
	}
	for _, row := range rows {
		if err := a.addPolicy(newStringRule(row)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	var subjects []string
	for _, rule := range a.getPolicy() {
		s, _ := rule.Field(1)
		subjects = append(subjects, s)
	}
	want := []string{"root", "bob", "carol", "alice"}
	for i := range want {
		if subjects[i] != want[i] {
			t.Fatalf("position %d: expected %s, got %s (order %v)", i, want[i], subjects[i], subjects)
		}
	}

	// The text index must agree with list positions after shifting.
	for i, rule := range a.Policy {
		if a.policyIndex[rule.Text()] != i {
			t.Fatalf("index out of sync at position %d", i)
		}
	}
}

func TestGetFilteredPolicyWildcards(t *testing.T) {
	m := basicModel()
	a, _ := m.GetAssertion("p", "p")
	seed := [][]string{
		{"alice", "data1", "read"},
		{"alice", "data2", "write"},
		{"bob", "data2", "write"},
	}
	for _, row := range seed {
		if err := a.addPolicy(newStringRule(row)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	got := a.getFilteredPolicy(0, "alice")
	if len(got) != 2 {
		t.Fatalf("expected 2 alice rows, got %d", len(got))
	}
	got = a.getFilteredPolicy(1, "data2", "write")
	if len(got) != 2 {
		t.Fatalf("expected 2 data2/write rows, got %d", len(got))
	}
	got = a.getFilteredPolicy(0, "", "data2")
	if len(got) != 2 {
		t.Fatalf("blank field must match anything, got %d rows", len(got))
	}
}

func TestRemoveFilteredPolicyAllBlankIsNoop(t *testing.T) {
	m := basicModel()
	a, _ := m.GetAssertion("p", "p")
	if err := a.addPolicy(newStringRule([]string{"alice", "data1", "read"})); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if removed := a.removeFilteredPolicy(0, "", "", ""); len(removed) != 0 {
		t.Fatal("an all-blank filter must not delete anything")
	}
	if len(a.Policy) != 1 {
		t.Fatalf("expected the row to survive, got %d rows", len(a.Policy))
	}
}

func TestUpdatePolicyInPlace(t *testing.T) {
	m := basicModel()
	a, _ := m.GetAssertion("p", "p")
	_ = a.addPolicy(newStringRule([]string{"alice", "data1", "read"}))
	_ = a.addPolicy(newStringRule([]string{"bob", "data2", "write"}))

	oldRule := newStringRule([]string{"alice", "data1", "read"})
	newRule := newStringRule([]string{"alice", "data1", "write"})
	if err := a.updatePolicy(oldRule, newRule); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.policyIndex[newRule.Text()] != 0 {
		t.Fatal("update must keep list position")
	}
	if err := a.updatePolicy(newRule, newStringRule([]string{"bob", "data2", "write"})); err == nil {
		t.Fatal("update into an existing row must be rejected")
	}
	if err := a.updatePolicy(oldRule, newRule); err == nil {
		t.Fatal("updating an absent row must fail")
	}
}

func TestScannerInterruptReleasesLock(t *testing.T) {
	m := basicModel()
	a, _ := m.GetAssertion("p", "p")
	for _, row := range [][]string{
		{"alice", "data1", "read"},
		{"bob", "data2", "write"},
	} {
		_ = a.addPolicy(newStringRule(row))
	}

	s := a.scan()
	if s.Len() != 2 {
		t.Fatalf("expected 2 rows, got %d", s.Len())
	}
	if _, ok := s.Next(); !ok {
		t.Fatal("expected a first row")
	}
	s.Interrupt()
	s.Interrupt() // idempotent

	// A writer must be able to proceed after the interrupt.
	if err := a.addPolicy(newStringRule([]string{"carol", "data3", "read"})); err != nil {
		t.Fatalf("write after interrupt failed: %v", err)
	}
}

func TestScannerNaturalExhaustion(t *testing.T) {
	m := basicModel()
	a, _ := m.GetAssertion("p", "p")
	_ = a.addPolicy(newStringRule([]string{"alice", "data1", "read"}))

	s := a.scan()
	count := 0
	for {
		_, ok := s.Next()
		if !ok {
			break
		}
		count++
	}
	if count != 1 {
		t.Fatalf("expected 1 row, got %d", count)
	}
	// The lock must already be released.
	if err := a.addPolicy(newStringRule([]string{"bob", "data2", "write"})); err != nil {
		t.Fatalf("write after exhaustion failed: %v", err)
	}
}
