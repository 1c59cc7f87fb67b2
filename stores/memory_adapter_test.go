package stores

import (
	"errors"
	"testing"

	"github.com/oarkflow/permit"
)

func testModel() *permit.Model {
	m := permit.NewModel()
	m.AddDef("r", "r", "sub, obj, act")
	m.AddDef("p", "p", "sub, obj, act")
	m.AddDef("g", "g", "_, _")
	m.AddDef("e", "e", "some(where (p.eft == allow))")
	m.AddDef("m", "m", "g(r.sub, p.sub) && r.obj == p.obj && r.act == p.act")
	return m
}

func TestMemoryAdapterAutoSaveRoundTrip(t *testing.T) {
	a := NewMemoryAdapter()
	e, err := permit.NewEnforcer(testModel(), permit.WithAdapter(a))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := e.AddPolicy("admin", "data1", "read"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := e.AddGroupingPolicy("alice", "admin"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Len() != 2 {
		t.Fatalf("auto-save should have persisted 2 rows, got %d", a.Len())
	}

	// A second enforcer on the same adapter sees the same decisions.
	e2, err := permit.NewEnforcer(testModel(), permit.WithAdapter(a))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ok, err := e2.Enforce("alice", "data1", "read")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("persisted rows did not survive the reload")
	}
}

func TestMemoryAdapterAutoSaveDisabled(t *testing.T) {
	a := NewMemoryAdapter()
	e, err := permit.NewEnforcer(testModel(), permit.WithAdapter(a), permit.WithAutoSave(false))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := e.AddPolicy("admin", "data1", "read"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Len() != 0 {
		t.Fatalf("auto-save disabled, expected 0 stored rows, got %d", a.Len())
	}
	if err := e.SavePolicy(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Len() != 1 {
		t.Fatalf("SavePolicy should have written 1 row, got %d", a.Len())
	}
}

func TestMemoryAdapterFilteredLoadIsSticky(t *testing.T) {
	a := NewMemoryAdapter()
	seed, err := permit.NewEnforcer(testModel(), permit.WithAdapter(a))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, _ = seed.AddPolicy("admin", "data1", "read")
	_, _ = seed.AddPolicy("viewer", "data2", "read")

	e, err := permit.NewEnforcer(testModel(), permit.WithAdapter(a))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := e.LoadFilteredPolicy(permit.Filter{"p": {"admin"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !e.IsFiltered() {
		t.Fatal("enforcer must report filtered after a filtered load")
	}
	if rows := e.GetPolicy(); len(rows) != 1 {
		t.Fatalf("expected only the admin row, got %v", rows)
	}
	// Saving a filtered subset would truncate the store.
	if err := e.SavePolicy(); err == nil {
		t.Fatal("SavePolicy after a filtered load must be refused")
	}
	if a.Len() != 2 {
		t.Fatalf("store rows must be untouched, got %d", a.Len())
	}
}

func TestMemoryAdapterUpdateAndFilteredRemove(t *testing.T) {
	a := NewMemoryAdapter()
	e, err := permit.NewEnforcer(testModel(), permit.WithAdapter(a))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, _ = e.AddPolicy("alice", "data1", "read")
	_, _ = e.AddPolicy("alice", "data2", "read")
	_, _ = e.AddPolicy("bob", "data2", "write")

	if _, err := e.UpdatePolicy([]string{"bob", "data2", "write"}, []string{"bob", "data2", "read"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := e.RemoveFilteredPolicy(0, "alice"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Len() != 1 {
		t.Fatalf("expected 1 stored row, got %d", a.Len())
	}

	e2, err := permit.NewEnforcer(testModel(), permit.WithAdapter(a))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ok, _ := e2.Enforce("bob", "data2", "read")
	if !ok {
		t.Fatal("updated row did not persist")
	}
}

// A partial adapter: everything except single-row writes.
type loadOnlyAdapter struct {
	*MemoryAdapter
}

func (a *loadOnlyAdapter) AddPolicy(sec, ptype string, rule []string) error {
	return permit.ErrNotImplemented
}

func TestUnsupportedPersistKeepsInMemoryMutation(t *testing.T) {
	a := &loadOnlyAdapter{MemoryAdapter: NewMemoryAdapter()}
	e, err := permit.NewEnforcer(testModel(), permit.WithAdapter(a))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ok, err := e.AddPolicy("alice", "data1", "read")
	if err != nil {
		t.Fatalf("an unsupported persist operation must not surface: %v", err)
	}
	if !ok {
		t.Fatal("in-memory mutation must stand")
	}
	if !e.HasPolicy("alice", "data1", "read") {
		t.Fatal("row missing from memory")
	}
	if a.Len() != 0 {
		t.Fatal("nothing should have been stored")
	}
}

func TestErrNotImplementedSentinel(t *testing.T) {
	a := &loadOnlyAdapter{MemoryAdapter: NewMemoryAdapter()}
	if !errors.Is(a.AddPolicy("p", "p", nil), permit.ErrNotImplemented) {
		t.Fatal("sentinel mismatch")
	}
}
