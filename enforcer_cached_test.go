package permit

import (
	"testing"
	"time"
)

func TestCachedEnforcerDecisions(t *testing.T) {
	e, err := NewCachedEnforcer(basicModel(), time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, _ = e.AddPolicy("alice", "data1", "read")

	// Repeated evaluations must stay correct whether or not the cache is
	// hit in between.
	for i := 0; i < 3; i++ {
		check(t, e, true, "alice", "data1", "read")
		check(t, e, false, "alice", "data1", "write")
	}
}

func TestCachedEnforcerInvalidationOnMutation(t *testing.T) {
	e, err := NewCachedEnforcer(basicModel(), time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, _ = e.AddPolicy("alice", "data1", "read")
	check(t, e, true, "alice", "data1", "read")

	if _, err := e.RemovePolicy("alice", "data1", "read"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// A stale cached allow here would be a correctness bug.
	check(t, e, false, "alice", "data1", "read")

	if _, err := e.AddPolicy("alice", "data1", "read"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	check(t, e, true, "alice", "data1", "read")
}

func TestCachedEnforcerInvalidationOnBatchMutation(t *testing.T) {
	e, err := NewCachedEnforcer(basicModel(), time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := e.AddPolicies([][]string{{"alice", "data1", "read"}, {"bob", "data2", "write"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	check(t, e, true, "alice", "data1", "read")
	check(t, e, true, "bob", "data2", "write")

	// Batch removal routes through the embedded enforcer, not an override;
	// the cached allow must still be flushed.
	if _, err := e.RemovePolicies([][]string{{"alice", "data1", "read"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	check(t, e, false, "alice", "data1", "read")
	check(t, e, true, "bob", "data2", "write")
}

func TestCachedEnforcerInvalidationOnRoleMutation(t *testing.T) {
	e, err := NewCachedEnforcer(rbacModel(), time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, _ = e.AddPolicy("admin", "data1", "read")
	if _, err := e.AddRoleForUser("alice", "admin"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	check(t, e, true, "alice", "data1", "read")

	// Revoking the role must not leave the allow decision in the cache.
	if _, err := e.DeleteRoleForUser("alice", "admin"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	check(t, e, false, "alice", "data1", "read")

	if _, err := e.AddRoleForUser("alice", "admin"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	check(t, e, true, "alice", "data1", "read")

	if _, err := e.DeleteRole("admin"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	check(t, e, false, "alice", "data1", "read")
}

func TestCachedEnforcerInvalidationOnEnforceToggle(t *testing.T) {
	e, err := NewCachedEnforcer(basicModel(), time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	check(t, e, false, "alice", "data1", "read")

	e.EnableEnforce(false)
	check(t, e, true, "alice", "data1", "read")

	e.EnableEnforce(true)
	check(t, e, false, "alice", "data1", "read")
}

func TestCachedEnforcerNonStringRequestsBypass(t *testing.T) {
	m := NewModel()
	m.AddDef("r", "r", "sub, obj, act")
	m.AddDef("p", "p", "sub, obj, act")
	m.AddDef("e", "e", "some(where (p.eft == allow))")
	m.AddDef("m", "m", "r.sub.Age > 18 && r.obj == p.obj && r.act == p.act")
	e, err := NewCachedEnforcer(m, time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, _ = e.AddPolicy("any", "/data1", "read")

	// Two distinct subjects with equal string forms must not share a
	// cached decision.
	check(t, e, true, testSubject{Name: "a", Age: 30}, "/data1", "read")
	check(t, e, false, testSubject{Name: "a", Age: 10}, "/data1", "read")
}

func TestCacheKey(t *testing.T) {
	key, ok := cacheKey([]any{"alice", "data1", "read"})
	if !ok || key == "" {
		t.Fatalf("expected a key for an all-string request, got %q %v", key, ok)
	}
	if _, ok := cacheKey([]any{"alice", 42}); ok {
		t.Fatal("non-string fields must not produce a key")
	}
}
