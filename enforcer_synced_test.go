package permit

import (
	"sync"
	"testing"
	"time"
)

func TestSyncedEnforcerBasic(t *testing.T) {
	e, err := NewSyncedEnforcer(basicModel())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := e.AddPolicy("alice", "data1", "read"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	check(t, e, true, "alice", "data1", "read")
	check(t, e, false, "bob", "data1", "read")
}

func TestSyncedEnforcerConcurrentMix(t *testing.T) {
	e, err := NewSyncedEnforcer(basicModel())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, _ = e.AddPolicy("alice", "data1", "read")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if _, err := e.Enforce("alice", "data1", "read"); err != nil {
					t.Errorf("Enforce failed: %v", err)
					return
				}
			}
		}()
	}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sub := string(rune('a' + i))
			for j := 0; j < 20; j++ {
				if _, err := e.AddPolicy(sub, "data9", "read"); err != nil {
					t.Errorf("AddPolicy failed: %v", err)
					return
				}
				if _, err := e.RemovePolicy(sub, "data9", "read"); err != nil {
					t.Errorf("RemovePolicy failed: %v", err)
					return
				}
			}
		}(i)
	}
	wg.Wait()
	check(t, e, true, "alice", "data1", "read")
}

func TestSyncedEnforcerTryStartWriteTimeout(t *testing.T) {
	e, err := NewSyncedEnforcer(basicModel())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	e.SetLockTimeout(20 * time.Millisecond)

	e.StartWrite()
	defer e.EndWrite()

	if e.TryStartWrite() {
		t.Fatal("second writer must time out")
	}
	if e.TryStartRead() {
		t.Fatal("reader must time out while a writer holds the lock")
	}

	// A timed-out mutation is a safe no-op.
	ok, err := e.AddPolicy("alice", "data1", "read")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("timed-out AddPolicy must report no change")
	}
}

func TestSyncedEnforcerConcurrentReaders(t *testing.T) {
	e, err := NewSyncedEnforcer(basicModel())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !e.TryStartRead() {
		t.Fatal("first reader failed")
	}
	defer e.EndRead()
	if !e.TryStartRead() {
		t.Fatal("readers must be concurrent")
	}
	e.EndRead()
}

func TestSyncedEnforcerRoleAndBatchMutations(t *testing.T) {
	e, err := NewSyncedEnforcer(rbacModel())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := e.AddGroupingPolicies([][]string{{"alice", "admin"}, {"bob", "admin"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := e.AddPolicy("admin", "data1", "read"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	check(t, e, true, "alice", "data1", "read")
	check(t, e, true, "bob", "data1", "read")

	if _, err := e.DeleteRole("admin"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	check(t, e, false, "alice", "data1", "read")
	check(t, e, false, "bob", "data1", "read")
}

func TestSyncedEnforcerWrappedMutationsTimeOut(t *testing.T) {
	e, err := NewSyncedEnforcer(rbacModel())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, _ = e.AddGroupingPolicy("alice", "admin")
	e.SetLockTimeout(20 * time.Millisecond)

	e.StartWrite()
	defer e.EndWrite()

	// Every mutating wrapper must honor the lock, including the batch,
	// Named and role helpers.
	if ok, _ := e.AddGroupingPolicies([][]string{{"bob", "admin"}}); ok {
		t.Fatal("timed-out AddGroupingPolicies must report no change")
	}
	if ok, _ := e.AddNamedPolicy("p", "admin", "data1", "read"); ok {
		t.Fatal("timed-out AddNamedPolicy must report no change")
	}
	if ok, _ := e.DeleteRoleForUser("alice", "admin"); ok {
		t.Fatal("timed-out DeleteRoleForUser must report no change")
	}
	if ok, _ := e.DeleteRole("admin"); ok {
		t.Fatal("timed-out DeleteRole must report no change")
	}
	if ok, _ := e.RemoveGroupingPolicies([][]string{{"alice", "admin"}}); ok {
		t.Fatal("timed-out RemoveGroupingPolicies must report no change")
	}
}

func TestSyncedEnforcerAsyncMutation(t *testing.T) {
	e, err := NewSyncedEnforcer(basicModel())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := <-e.AddPolicyAsync("alice", "data1", "read"); err != nil {
		t.Fatalf("async add failed: %v", err)
	}
	check(t, e, true, "alice", "data1", "read")
	if err := <-e.RemovePolicyAsync("alice", "data1", "read"); err != nil {
		t.Fatalf("async remove failed: %v", err)
	}
	check(t, e, false, "alice", "data1", "read")
}
