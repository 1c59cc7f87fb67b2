package permit

import (
	"sync"
	"testing"

	"github.com/oarkflow/permit/utils"
)

func TestRoleManagerTransitiveLinks(t *testing.T) {
	rm := NewRoleManager(10)
	_ = rm.AddLink("alice", "editor")
	_ = rm.AddLink("editor", "admin")

	for _, tc := range []struct {
		from, to string
		want     bool
	}{
		{"alice", "editor", true},
		{"alice", "admin", true},
		{"editor", "admin", true},
		{"admin", "alice", false},
		{"alice", "alice", true},
		{"bob", "admin", false},
	} {
		got, err := rm.HasLink(tc.from, tc.to)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != tc.want {
			t.Fatalf("HasLink(%s, %s): expected %v, got %v", tc.from, tc.to, tc.want, got)
		}
	}
}

func TestRoleManagerDepthBound(t *testing.T) {
	rm := NewRoleManager(3)
	_ = rm.AddLink("a", "b")
	_ = rm.AddLink("b", "c")
	_ = rm.AddLink("c", "d")
	_ = rm.AddLink("d", "e")

	has, _ := rm.HasLink("a", "c")
	if !has {
		t.Fatal("expected a to reach c within the bound")
	}
	has, _ = rm.HasLink("a", "e")
	if has {
		t.Fatal("a link beyond the depth bound must not be found")
	}
}

func TestRoleManagerCycleTerminates(t *testing.T) {
	rm := NewRoleManager(10)
	_ = rm.AddLink("a", "b")
	_ = rm.AddLink("b", "a")
	has, err := rm.HasLink("a", "c")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if has {
		t.Fatal("unreachable target reported reachable")
	}
}

func TestRoleManagerDeleteLink(t *testing.T) {
	rm := NewRoleManager(10)
	_ = rm.AddLink("alice", "admin")
	has, _ := rm.HasLink("alice", "admin")
	if !has {
		t.Fatal("expected link before delete")
	}
	_ = rm.DeleteLink("alice", "admin")
	has, _ = rm.HasLink("alice", "admin")
	if has {
		t.Fatal("link survived delete; the memoized answer must have been invalidated")
	}
}

func TestRoleManagerDomains(t *testing.T) {
	rm := NewRoleManager(10)
	_ = rm.AddLink("alice", "admin", "domain1")
	_ = rm.AddLink("alice", "viewer", "domain2")

	has, _ := rm.HasLink("alice", "admin", "domain1")
	if !has {
		t.Fatal("expected link in domain1")
	}
	has, _ = rm.HasLink("alice", "admin", "domain2")
	if has {
		t.Fatal("domain1 link leaked into domain2")
	}

	domains, _ := rm.GetDomains("alice")
	if len(domains) != 2 {
		t.Fatalf("expected alice in 2 domains, got %v", domains)
	}
}

func TestRoleManagerMatchingFunc(t *testing.T) {
	rm := NewRoleManager(10)
	_ = rm.AddLink("/book/1", "book_group")
	rm.AddMatchingFunc(utils.KeyMatch2)

	has, _ := rm.HasLink("/book/2", "book_group")
	if has {
		t.Fatal("unrelated key matched")
	}

	rm2 := NewRoleManager(10)
	_ = rm2.AddLink("book_admin", "/book/:id")
	rm2.AddMatchingFunc(utils.KeyMatch2)
	// Stored parent "/book/:id" must match a queried "/book/1".
	has, _ = rm2.HasLink("book_admin", "/book/1")
	if !has {
		t.Fatal("pattern parent did not match queried name")
	}
}

func TestRoleManagerMatchingFuncOnStoredNodes(t *testing.T) {
	rm := NewRoleManager(10)
	_ = rm.AddLink("/pen/:id", "pen_group")
	rm.AddMatchingFunc(utils.KeyMatch2)

	// Query "/pen/1" must resolve to the stored "/pen/:id" node.
	has, _ := rm.HasLink("/pen/1", "pen_group")
	if !has {
		t.Fatal("stored pattern node was not considered a candidate")
	}
}

func TestRoleManagerDomainMatchingFunc(t *testing.T) {
	rm := NewRoleManager(10)
	_ = rm.AddLink("alice", "admin", "*")
	rm.AddDomainMatchingFunc(utils.KeyMatch)

	has, _ := rm.HasLink("alice", "admin", "domain1")
	if !has {
		t.Fatal("wildcard domain must cover domain1")
	}
}

func TestRoleManagerCacheInvalidationOnMatcherChange(t *testing.T) {
	rm := NewRoleManager(10)
	_ = rm.AddLink("alice", "group-a")

	has, _ := rm.HasLink("alice", "group-*")
	if has {
		t.Fatal("no matcher configured yet, exact lookup must fail")
	}
	rm.AddMatchingFunc(utils.KeyMatch)
	has, _ = rm.HasLink("alice", "group-*")
	if !has {
		t.Fatal("memoized negative answer survived a matcher change")
	}
}

func TestRoleManagerGetRolesAndUsers(t *testing.T) {
	rm := NewRoleManager(10)
	_ = rm.AddLink("alice", "admin")
	_ = rm.AddLink("bob", "admin")

	roles, _ := rm.GetRoles("alice")
	if len(roles) != 1 || roles[0] != "admin" {
		t.Fatalf("expected [admin], got %v", roles)
	}
	users, _ := rm.GetUsers("admin")
	if len(users) != 2 {
		t.Fatalf("expected 2 users, got %v", users)
	}
	_ = rm.Clear()
	roles, _ = rm.GetRoles("alice")
	if len(roles) != 0 {
		t.Fatalf("expected no roles after clear, got %v", roles)
	}
}

func TestRoleManagerConcurrentMatcherSwap(t *testing.T) {
	rm := NewRoleManager(10)
	_ = rm.AddLink("alice", "admin")

	// HasLink reads the matching function on its fast path; swapping the
	// function concurrently must not race with queries.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			rm.AddMatchingFunc(utils.KeyMatch)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			has, err := rm.HasLink("alice", "admin")
			if err != nil || !has {
				t.Errorf("HasLink(alice, admin) = %v, %v", has, err)
				return
			}
		}
	}()
	wg.Wait()
}
