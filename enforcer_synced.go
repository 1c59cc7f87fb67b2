package permit

import (
	"sync"
	"time"
)

// SyncedEnforcer serializes policy mutations against concurrent decisions
// with one process-wide reader/writer lock. Lock acquisition is bounded:
// operations give up after the configured timeout instead of blocking
// forever, returning false (reads) or reporting no change (writes).
type SyncedEnforcer struct {
	*Enforcer
	lock        sync.RWMutex
	lockTimeout time.Duration
}

const defaultLockTimeout = 10 * time.Second

// NewSyncedEnforcer wraps a model the same way NewEnforcer does and adds
// the lock.
func NewSyncedEnforcer(m *Model, opts ...EnforcerOption) (*SyncedEnforcer, error) {
	inner, err := NewEnforcer(m, opts...)
	if err != nil {
		return nil, err
	}
	return &SyncedEnforcer{Enforcer: inner, lockTimeout: defaultLockTimeout}, nil
}

// SetLockTimeout bounds how long operations wait for the lock.
func (e *SyncedEnforcer) SetLockTimeout(d time.Duration) {
	if d > 0 {
		e.lockTimeout = d
	}
}

// tryAcquire polls try until it succeeds or the timeout passes.
func (e *SyncedEnforcer) tryAcquire(try func() bool) bool {
	deadline := time.Now().Add(e.lockTimeout)
	for {
		if try() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(time.Millisecond)
	}
}

// TryStartRead acquires the read lock, bounded by the timeout. Callers
// must pair a successful acquisition with EndRead.
func (e *SyncedEnforcer) TryStartRead() bool { return e.tryAcquire(e.lock.TryRLock) }

// TryStartWrite acquires the write lock, bounded by the timeout. Callers
// must pair a successful acquisition with EndWrite.
func (e *SyncedEnforcer) TryStartWrite() bool { return e.tryAcquire(e.lock.TryLock) }

func (e *SyncedEnforcer) StartRead()  { e.lock.RLock() }
func (e *SyncedEnforcer) EndRead()    { e.lock.RUnlock() }
func (e *SyncedEnforcer) StartWrite() { e.lock.Lock() }
func (e *SyncedEnforcer) EndWrite()   { e.lock.Unlock() }

// Enforce decides under the read lock. Lock timeout denies.
func (e *SyncedEnforcer) Enforce(rvals ...any) (bool, error) {
	if !e.TryStartRead() {
		return false, nil
	}
	defer e.EndRead()
	return e.Enforcer.Enforce(rvals...)
}

func (e *SyncedEnforcer) EnforceEx(rvals ...any) (bool, []string, error) {
	if !e.TryStartRead() {
		return false, nil, nil
	}
	defer e.EndRead()
	return e.Enforcer.EnforceEx(rvals...)
}

func (e *SyncedEnforcer) EnforceWithMatcher(matcher string, rvals ...any) (bool, error) {
	if !e.TryStartRead() {
		return false, nil
	}
	defer e.EndRead()
	return e.Enforcer.EnforceWithMatcher(matcher, rvals...)
}

func (e *SyncedEnforcer) BatchEnforce(requests [][]any) ([]bool, error) {
	if !e.TryStartRead() {
		return make([]bool, len(requests)), nil
	}
	defer e.EndRead()
	return e.Enforcer.BatchEnforce(requests)
}

func (e *SyncedEnforcer) GetPolicy() [][]string {
	if !e.TryStartRead() {
		return nil
	}
	defer e.EndRead()
	return e.Enforcer.GetPolicy()
}

func (e *SyncedEnforcer) GetGroupingPolicy() [][]string {
	if !e.TryStartRead() {
		return nil
	}
	defer e.EndRead()
	return e.Enforcer.GetGroupingPolicy()
}

func (e *SyncedEnforcer) HasPolicy(fields ...string) bool {
	if !e.TryStartRead() {
		return false
	}
	defer e.EndRead()
	return e.Enforcer.HasPolicy(fields...)
}

func (e *SyncedEnforcer) HasGroupingPolicy(fields ...string) bool {
	if !e.TryStartRead() {
		return false
	}
	defer e.EndRead()
	return e.Enforcer.HasGroupingPolicy(fields...)
}

func (e *SyncedEnforcer) GetFilteredPolicy(fieldIndex int, fieldValues ...string) [][]string {
	if !e.TryStartRead() {
		return nil
	}
	defer e.EndRead()
	return e.Enforcer.GetFilteredPolicy(fieldIndex, fieldValues...)
}

func (e *SyncedEnforcer) GetRolesForUser(user string, domains ...string) ([]string, error) {
	if !e.TryStartRead() {
		return nil, nil
	}
	defer e.EndRead()
	return e.Enforcer.GetRolesForUser(user, domains...)
}

func (e *SyncedEnforcer) GetUsersForRole(role string, domains ...string) ([]string, error) {
	if !e.TryStartRead() {
		return nil, nil
	}
	defer e.EndRead()
	return e.Enforcer.GetUsersForRole(role, domains...)
}

// write runs one mutation under the write lock. Lock timeout reports no
// change, a safe no-op.
func (e *SyncedEnforcer) write(fn func() (bool, error)) (bool, error) {
	if !e.TryStartWrite() {
		return false, nil
	}
	defer e.EndWrite()
	return fn()
}

func (e *SyncedEnforcer) AddPolicy(fields ...string) (bool, error) {
	return e.write(func() (bool, error) { return e.Enforcer.AddPolicy(fields...) })
}

func (e *SyncedEnforcer) AddNamedPolicy(ptype string, fields ...string) (bool, error) {
	return e.write(func() (bool, error) { return e.Enforcer.AddNamedPolicy(ptype, fields...) })
}

func (e *SyncedEnforcer) AddPolicies(rules [][]string) (bool, error) {
	return e.write(func() (bool, error) { return e.Enforcer.AddPolicies(rules) })
}

func (e *SyncedEnforcer) AddNamedPolicies(ptype string, rules [][]string) (bool, error) {
	return e.write(func() (bool, error) { return e.Enforcer.AddNamedPolicies(ptype, rules) })
}

func (e *SyncedEnforcer) AddGroupingPolicy(fields ...string) (bool, error) {
	return e.write(func() (bool, error) { return e.Enforcer.AddGroupingPolicy(fields...) })
}

func (e *SyncedEnforcer) AddNamedGroupingPolicy(ptype string, fields ...string) (bool, error) {
	return e.write(func() (bool, error) { return e.Enforcer.AddNamedGroupingPolicy(ptype, fields...) })
}

func (e *SyncedEnforcer) AddGroupingPolicies(rules [][]string) (bool, error) {
	return e.write(func() (bool, error) { return e.Enforcer.AddGroupingPolicies(rules) })
}

func (e *SyncedEnforcer) RemovePolicy(fields ...string) (bool, error) {
	return e.write(func() (bool, error) { return e.Enforcer.RemovePolicy(fields...) })
}

func (e *SyncedEnforcer) RemoveNamedPolicy(ptype string, fields ...string) (bool, error) {
	return e.write(func() (bool, error) { return e.Enforcer.RemoveNamedPolicy(ptype, fields...) })
}

func (e *SyncedEnforcer) RemovePolicies(rules [][]string) (bool, error) {
	return e.write(func() (bool, error) { return e.Enforcer.RemovePolicies(rules) })
}

func (e *SyncedEnforcer) RemoveGroupingPolicy(fields ...string) (bool, error) {
	return e.write(func() (bool, error) { return e.Enforcer.RemoveGroupingPolicy(fields...) })
}

func (e *SyncedEnforcer) RemoveNamedGroupingPolicy(ptype string, fields ...string) (bool, error) {
	return e.write(func() (bool, error) { return e.Enforcer.RemoveNamedGroupingPolicy(ptype, fields...) })
}

func (e *SyncedEnforcer) RemoveGroupingPolicies(rules [][]string) (bool, error) {
	return e.write(func() (bool, error) { return e.Enforcer.RemoveGroupingPolicies(rules) })
}

func (e *SyncedEnforcer) RemoveFilteredPolicy(fieldIndex int, fieldValues ...string) (bool, error) {
	return e.write(func() (bool, error) { return e.Enforcer.RemoveFilteredPolicy(fieldIndex, fieldValues...) })
}

func (e *SyncedEnforcer) RemoveFilteredNamedPolicy(ptype string, fieldIndex int, fieldValues ...string) (bool, error) {
	return e.write(func() (bool, error) { return e.Enforcer.RemoveFilteredNamedPolicy(ptype, fieldIndex, fieldValues...) })
}

func (e *SyncedEnforcer) RemoveFilteredGroupingPolicy(fieldIndex int, fieldValues ...string) (bool, error) {
	return e.write(func() (bool, error) { return e.Enforcer.RemoveFilteredGroupingPolicy(fieldIndex, fieldValues...) })
}

func (e *SyncedEnforcer) UpdatePolicy(oldFields, newFields []string) (bool, error) {
	return e.write(func() (bool, error) { return e.Enforcer.UpdatePolicy(oldFields, newFields) })
}

func (e *SyncedEnforcer) UpdateNamedPolicy(ptype string, oldFields, newFields []string) (bool, error) {
	return e.write(func() (bool, error) { return e.Enforcer.UpdateNamedPolicy(ptype, oldFields, newFields) })
}

func (e *SyncedEnforcer) AddRoleForUser(user, role string, domains ...string) (bool, error) {
	return e.write(func() (bool, error) { return e.Enforcer.AddRoleForUser(user, role, domains...) })
}

func (e *SyncedEnforcer) DeleteRoleForUser(user, role string, domains ...string) (bool, error) {
	return e.write(func() (bool, error) { return e.Enforcer.DeleteRoleForUser(user, role, domains...) })
}

func (e *SyncedEnforcer) DeleteRolesForUser(user string, domains ...string) (bool, error) {
	return e.write(func() (bool, error) { return e.Enforcer.DeleteRolesForUser(user, domains...) })
}

func (e *SyncedEnforcer) DeleteRole(role string) (bool, error) {
	return e.write(func() (bool, error) { return e.Enforcer.DeleteRole(role) })
}

func (e *SyncedEnforcer) DeletePermissionsForUser(user string) (bool, error) {
	return e.write(func() (bool, error) { return e.Enforcer.DeletePermissionsForUser(user) })
}

func (e *SyncedEnforcer) ClearPolicy() {
	if !e.TryStartWrite() {
		return
	}
	defer e.EndWrite()
	e.Enforcer.ClearPolicy()
}

func (e *SyncedEnforcer) LoadFilteredPolicy(filter Filter) error {
	if !e.TryStartWrite() {
		return nil
	}
	defer e.EndWrite()
	return e.Enforcer.LoadFilteredPolicy(filter)
}

func (e *SyncedEnforcer) LoadPolicy() error {
	if !e.TryStartWrite() {
		return nil
	}
	defer e.EndWrite()
	return e.Enforcer.LoadPolicy()
}

func (e *SyncedEnforcer) SavePolicy() error {
	if !e.TryStartWrite() {
		return nil
	}
	defer e.EndWrite()
	return e.Enforcer.SavePolicy()
}

// AddPolicyAsync applies the mutation on a background goroutine under the
// same lock. Scheduling convenience only; consistency is identical to the
// synchronous form. The returned channel delivers the result.
func (e *SyncedEnforcer) AddPolicyAsync(fields ...string) <-chan error {
	done := make(chan error, 1)
	go func() {
		_, err := e.AddPolicy(fields...)
		done <- err
	}()
	return done
}

// RemovePolicyAsync is the background form of RemovePolicy.
func (e *SyncedEnforcer) RemovePolicyAsync(fields ...string) <-chan error {
	done := make(chan error, 1)
	go func() {
		_, err := e.RemovePolicy(fields...)
		done <- err
	}()
	return done
}
