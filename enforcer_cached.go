package permit

import (
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"
)

// CachedEnforcer memoizes decisions for all-string requests. Requests
// carrying non-string fields (attribute objects) bypass the cache, since
// their identity is not a stable key. Invalidation rides the enforcer's
// change hook, so every mutation path flushes the cache: batch and Named
// variants, the role helpers, reloads, and function registration included.
type CachedEnforcer struct {
	*Enforcer
	cache *ristretto.Cache
	ttl   time.Duration
}

// NewCachedEnforcer wraps a model the way NewEnforcer does and adds the
// decision cache. ttl 0 keeps entries until invalidation.
func NewCachedEnforcer(m *Model, ttl time.Duration, opts ...EnforcerOption) (*CachedEnforcer, error) {
	inner, err := NewEnforcer(m, opts...)
	if err != nil {
		return nil, err
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e6,
		MaxCost:     1 << 24,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	e := &CachedEnforcer{Enforcer: inner, cache: cache, ttl: ttl}
	inner.onChange = e.InvalidateCache
	return e, nil
}

// cacheKey flattens an all-string request. ok is false when any field is
// not a string.
func cacheKey(rvals []any) (string, bool) {
	var b strings.Builder
	for i, v := range rvals {
		s, ok := v.(string)
		if !ok {
			return "", false
		}
		if i > 0 {
			b.WriteString(fieldSeparator)
		}
		b.WriteString(s)
	}
	return b.String(), true
}

// Enforce answers from the cache when possible, falling back to a full
// evaluation and storing the outcome.
func (e *CachedEnforcer) Enforce(rvals ...any) (bool, error) {
	key, ok := cacheKey(rvals)
	if !ok {
		return e.Enforcer.Enforce(rvals...)
	}
	if cached, found := e.cache.Get(key); found {
		if b, isBool := cached.(bool); isBool {
			return b, nil
		}
	}
	res, err := e.Enforcer.Enforce(rvals...)
	if err != nil {
		return false, err
	}
	// Wait flushes the set buffer so a later invalidation cannot race an
	// in-flight write and resurrect a stale decision.
	e.cache.SetWithTTL(key, res, 1, e.ttl)
	e.cache.Wait()
	return res, nil
}

// InvalidateCache drops every memoized decision.
func (e *CachedEnforcer) InvalidateCache() {
	e.cache.Clear()
}
