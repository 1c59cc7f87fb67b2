package permit

import "errors"

// ErrNotImplemented is returned by adapters for operations they do not
// support. The enforcer treats it as "no persistence here" and keeps the
// in-memory mutation without logging.
var ErrNotImplemented = errors.New("not implemented")

// ErrInvalidRule wraps rejections of malformed rows: wrong arity or a
// duplicate of a stored row.
var ErrInvalidRule = errors.New("invalid rule")

// Adapter loads and saves the full policy set of a model.
type Adapter interface {
	// LoadPolicy reads every stored row into the model.
	LoadPolicy(m *Model) error
	// SavePolicy writes the model's rows, replacing whatever is stored.
	SavePolicy(m *Model) error
	// AddPolicy persists one new row. sec is "p" or "g", ptype the
	// definition key.
	AddPolicy(sec, ptype string, rule []string) error
	// RemovePolicy deletes one stored row.
	RemovePolicy(sec, ptype string, rule []string) error
	// RemoveFilteredPolicy deletes stored rows matching field values from
	// fieldIndex onward; empty strings match anything.
	RemoveFilteredPolicy(sec, ptype string, fieldIndex int, fieldValues ...string) error
}

// BatchAdapter persists several rows in one call.
type BatchAdapter interface {
	Adapter
	AddPolicies(sec, ptype string, rules [][]string) error
	RemovePolicies(sec, ptype string, rules [][]string) error
}

// UpdatableAdapter persists in-place row replacement.
type UpdatableAdapter interface {
	Adapter
	UpdatePolicy(sec, ptype string, oldRule, newRule []string) error
}

// Filter selects rows per definition key when loading a subset of a large
// policy store. Field values are positional; empty strings match anything.
type Filter map[string][]string

// FilteredAdapter loads only the rows a filter selects. A filtered load
// marks the enforcer: SavePolicy is refused afterwards since it would
// truncate the store to the loaded subset.
type FilteredAdapter interface {
	Adapter
	LoadFilteredPolicy(m *Model, filter Filter) error
	IsFiltered() bool
}

// Watcher propagates policy-change notifications between enforcer
// instances sharing one store.
type Watcher interface {
	// SetUpdateCallback registers the function invoked when another
	// instance reports a change.
	SetUpdateCallback(fn func(string)) error
	// Update tells other instances to reload.
	Update() error
	// Close detaches the watcher.
	Close() error
}
