package permit

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// PolicyOp tells incremental role-link maintenance whether rows were added
// or removed.
type PolicyOp int

const (
	PolicyAdd PolicyOp = iota
	PolicyRemove
)

// Section keys of a model definition.
const (
	sectionRequest = "r"
	sectionPolicy  = "p"
	sectionRole    = "g"
	sectionEffect  = "e"
	sectionMatcher = "m"
)

// Assertion is one named definition inside a model section, together with
// the policy rows attached to it (for p and g sections) and the role
// manager bound to it (for g sections).
type Assertion struct {
	Section string
	Key     string
	Value   string

	// Tokens maps a prefixed token name such as "r_sub" or "p_obj" to its
	// positional index in the definition. tokenNames keeps the positional
	// order for callers that need it.
	Tokens     map[string]int
	tokenNames []string

	// priorityIndex is the position of the "priority" token in a policy
	// definition, or -1 when absent.
	priorityIndex int

	Policy      []*Rule
	policyIndex map[string]int

	RM RoleManager

	mu sync.RWMutex
}

func newAssertion(section, key, value string) *Assertion {
	return &Assertion{
		Section:       section,
		Key:           key,
		Value:         value,
		Tokens:        map[string]int{},
		priorityIndex: -1,
		policyIndex:   map[string]int{},
	}
}

// buildRoleLinks clears the bound role manager and replays every stored
// grouping row into it.
func (a *Assertion) buildRoleLinks(rm RoleManager) error {
	a.RM = rm
	count := strings.Count(a.Value, "_")
	if count < 2 {
		return fmt.Errorf("grouping definition %q must reference at least two arguments", a.Key)
	}
	for _, rule := range a.Policy {
		if err := a.addRoleLink(rule, count); err != nil {
			return err
		}
	}
	return nil
}

func (a *Assertion) addRoleLink(rule *Rule, count int) error {
	if rule.Len() < count {
		return fmt.Errorf("grouping rule %q has fewer fields than definition %q requires", rule.Text(), a.Key)
	}
	fields := rule.Strings()
	switch {
	case count == 2:
		return a.RM.AddLink(fields[0], fields[1])
	default:
		return a.RM.AddLink(fields[0], fields[1], fields[2:count]...)
	}
}

func (a *Assertion) removeRoleLink(rule *Rule, count int) error {
	if rule.Len() < count {
		return fmt.Errorf("grouping rule %q has fewer fields than definition %q requires", rule.Text(), a.Key)
	}
	fields := rule.Strings()
	if count == 2 {
		return a.RM.DeleteLink(fields[0], fields[1])
	}
	return a.RM.DeleteLink(fields[0], fields[1], fields[2:count]...)
}

// buildIncrementalRoleLinks applies just the given rows to the role manager
// instead of rebuilding the whole graph.
func (a *Assertion) buildIncrementalRoleLinks(op PolicyOp, rules []*Rule) error {
	if a.RM == nil {
		return nil
	}
	count := strings.Count(a.Value, "_")
	if count < 2 {
		return fmt.Errorf("grouping definition %q must reference at least two arguments", a.Key)
	}
	for _, rule := range rules {
		var err error
		if op == PolicyAdd {
			err = a.addRoleLink(rule, count)
		} else {
			err = a.removeRoleLink(rule, count)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Model holds the declarative configuration: request and policy shapes,
// grouping definitions, effect expressions and matcher expressions, plus
// the policy rows loaded against them.
type Model struct {
	sections map[string]map[string]*Assertion
}

// NewModel returns an empty model.
func NewModel() *Model {
	return &Model{sections: map[string]map[string]*Assertion{}}
}

// AddDef registers one definition line, e.g. AddDef("r", "r", "sub, obj, act")
// or AddDef("m", "m", "r.sub == p.sub && r.obj == p.obj"). Returns false when
// the value is empty.
func (m *Model) AddDef(section, key, value string) bool {
	if value == "" {
		return false
	}
	a := newAssertion(section, key, value)
	switch section {
	case sectionRequest, sectionPolicy:
		tokens := strings.Split(value, ",")
		for i, tok := range tokens {
			name := key + "_" + strings.TrimSpace(tok)
			a.Tokens[name] = i
			a.tokenNames = append(a.tokenNames, name)
			if strings.TrimSpace(tok) == "priority" {
				a.priorityIndex = i
			}
		}
	case sectionEffect, sectionMatcher:
		a.Value = escapeAssertion(value)
	}
	if m.sections[section] == nil {
		m.sections[section] = map[string]*Assertion{}
	}
	m.sections[section][key] = a
	return true
}

// GetAssertion looks up a definition by section and key.
func (m *Model) GetAssertion(section, key string) (*Assertion, bool) {
	defs, ok := m.sections[section]
	if !ok {
		return nil, false
	}
	a, ok := defs[key]
	return a, ok
}

// requireAssertion is GetAssertion with a config error on absence.
func (m *Model) requireAssertion(section, key string) (*Assertion, error) {
	a, ok := m.GetAssertion(section, key)
	if !ok {
		return nil, fmt.Errorf("model has no definition %s.%s", section, key)
	}
	return a, nil
}

// sectionKeys returns the sorted definition keys of one section.
func (m *Model) sectionKeys(section string) []string {
	defs := m.sections[section]
	keys := make([]string, 0, len(defs))
	for k := range defs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// BuildRoleLinks rebuilds every grouping graph from scratch: all managers
// are cleared first so no stale edge survives, then every stored row is
// replayed.
func (m *Model) BuildRoleLinks(rmMap map[string]RoleManager) error {
	for _, rm := range rmMap {
		if err := rm.Clear(); err != nil {
			return err
		}
	}
	for key, a := range m.sections[sectionRole] {
		rm, ok := rmMap[key]
		if !ok {
			continue
		}
		if err := a.buildRoleLinks(rm); err != nil {
			return err
		}
	}
	return nil
}

// BuildIncrementalRoleLinks folds one batch of grouping-row changes into
// the matching role manager.
func (m *Model) BuildIncrementalRoleLinks(rmMap map[string]RoleManager, op PolicyOp, key string, rules []*Rule) error {
	a, ok := m.GetAssertion(sectionRole, key)
	if !ok {
		return fmt.Errorf("model has no definition g.%s", key)
	}
	if rm, found := rmMap[key]; found {
		a.RM = rm
	}
	return a.buildIncrementalRoleLinks(op, rules)
}

// ClearPolicy drops every stored row in every p and g definition. The
// definitions themselves stay.
func (m *Model) ClearPolicy() {
	for _, section := range []string{sectionPolicy, sectionRole} {
		for _, a := range m.sections[section] {
			a.mu.Lock()
			a.Policy = nil
			a.policyIndex = map[string]int{}
			a.mu.Unlock()
		}
	}
}

// String renders the model back into its section/key/value lines, mostly
// for logging and debugging.
func (m *Model) String() string {
	var b strings.Builder
	for _, section := range []string{sectionRequest, sectionPolicy, sectionRole, sectionEffect, sectionMatcher} {
		for _, key := range m.sectionKeys(section) {
			a := m.sections[section][key]
			b.WriteString(section)
			if key != section {
				b.WriteString(key)
			}
			b.WriteString(" = ")
			b.WriteString(a.Value)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// AddRow inserts one stored row during adapter loading. Rows failing the
// arity check or duplicating an existing row are rejected.
func (m *Model) AddRow(sec, ptype string, fields []string) error {
	a, err := m.requireAssertion(sec, ptype)
	if err != nil {
		return err
	}
	return a.addPolicy(newStringRule(fields))
}

// Rows returns the string form of every stored row of one definition, for
// adapters writing the model out.
func (m *Model) Rows(sec, ptype string) [][]string {
	a, ok := m.GetAssertion(sec, ptype)
	if !ok {
		return nil
	}
	rules := a.getPolicy()
	out := make([][]string, len(rules))
	for i, r := range rules {
		out[i] = r.Strings()
	}
	return out
}

// Keys lists the definition keys of one section, sorted.
func (m *Model) Keys(section string) []string {
	return m.sectionKeys(section)
}

// tokenIndex resolves a prefixed token name like "p_eft" against a policy
// definition, returning -1 when the token is not declared.
func (a *Assertion) tokenIndex(name string) int {
	if i, ok := a.Tokens[name]; ok {
		return i
	}
	return -1
}

// priorityValue parses the priority field of a row. Rows in a definition
// without a priority token report ok=false.
func (a *Assertion) priorityValue(rule *Rule) (int, bool) {
	if a.priorityIndex < 0 || a.priorityIndex >= rule.Len() {
		return 0, false
	}
	text, err := rule.Field(a.priorityIndex)
	if err != nil {
		return 0, false
	}
	n, err := strconv.Atoi(text)
	if err != nil {
		return 0, false
	}
	return n, true
}
