package permit

import (
	"fmt"
	"sort"
	"sync"

	"github.com/Knetic/govaluate"

	"github.com/oarkflow/permit/logger"
)

// Enforcer binds a model, its policy rows, role managers, the expression
// pool and an effect combinator into the decision API. One enforcer owns
// its caches; nothing here is process-global.
type Enforcer struct {
	model    *Model
	adapter  Adapter
	watcher  Watcher
	rmMap    map[string]RoleManager
	pool     *matcherPool
	effector Effector
	logger   logger.Logger

	enabled            bool
	autoSave           bool
	autoBuildRoleLinks bool
	autoNotifyWatcher  bool
	isFiltered         bool

	// onChange fires after anything that can alter decisions: row
	// mutations, reloads, role-link rebuilds, function registration,
	// toggling enforcement. Wrappers hook in here; mutations that route
	// through embedded methods still reach it.
	onChange func()
}

func (e *Enforcer) changed() {
	if e.onChange != nil {
		e.onChange()
	}
}

// EnforcerOption configures an enforcer at construction time.
type EnforcerOption func(*Enforcer)

// WithLogger attaches a logger. The default discards everything.
func WithLogger(l logger.Logger) EnforcerOption {
	return func(e *Enforcer) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithAdapter attaches a persistence adapter. Policy is loaded from it
// during construction.
func WithAdapter(a Adapter) EnforcerOption {
	return func(e *Enforcer) { e.adapter = a }
}

// WithWatcher attaches a change watcher.
func WithWatcher(w Watcher) EnforcerOption {
	return func(e *Enforcer) { e.watcher = w }
}

// WithEffector replaces the default effect combinator.
func WithEffector(ef Effector) EnforcerOption {
	return func(e *Enforcer) {
		if ef != nil {
			e.effector = ef
		}
	}
}

// WithRoleManager binds a custom role manager to one grouping definition
// key, e.g. "g" or "g2".
func WithRoleManager(key string, rm RoleManager) EnforcerOption {
	return func(e *Enforcer) { e.rmMap[key] = rm }
}

// WithAutoSave controls whether single-row mutations are pushed to the
// adapter as they happen. On by default.
func WithAutoSave(on bool) EnforcerOption {
	return func(e *Enforcer) { e.autoSave = on }
}

// WithAutoBuildRoleLinks controls incremental role-graph maintenance on
// grouping-row mutations. On by default.
func WithAutoBuildRoleLinks(on bool) EnforcerOption {
	return func(e *Enforcer) { e.autoBuildRoleLinks = on }
}

// NewEnforcer validates the model, wires role managers and matcher
// functions, and loads policy from the adapter when one is attached.
func NewEnforcer(m *Model, opts ...EnforcerOption) (*Enforcer, error) {
	if m == nil {
		return nil, fmt.Errorf("enforcer needs a model")
	}
	e := &Enforcer{
		model:              m,
		rmMap:              map[string]RoleManager{},
		pool:               newMatcherPool(),
		effector:           NewDefaultEffector(),
		logger:             logger.NewNullLogger(),
		enabled:            true,
		autoSave:           true,
		autoBuildRoleLinks: true,
		autoNotifyWatcher:  true,
	}
	for _, opt := range opts {
		opt(e)
	}

	for _, section := range []string{sectionRequest, sectionPolicy, sectionEffect, sectionMatcher} {
		if _, ok := m.GetAssertion(section, section); !ok {
			return nil, fmt.Errorf("model is missing its %q definition", section)
		}
	}

	for name, fn := range FunctionMap() {
		e.pool.SetFunction(name, fn)
	}
	for _, key := range m.sectionKeys(sectionRole) {
		if _, ok := e.rmMap[key]; !ok {
			e.rmMap[key] = NewRoleManager(10)
		}
		e.rmMap[key].SetLogger(e.logger)
		e.pool.SetFunction(key, roleFunction(e.rmMap[key]))
	}

	if e.watcher != nil {
		if err := e.watcher.SetUpdateCallback(func(string) {
			if err := e.LoadPolicy(); err != nil {
				e.logger.Error("policy reload after watcher update failed", "error", err)
			}
		}); err != nil {
			return nil, err
		}
	}

	if e.adapter != nil {
		if err := e.LoadPolicy(); err != nil {
			return nil, err
		}
	} else if err := e.BuildRoleLinks(); err != nil {
		return nil, err
	}
	return e, nil
}

// GetModel returns the model the enforcer evaluates against.
func (e *Enforcer) GetModel() *Model { return e.model }

// GetRoleManager returns the role manager bound to a grouping key.
func (e *Enforcer) GetRoleManager(key string) (RoleManager, bool) {
	rm, ok := e.rmMap[key]
	return rm, ok
}

// SetAdapter swaps the persistence adapter without reloading.
func (e *Enforcer) SetAdapter(a Adapter) { e.adapter = a }

// SetWatcher attaches a watcher after construction.
func (e *Enforcer) SetWatcher(w Watcher) error {
	e.watcher = w
	if w == nil {
		return nil
	}
	return w.SetUpdateCallback(func(string) {
		if err := e.LoadPolicy(); err != nil {
			e.logger.Error("policy reload after watcher update failed", "error", err)
		}
	})
}

// EnableEnforce toggles evaluation. While disabled, Enforce always allows.
func (e *Enforcer) EnableEnforce(on bool) {
	e.enabled = on
	e.changed()
}

// EnableAutoSave toggles adapter persistence of single mutations.
func (e *Enforcer) EnableAutoSave(on bool) { e.autoSave = on }

// EnableAutoBuildRoleLinks toggles incremental role-graph maintenance.
func (e *Enforcer) EnableAutoBuildRoleLinks(on bool) { e.autoBuildRoleLinks = on }

// EnableAutoNotifyWatcher toggles watcher notification on mutations.
func (e *Enforcer) EnableAutoNotifyWatcher(on bool) { e.autoNotifyWatcher = on }

// LoadPolicy reloads the full policy set from the adapter, replacing
// in-memory rows and rebuilding role links.
func (e *Enforcer) LoadPolicy() error {
	if e.adapter == nil {
		return fmt.Errorf("no adapter attached")
	}
	defer e.changed()
	e.model.ClearPolicy()
	if err := e.adapter.LoadPolicy(e.model); err != nil {
		return err
	}
	if e.autoBuildRoleLinks {
		if err := e.BuildRoleLinks(); err != nil {
			return err
		}
	}
	return nil
}

// LoadFilteredPolicy loads only the rows the filter selects. The enforcer
// stays marked as filtered afterwards and refuses SavePolicy.
func (e *Enforcer) LoadFilteredPolicy(filter Filter) error {
	fa, ok := e.adapter.(FilteredAdapter)
	if !ok {
		return fmt.Errorf("adapter does not support filtered loading")
	}
	defer e.changed()
	e.model.ClearPolicy()
	if err := fa.LoadFilteredPolicy(e.model, filter); err != nil {
		return err
	}
	e.isFiltered = true
	if e.autoBuildRoleLinks {
		return e.BuildRoleLinks()
	}
	return nil
}

// IsFiltered reports whether the loaded policy is a filtered subset.
func (e *Enforcer) IsFiltered() bool { return e.isFiltered }

// SavePolicy writes the in-memory rows through the adapter. Refused after
// a filtered load: saving a subset would truncate the store.
func (e *Enforcer) SavePolicy() error {
	if e.adapter == nil {
		return fmt.Errorf("no adapter attached")
	}
	if e.isFiltered {
		return fmt.Errorf("cannot save a filtered policy")
	}
	if err := e.adapter.SavePolicy(e.model); err != nil {
		return err
	}
	if e.watcher != nil && e.autoNotifyWatcher {
		return e.watcher.Update()
	}
	return nil
}

// ClearPolicy drops every in-memory row and role link. The adapter is not
// touched.
func (e *Enforcer) ClearPolicy() {
	e.model.ClearPolicy()
	for _, rm := range e.rmMap {
		_ = rm.Clear()
	}
	e.changed()
}

// BuildRoleLinks rebuilds every role graph from the stored grouping rows.
// Subject-priority models re-sort their rows afterwards so deeper subjects
// are evaluated first.
func (e *Enforcer) BuildRoleLinks() error {
	defer e.changed()
	if err := e.model.BuildRoleLinks(e.rmMap); err != nil {
		return err
	}
	return e.sortPoliciesBySubjectHierarchy()
}

// AddFunction registers or replaces a custom matcher function under the
// given name. Compiled matchers holding the previous binding are
// discarded, so the replacement takes effect on the next evaluation.
func (e *Enforcer) AddFunction(name string, fn govaluate.ExpressionFunction) {
	e.pool.SetFunction(name, fn)
	e.changed()
}

// sortPoliciesBySubjectHierarchy orders policy rows by descending role
// depth of their subject. Only active under the subject-priority effect.
func (e *Enforcer) sortPoliciesBySubjectHierarchy() error {
	eAst, err := e.model.requireAssertion(sectionEffect, sectionEffect)
	if err != nil || eAst.Value != effectSubjectPriority {
		return err
	}
	pAst, err := e.model.requireAssertion(sectionPolicy, sectionPolicy)
	if err != nil {
		return err
	}
	subIdx := pAst.tokenIndex("p_sub")
	if subIdx < 0 {
		return fmt.Errorf("subject-priority effect needs a sub token in the policy definition")
	}

	depth := e.subjectDepths()
	pAst.mu.Lock()
	sort.SliceStable(pAst.Policy, func(i, j int) bool {
		si, _ := pAst.Policy[i].Field(subIdx)
		sj, _ := pAst.Policy[j].Field(subIdx)
		return depth[si] > depth[sj]
	})
	for i, rule := range pAst.Policy {
		pAst.policyIndex[rule.Text()] = i
	}
	pAst.mu.Unlock()
	return nil
}

// subjectDepths walks the grouping rows breadth first from the roots
// (names that never appear as children) and records each name's distance
// from its root. Deeper names are more specific subjects.
func (e *Enforcer) subjectDepths() map[string]int {
	parents := map[string][]string{}
	isChild := map[string]bool{}
	for _, key := range e.model.sectionKeys(sectionRole) {
		a, _ := e.model.GetAssertion(sectionRole, key)
		for _, rule := range a.getPolicy() {
			if rule.Len() < 2 {
				continue
			}
			child, _ := rule.Field(0)
			parent, _ := rule.Field(1)
			parents[parent] = append(parents[parent], child)
			isChild[child] = true
		}
	}
	depth := map[string]int{}
	var frontier []string
	for parent := range parents {
		if !isChild[parent] {
			depth[parent] = 0
			frontier = append(frontier, parent)
		}
	}
	for d := 1; len(frontier) > 0; d++ {
		var next []string
		for _, name := range frontier {
			for _, child := range parents[name] {
				if _, seen := depth[child]; !seen {
					depth[child] = d
					next = append(next, child)
				}
			}
		}
		frontier = next
	}
	return depth
}

// Enforce decides one request using the model's declared matcher.
func (e *Enforcer) Enforce(rvals ...any) (bool, error) {
	ok, _, err := e.enforce("", rvals)
	return ok, err
}

// EnforceEx decides one request and also returns the policy row that
// determined the decision, when one did.
func (e *Enforcer) EnforceEx(rvals ...any) (bool, []string, error) {
	return e.enforce("", rvals)
}

// EnforceWithMatcher decides one request using a caller-supplied matcher
// instead of the model's. The override is compiled and cached separately
// and never touches the model.
func (e *Enforcer) EnforceWithMatcher(matcher string, rvals ...any) (bool, error) {
	ok, _, err := e.enforce(matcher, rvals)
	return ok, err
}

// BatchEnforce evaluates each request in order.
func (e *Enforcer) BatchEnforce(requests [][]any) ([]bool, error) {
	results := make([]bool, len(requests))
	for i, rvals := range requests {
		ok, err := e.Enforce(rvals...)
		if err != nil {
			return nil, err
		}
		results[i] = ok
	}
	return results, nil
}

// BatchEnforceParallel evaluates the requests concurrently. Results keep
// request order; the first error wins.
func (e *Enforcer) BatchEnforceParallel(requests [][]any) ([]bool, error) {
	results := make([]bool, len(requests))
	sem := make(chan struct{}, 8)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error
	for i, rvals := range requests {
		wg.Add(1)
		go func(i int, rvals []any) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			ok, err := e.Enforce(rvals...)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return
			}
			results[i] = ok
		}(i, rvals)
	}
	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}
	return results, nil
}

// enforce is the core decision loop. matcher overrides the model's matcher
// when non-empty. Per-row evaluation errors degrade that row to
// non-matching with a warning; configuration errors abort.
func (e *Enforcer) enforce(matcher string, rvals []any) (bool, []string, error) {
	if !e.enabled {
		return true, nil, nil
	}

	rAst, err := e.model.requireAssertion(sectionRequest, sectionRequest)
	if err != nil {
		return false, nil, err
	}
	pAst, err := e.model.requireAssertion(sectionPolicy, sectionPolicy)
	if err != nil {
		return false, nil, err
	}
	eAst, err := e.model.requireAssertion(sectionEffect, sectionEffect)
	if err != nil {
		return false, nil, err
	}
	expr := matcher
	if expr == "" {
		mAst, err := e.model.requireAssertion(sectionMatcher, sectionMatcher)
		if err != nil {
			return false, nil, err
		}
		expr = mAst.Value
	} else {
		expr = escapeAssertion(expr)
	}

	if len(rvals) != len(rAst.tokenNames) {
		return false, nil, fmt.Errorf("request has %d fields, definition expects %d", len(rvals), len(rAst.tokenNames))
	}

	params := make(map[string]any, len(rAst.tokenNames)+len(pAst.tokenNames))
	for i, name := range rAst.tokenNames {
		params[name] = rvals[i]
	}

	withEval := hasEval(expr)
	var evalTokens []string
	if withEval {
		for _, name := range evalRuleNames(expr) {
			if pAst.tokenIndex(name) < 0 {
				return false, nil, fmt.Errorf("eval() references %q, which is not a policy token", name)
			}
			evalTokens = append(evalTokens, name)
		}
	}

	eftIdx := pAst.tokenIndex("p_eft")

	scanner := pAst.scan()
	defer scanner.Interrupt()
	n := scanner.Len()

	if n == 0 {
		for _, name := range pAst.tokenNames {
			params[name] = ""
		}
		effects := []Effect{Indeterminate}
		rowExpr := expr
		if withEval {
			rowExpr = spliceFalse(expr)
		}
		res, evalErr := e.pool.Evaluate(rowExpr, params)
		if evalErr != nil {
			e.logger.Warn("matcher evaluation failed", "matcher", rowExpr, "error", evalErr)
		} else if res {
			effects[0] = Allow
		}
		final, _, err := e.effector.MergeEffects(eAst.Value, effects, []float64{0}, 0, 1)
		if err != nil {
			return false, nil, err
		}
		e.logger.Debug("enforce", "request", fieldTexts(rvals), "allowed", final == Allow)
		return final == Allow, nil, nil
	}

	effects := make([]Effect, 0, n)
	matches := make([]float64, 0, n)
	rows := make([]*Rule, 0, n)
	final := Indeterminate
	explainIdx := -1

	for i := 0; i < n; i++ {
		rule, ok := scanner.Next()
		if !ok {
			break
		}
		rows = append(rows, rule)
		for j, name := range pAst.tokenNames {
			field, ferr := rule.Field(j)
			if ferr != nil {
				field = ""
			}
			params[name] = field
		}

		rowExpr := expr
		if withEval {
			sub := make(map[string]string, len(evalTokens))
			for _, name := range evalTokens {
				text, _ := rule.Field(pAst.Tokens[name])
				if !looksLikeExpression(text) {
					sub[name] = "false"
				} else {
					sub[name] = escapeAssertion(text)
				}
			}
			rowExpr = replaceEval(expr, sub)
		}

		eft := Indeterminate
		match := 0.0
		res, evalErr := e.pool.Evaluate(rowExpr, params)
		switch {
		case evalErr != nil:
			e.logger.Warn("matcher evaluation failed for policy row",
				"row", rule.Text(), "matcher", rowExpr, "error", evalErr)
		case res:
			match = 1
			eft = Allow
			if eftIdx >= 0 {
				switch text, _ := rule.Field(eftIdx); text {
				case "", "allow":
					eft = Allow
				case "deny":
					eft = Deny
				default:
					eft = Indeterminate
				}
			}
		}
		effects = append(effects, eft)
		matches = append(matches, match)

		merged, idx, err := e.effector.MergeEffects(eAst.Value, effects, matches, i, n)
		if err != nil {
			return false, nil, err
		}
		if merged != Indeterminate || i == n-1 {
			final = merged
			explainIdx = idx
			break
		}
	}
	scanner.Interrupt()

	var explain []string
	if explainIdx >= 0 && explainIdx < len(rows) {
		explain = rows[explainIdx].Strings()
	}
	e.logger.Debug("enforce", "request", fieldTexts(rvals), "allowed", final == Allow)
	return final == Allow, explain, nil
}

// spliceFalse replaces every eval() call with a constant false so the
// zero-row evaluation still compiles.
func spliceFalse(expr string) string {
	return evalRegex.ReplaceAllString(expr, "(false)")
}

func fieldTexts(rvals []any) []string {
	out := make([]string, len(rvals))
	for i, v := range rvals {
		out[i] = fieldText(v)
	}
	return out
}
