package permit

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/Knetic/govaluate"
)

// escapeAssertion rewrites "r.sub"/"p.obj" style accessors into the
// underscore form the expression engine binds parameters under. Numbered
// definitions like "r2.sub" are rewritten the same way. Accessors deeper
// than one level ("r.sub.Age") keep the remaining dots so struct-field
// access still works.
var escapeRegex = regexp.MustCompile(`\b((?:r|p)[0-9]*)\.`)

func escapeAssertion(expr string) string {
	return escapeRegex.ReplaceAllString(expr, "${1}_")
}

var evalRegex = regexp.MustCompile(`\beval\(([^)]*)\)`)

// hasEval reports whether an escaped matcher contains eval() placeholders.
func hasEval(expr string) bool {
	return evalRegex.MatchString(expr)
}

// evalRuleNames lists the parameter names referenced by eval() calls.
func evalRuleNames(expr string) []string {
	var out []string
	for _, m := range evalRegex.FindAllStringSubmatch(expr, -1) {
		out = append(out, strings.TrimSpace(m[1]))
	}
	return out
}

// replaceEval splices per-row sub-rule text into the matcher. Each sub
// rule is parenthesized so operator precedence of the surrounding matcher
// is preserved.
func replaceEval(expr string, rules map[string]string) string {
	return evalRegex.ReplaceAllStringFunc(expr, func(m string) string {
		name := strings.TrimSpace(evalRegex.FindStringSubmatch(m)[1])
		body, ok := rules[name]
		if !ok {
			return m
		}
		return "(" + body + ")"
	})
}

// looksLikeExpression filters stored sub-rule text before splicing it into
// a matcher. Text with no operators or parentheses cannot be a boolean
// expression and degrades to a constant false match.
func looksLikeExpression(text string) bool {
	return strings.ContainsAny(text, "=<>!&|()+-*/")
}

// matcherPool owns the compiled-expression cache and the function map for
// one enforcer. Scoped per enforcer, not process wide, so two enforcers
// with different role managers never share g() bindings.
type matcherPool struct {
	mu        sync.RWMutex
	functions map[string]govaluate.ExpressionFunction
	cache     map[string]*govaluate.EvaluableExpression
}

func newMatcherPool() *matcherPool {
	return &matcherPool{
		functions: map[string]govaluate.ExpressionFunction{},
		cache:     map[string]*govaluate.EvaluableExpression{},
	}
}

// SetFunction registers or replaces a matcher function. The compiled cache
// is dropped since cached expressions hold the old binding.
func (p *matcherPool) SetFunction(name string, fn govaluate.ExpressionFunction) {
	p.mu.Lock()
	defer p.mu.Unlock()
	next := make(map[string]govaluate.ExpressionFunction, len(p.functions)+1)
	for k, v := range p.functions {
		next[k] = v
	}
	next[name] = fn
	p.functions = next
	p.cache = map[string]*govaluate.EvaluableExpression{}
}

// compile returns the compiled form of an escaped matcher, caching by the
// exact post-substitution text. Distinct eval() expansions of the same
// matcher therefore get distinct cache entries.
func (p *matcherPool) compile(expr string) (*govaluate.EvaluableExpression, error) {
	p.mu.RLock()
	compiled, ok := p.cache[expr]
	fns := p.functions
	p.mu.RUnlock()
	if ok {
		return compiled, nil
	}
	compiled, err := govaluate.NewEvaluableExpressionWithFunctions(expr, fns)
	if err != nil {
		return nil, fmt.Errorf("compile matcher %q: %w", expr, err)
	}
	p.mu.Lock()
	p.cache[expr] = compiled
	p.mu.Unlock()
	return compiled, nil
}

// Evaluate compiles (or reuses) the matcher and evaluates it against the
// given parameter bindings. Non-boolean results are an evaluation error.
func (p *matcherPool) Evaluate(expr string, params map[string]any) (bool, error) {
	compiled, err := p.compile(expr)
	if err != nil {
		return false, err
	}
	result, err := compiled.Evaluate(params)
	if err != nil {
		return false, fmt.Errorf("evaluate matcher %q: %w", expr, err)
	}
	b, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("matcher %q returned %T, want bool", expr, result)
	}
	return b, nil
}
