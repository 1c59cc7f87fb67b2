package permit

import (
	"strings"
	"sync"

	"github.com/oarkflow/permit/logger"
)

// MatchingFunc compares a queried name against a stored pattern, e.g. a
// wildcard key matcher. The first argument is always the queried name, the
// second the stored one.
type MatchingFunc func(name, pattern string) bool

// RoleManager maintains the role-inheritance graph behind one grouping
// definition. All methods are safe for concurrent use.
type RoleManager interface {
	// Clear drops every link.
	Clear() error
	// AddLink records that name1 inherits from name2, optionally inside a
	// domain.
	AddLink(name1, name2 string, domains ...string) error
	// DeleteLink removes a direct link.
	DeleteLink(name1, name2 string, domains ...string) error
	// HasLink reports transitive reachability from name1 to name2.
	HasLink(name1, name2 string, domains ...string) (bool, error)
	// GetRoles lists the direct roles of a name.
	GetRoles(name string, domains ...string) ([]string, error)
	// GetUsers lists the direct members of a role.
	GetUsers(name string, domains ...string) ([]string, error)
	// GetDomains lists the domains in which a name appears.
	GetDomains(name string) ([]string, error)
	// AddMatchingFunc switches role-name comparison from string equality
	// to fn.
	AddMatchingFunc(fn MatchingFunc)
	// AddDomainMatchingFunc switches domain comparison from string
	// equality to fn.
	AddDomainMatchingFunc(fn MatchingFunc)
	// SetLogger attaches a logger.
	SetLogger(l logger.Logger)
}

const defaultDomain = ""

// roleNode is one vertex in a per-domain inheritance graph.
type roleNode struct {
	name     string
	parents  map[string]*roleNode
	children map[string]*roleNode
}

func newRoleNode(name string) *roleNode {
	return &roleNode{
		name:     name,
		parents:  map[string]*roleNode{},
		children: map[string]*roleNode{},
	}
}

type roleGraph struct {
	nodes map[string]*roleNode
}

func newRoleGraph() *roleGraph {
	return &roleGraph{nodes: map[string]*roleNode{}}
}

func (g *roleGraph) getOrCreate(name string) *roleNode {
	if n, ok := g.nodes[name]; ok {
		return n
	}
	n := newRoleNode(name)
	g.nodes[name] = n
	return n
}

// DefaultRoleManager stores inheritance links per domain and answers
// reachability queries with a depth-bounded search. With matching functions
// configured, every stored node is a match candidate, so positive and
// negative answers are memoized per query until the next mutation.
type DefaultRoleManager struct {
	mu       sync.RWMutex
	domains  map[string]*roleGraph
	maxDepth int

	matchFn       MatchingFunc
	domainMatchFn MatchingFunc

	cacheMu sync.Mutex
	cache   map[string]bool

	logger logger.Logger
}

// NewRoleManager builds a manager whose reachability search stops at
// maxDepth hops. Ten is deep enough for any sane hierarchy and guards
// against cycles.
func NewRoleManager(maxDepth int) *DefaultRoleManager {
	if maxDepth <= 0 {
		maxDepth = 10
	}
	return &DefaultRoleManager{
		domains:  map[string]*roleGraph{},
		maxDepth: maxDepth,
		cache:    map[string]bool{},
		logger:   logger.NewNullLogger(),
	}
}

func (rm *DefaultRoleManager) SetLogger(l logger.Logger) {
	if l == nil {
		l = logger.NewNullLogger()
	}
	rm.logger = l
}

func (rm *DefaultRoleManager) AddMatchingFunc(fn MatchingFunc) {
	rm.mu.Lock()
	rm.matchFn = fn
	rm.mu.Unlock()
	rm.clearCache()
}

func (rm *DefaultRoleManager) AddDomainMatchingFunc(fn MatchingFunc) {
	rm.mu.Lock()
	rm.domainMatchFn = fn
	rm.mu.Unlock()
	rm.clearCache()
}

func (rm *DefaultRoleManager) clearCache() {
	rm.cacheMu.Lock()
	rm.cache = map[string]bool{}
	rm.cacheMu.Unlock()
}

func (rm *DefaultRoleManager) Clear() error {
	rm.mu.Lock()
	rm.domains = map[string]*roleGraph{}
	rm.mu.Unlock()
	rm.clearCache()
	return nil
}

func domainOf(domains []string) string {
	if len(domains) == 0 {
		return defaultDomain
	}
	return domains[0]
}

func (rm *DefaultRoleManager) AddLink(name1, name2 string, domains ...string) error {
	domain := domainOf(domains)
	rm.mu.Lock()
	g, ok := rm.domains[domain]
	if !ok {
		g = newRoleGraph()
		rm.domains[domain] = g
	}
	child := g.getOrCreate(name1)
	parent := g.getOrCreate(name2)
	child.parents[name2] = parent
	parent.children[name1] = child
	rm.mu.Unlock()
	rm.clearCache()
	return nil
}

func (rm *DefaultRoleManager) DeleteLink(name1, name2 string, domains ...string) error {
	domain := domainOf(domains)
	rm.mu.Lock()
	if g, ok := rm.domains[domain]; ok {
		if child, ok := g.nodes[name1]; ok {
			delete(child.parents, name2)
		}
		if parent, ok := g.nodes[name2]; ok {
			delete(parent.children, name1)
		}
	}
	rm.mu.Unlock()
	rm.clearCache()
	return nil
}

// HasLink reports whether name2 is reachable from name1 within the depth
// bound. Identical names always link. Queries run against every domain the
// domain matcher accepts.
func (rm *DefaultRoleManager) HasLink(name1, name2 string, domains ...string) (bool, error) {
	domain := domainOf(domains)
	rm.mu.RLock()
	matchFn := rm.matchFn
	rm.mu.RUnlock()
	if name1 == name2 || (matchFn != nil && matchFn(name1, name2)) {
		return true, nil
	}

	key := domain + "\x1f" + name1 + "\x1f" + name2
	rm.cacheMu.Lock()
	if res, ok := rm.cache[key]; ok {
		rm.cacheMu.Unlock()
		return res, nil
	}
	rm.cacheMu.Unlock()

	rm.mu.RLock()
	res := false
	for _, g := range rm.graphsFor(domain) {
		if rm.search(g, name1, name2) {
			res = true
			break
		}
	}
	rm.mu.RUnlock()

	rm.cacheMu.Lock()
	rm.cache[key] = res
	rm.cacheMu.Unlock()
	return res, nil
}

// graphsFor picks the graphs a query touches: the exact domain, or every
// domain accepted by the domain matcher. Caller holds the read lock.
func (rm *DefaultRoleManager) graphsFor(domain string) []*roleGraph {
	if rm.domainMatchFn == nil {
		if g, ok := rm.domains[domain]; ok {
			return []*roleGraph{g}
		}
		return nil
	}
	var out []*roleGraph
	for stored, g := range rm.domains {
		if stored == domain || rm.domainMatchFn(domain, stored) {
			out = append(out, g)
		}
	}
	return out
}

// search walks parent links breadth first, bounded by maxDepth. With a
// matching function, frontier expansion considers every stored node whose
// name the matcher accepts.
func (rm *DefaultRoleManager) search(g *roleGraph, from, to string) bool {
	frontier := rm.matchNodes(g, from)
	if len(frontier) == 0 {
		return false
	}
	visited := map[string]bool{}
	for _, n := range frontier {
		visited[n.name] = true
	}
	for depth := 0; depth < rm.maxDepth; depth++ {
		var next []*roleNode
		for _, n := range frontier {
			for parentName, parent := range n.parents {
				if parentName == to || (rm.matchFn != nil && rm.matchFn(to, parentName)) || (rm.matchFn != nil && rm.matchFn(parentName, to)) {
					return true
				}
				if !visited[parentName] {
					visited[parentName] = true
					next = append(next, parent)
				}
			}
		}
		if len(next) == 0 {
			return false
		}
		frontier = next
	}
	return false
}

// matchNodes resolves a queried name to its graph nodes. Without a matcher
// this is an exact lookup; with one, every stored node is a candidate.
func (rm *DefaultRoleManager) matchNodes(g *roleGraph, name string) []*roleNode {
	if rm.matchFn == nil {
		if n, ok := g.nodes[name]; ok {
			return []*roleNode{n}
		}
		return nil
	}
	var out []*roleNode
	for stored, n := range g.nodes {
		if stored == name || rm.matchFn(name, stored) {
			out = append(out, n)
		}
	}
	return out
}

func (rm *DefaultRoleManager) GetRoles(name string, domains ...string) ([]string, error) {
	domain := domainOf(domains)
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	seen := map[string]bool{}
	var out []string
	for _, g := range rm.graphsFor(domain) {
		for _, n := range rm.matchNodes(g, name) {
			for parent := range n.parents {
				if !seen[parent] {
					seen[parent] = true
					out = append(out, parent)
				}
			}
		}
	}
	return out, nil
}

func (rm *DefaultRoleManager) GetUsers(name string, domains ...string) ([]string, error) {
	domain := domainOf(domains)
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	seen := map[string]bool{}
	var out []string
	for _, g := range rm.graphsFor(domain) {
		for _, n := range rm.matchNodes(g, name) {
			for child := range n.children {
				if !seen[child] {
					seen[child] = true
					out = append(out, child)
				}
			}
		}
	}
	return out, nil
}

func (rm *DefaultRoleManager) GetDomains(name string) ([]string, error) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	var out []string
	for domain, g := range rm.domains {
		if len(rm.matchNodes(g, name)) > 0 {
			out = append(out, domain)
		}
	}
	return out, nil
}

// String renders the graphs for debugging.
func (rm *DefaultRoleManager) String() string {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	var b strings.Builder
	for domain, g := range rm.domains {
		for name, n := range g.nodes {
			for parent := range n.parents {
				if domain != defaultDomain {
					b.WriteString(domain)
					b.WriteString("/")
				}
				b.WriteString(name)
				b.WriteString(" < ")
				b.WriteString(parent)
				b.WriteString("\n")
			}
		}
	}
	return b.String()
}
