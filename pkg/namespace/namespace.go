// Package namespace holds the ordered table of rule namespaces owned by a
// rules context, together with its "current namespace" pointer.
package namespace

import (
	"github.com/praetorian-inc/trawl/pkg/types"
)

// Default is the namespace rules land in when none was selected.
const Default = "default"

// Namespace is a named, ordered list of compiled rules.
type Namespace struct {
	Name  string
	Rules []*types.Rule
}

// Lookup returns the rule with the given name.
func (ns *Namespace) Lookup(name string) (*types.Rule, bool) {
	for _, r := range ns.Rules {
		if r.Name == name {
			return r, true
		}
	}
	return nil, false
}

// Table maps namespace names to namespaces. List order is insertion order.
// The current namespace always resolves to an entry of the table.
//
// A Table is not safe for concurrent use; callers serialize access.
type Table struct {
	order   []*Namespace
	byName  map[string]*Namespace
	current *Namespace
	rules   []*types.Rule // every rule in install order
}

// NewTable creates a table holding only the default namespace, which is
// also the current one.
func NewTable() *Table {
	t := &Table{byName: make(map[string]*Namespace)}
	t.current = t.Create(Default)
	return t
}

// Find returns the namespace with the given name, if present.
func (t *Table) Find(name string) (*Namespace, bool) {
	ns, ok := t.byName[name]
	return ns, ok
}

// Create returns the namespace with the given name, inserting it at the end
// of the table when absent.
func (t *Table) Create(name string) *Namespace {
	if ns, ok := t.byName[name]; ok {
		return ns
	}
	ns := &Namespace{Name: name}
	t.byName[name] = ns
	t.order = append(t.order, ns)
	return ns
}

// Current returns the current namespace.
func (t *Table) Current() *Namespace {
	return t.current
}

// SetCurrent makes name the current namespace, creating it if absent.
func (t *Table) SetCurrent(name string) *Namespace {
	t.current = t.Create(name)
	return t.current
}

// List returns namespace names in insertion order.
func (t *Table) List() []string {
	names := make([]string, len(t.order))
	for i, ns := range t.order {
		names[i] = ns.Name
	}
	return names
}

// Namespaces returns the namespaces in insertion order.
func (t *Table) Namespaces() []*Namespace {
	out := make([]*Namespace, len(t.order))
	copy(out, t.order)
	return out
}

// Rules returns every rule of every namespace in the order rules were
// appended, regardless of namespace.
func (t *Table) Rules() []*types.Rule {
	out := make([]*types.Rule, len(t.rules))
	copy(out, t.rules)
	return out
}

// Append installs rules at the end of ns.
func (t *Table) Append(ns *Namespace, rules ...*types.Rule) {
	for _, r := range rules {
		r.Namespace = ns.Name
	}
	ns.Rules = append(ns.Rules, rules...)
	t.rules = append(t.rules, rules...)
}

// Scoped runs fn with name as the current namespace. An empty name keeps the
// current namespace. The previous current namespace is restored however fn
// exits, including by panic.
func (t *Table) Scoped(name string, fn func(ns *Namespace) error) error {
	prev := t.current
	defer func() { t.current = prev }()

	if name != "" {
		t.SetCurrent(name)
	}
	return fn(t.current)
}

// Snapshot captures the table so a failed operation can be undone.
type Snapshot struct {
	order   []*Namespace
	lens    []int
	total   int
	current *Namespace
}

// Snapshot records the namespaces, their rule counts and the current
// namespace.
func (t *Table) Snapshot() Snapshot {
	s := Snapshot{
		order:   make([]*Namespace, len(t.order)),
		lens:    make([]int, len(t.order)),
		total:   len(t.rules),
		current: t.current,
	}
	copy(s.order, t.order)
	for i, ns := range t.order {
		s.lens[i] = len(ns.Rules)
	}
	return s
}

// Restore rolls the table back to s: namespaces created since are removed
// and rules appended since are dropped.
func (t *Table) Restore(s Snapshot) {
	for _, ns := range t.order[len(s.order):] {
		delete(t.byName, ns.Name)
	}
	t.order = t.order[:len(s.order)]
	for i, ns := range t.order {
		clear(ns.Rules[s.lens[i]:])
		ns.Rules = ns.Rules[:s.lens[i]]
	}
	clear(t.rules[s.total:])
	t.rules = t.rules[:s.total]
	t.current = s.current
}

// Len returns the total number of rules across namespaces.
func (t *Table) Len() int {
	return len(t.rules)
}
