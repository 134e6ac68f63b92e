package symbols

import (
	"github.com/zzzcdf/cube.js/internal/domain"
)

// State is the forcing state of an entry.
type State int

// Entry states.
const (
	StatePending State = iota
	StateEvaluating
	StateEvaluated
)

func (s State) String() string {
	switch s {
	case StateEvaluating:
		return "evaluating"
	case StateEvaluated:
		return "evaluated"
	default:
		return "pending"
	}
}

// Factory builds the value of an entry the first time it is forced.
type Factory func() (*Surface, error)

// Entry is one deferred binding.
type Entry struct {
	Name string
	Kind domain.SymbolKind
	File string

	state   State
	factory Factory
	value   *Surface
	err     error
}

// State returns the forcing state.
func (e *Entry) State() State { return e.state }

// Table maps canonical names to deferred bindings. A table belongs to a single
// compile and is not safe for concurrent use.
type Table struct {
	entries map[string]*Entry
	order   []string
	forcing []string
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{entries: make(map[string]*Entry)}
}

// Declare registers a binding. Declaring a name twice is a DuplicateSymbol
// error.
func (t *Table) Declare(name string, kind domain.SymbolKind, file string, factory Factory) error {
	if prev, ok := t.entries[name]; ok {
		return domain.ErrDuplicateSymbol(name, prev.File, file)
	}
	t.entries[name] = &Entry{Name: name, Kind: kind, File: file, factory: factory}
	t.order = append(t.order, name)
	return nil
}

// Lookup returns the entry for name without forcing it.
func (t *Table) Lookup(name string) (*Entry, bool) {
	e, ok := t.entries[name]
	return e, ok
}

// Has reports whether name is declared.
func (t *Table) Has(name string) bool {
	_, ok := t.entries[name]
	return ok
}

// Names returns the declared names in declaration order.
func (t *Table) Names() []string {
	return append([]string(nil), t.order...)
}

// Resolve forces the binding of name and memoizes the outcome. Forcing an
// entry that is already being forced fails with CircularReference naming the
// chain, without poisoning any other entry.
func (t *Table) Resolve(name string) (*Surface, error) {
	e, ok := t.entries[name]
	if !ok {
		return nil, domain.ErrUnknownCube("", "", name)
	}
	switch e.state {
	case StateEvaluated:
		return e.value, e.err
	case StateEvaluating:
		return nil, domain.ErrCircularReference(t.chain(name)).WithFile(e.File, 0)
	}

	e.state = StateEvaluating
	t.forcing = append(t.forcing, name)
	value, err := e.factory()
	t.forcing = t.forcing[:len(t.forcing)-1]

	e.state = StateEvaluated
	e.value, e.err = value, err
	return value, err
}

// chain returns the forcing stack from the first occurrence of name, closed
// with name itself.
func (t *Table) chain(name string) []string {
	for i, n := range t.forcing {
		if n == name {
			out := append([]string(nil), t.forcing[i:]...)
			return append(out, name)
		}
	}
	return []string{name, name}
}
