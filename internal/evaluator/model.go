package evaluator

import (
	"github.com/zzzcdf/cube.js/internal/domain"
)

// Model is the authoritative compiled model. It is immutable once built and
// safe for concurrent readers.
type Model struct {
	cubes    map[string]*domain.Cube
	order    []string
	contexts []*domain.Context
}

// NewModel assembles a model from already normalized cubes. Member indexes are
// rebuilt.
func NewModel(cubes []*domain.Cube, contexts []*domain.Context) *Model {
	m := &Model{cubes: make(map[string]*domain.Cube, len(cubes)), contexts: contexts}
	for _, c := range cubes {
		c.Index()
		if _, dup := m.cubes[c.Name]; !dup {
			m.order = append(m.order, c.Name)
		}
		m.cubes[c.Name] = c
	}
	return m
}

// Cube returns a cube or view by name.
func (m *Model) Cube(name string) (*domain.Cube, bool) {
	c, ok := m.cubes[name]
	return c, ok
}

// Cubes returns cubes and views in declaration order.
func (m *Model) Cubes() []*domain.Cube {
	out := make([]*domain.Cube, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.cubes[name])
	}
	return out
}

// Contexts returns the declared contexts.
func (m *Model) Contexts() []*domain.Context { return m.contexts }

// Member looks up "Cube.member".
func (m *Model) Member(path string) (domain.Member, bool) {
	member, err := m.ResolveMember(path)
	return member, err == nil
}

// ResolveMember looks up "Cube.member", reporting which half is missing.
func (m *Model) ResolveMember(path string) (domain.Member, error) {
	cubeName, memberName, ok := domain.SplitMemberPath(path)
	if !ok {
		return nil, domain.ErrInvalidSchema("", path, "member path must be Cube.member")
	}
	c, ok := m.cubes[cubeName]
	if !ok {
		return nil, domain.ErrUnknownCube("", path, cubeName)
	}
	member, ok := c.Member(memberName)
	if !ok {
		return nil, domain.ErrUnknownMember(cubeName, memberName, path)
	}
	return member, nil
}
