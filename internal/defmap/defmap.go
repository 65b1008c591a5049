// Package defmap aligns the definitions of two versions of one file by
// qualified name.
package defmap

import (
	"fmt"

	"github.com/phobologic/mendpatch/internal/errs"
	"github.com/phobologic/mendpatch/internal/syntax"
)

// Mapping links a definition in the before file to its counterpart after.
type Mapping struct {
	Name string
	// Before is the last before-side definition with Name.
	Before *syntax.Def
	// After is nil when the name no longer exists.
	After *syntax.Def
	// Candidates lists every before-side definition with Name. More than one
	// means the name collides and Before alone is not trustworthy.
	Candidates []syntax.Def
}

// Collides reports whether several before definitions share the name.
func (m Mapping) Collides() bool { return len(m.Candidates) > 1 }

// Predicate decides whether a definition pair exhibits some transition.
type Predicate func(before, after syntax.Def) bool

// BecameAsync holds for definitions that were synchronous before and are
// asynchronous after.
func BecameAsync(before, after syntax.Def) bool {
	return !before.Async && after.Async
}

// Mapper holds the alignment of two indexes.
type Mapper struct {
	before, after *syntax.Index
	mappings      []Mapping
}

// Map aligns every qualified name of before with after.
func Map(before, after *syntax.Index) *Mapper {
	m := &Mapper{before: before, after: after}
	seen := make(map[string]bool)
	for _, d := range before.Nodes() {
		if seen[d.QualifiedName] {
			continue
		}
		seen[d.QualifiedName] = true

		mp := Mapping{Name: d.QualifiedName, Candidates: before.NodesFor(d.QualifiedName)}
		last := mp.Candidates[len(mp.Candidates)-1]
		mp.Before = &last
		if a, ok := after.NodeFor(d.QualifiedName); ok {
			mp.After = &a
		}
		m.mappings = append(m.mappings, mp)
	}
	return m
}

// Mappings returns one mapping per before name, in first-seen order.
func (m *Mapper) Mappings() []Mapping {
	return append([]Mapping(nil), m.mappings...)
}

// Transitions returns the mappings present on both sides for which pred holds.
func (m *Mapper) Transitions(pred Predicate) []Mapping {
	return m.filter(func(mp Mapping) bool {
		return mp.After != nil && pred(*mp.Before, *mp.After)
	})
}

// Unmapped returns the mappings whose name disappeared.
func (m *Mapper) Unmapped() []Mapping {
	return m.filter(func(mp Mapping) bool { return mp.After == nil })
}

// Collisions returns the mappings whose name is defined more than once before.
func (m *Mapper) Collisions() []Mapping {
	return m.filter(Mapping.Collides)
}

func (m *Mapper) filter(keep func(Mapping) bool) []Mapping {
	var out []Mapping
	for _, mp := range m.mappings {
		if keep(mp) {
			out = append(out, mp)
		}
	}
	return out
}

// Resolve maps the before definition starting on beforeLine. Same-named
// definitions are paired by their position among each other; when the after
// side has several and their number differs, the pairing is ambiguous.
func (m *Mapper) Resolve(beforeLine int) (Mapping, error) {
	d, ok := m.before.DefAt(beforeLine)
	if !ok {
		return Mapping{}, fmt.Errorf("no definition on line %d: %w", beforeLine, errs.ErrUnresolved)
	}

	cands := m.before.NodesFor(d.QualifiedName)
	mp := Mapping{Name: d.QualifiedName, Before: &d, Candidates: cands}

	after := m.after.NodesFor(d.QualifiedName)
	switch {
	case len(after) == 0:
	case len(after) == 1:
		mp.After = &after[0]
	case len(after) == len(cands):
		for i, c := range cands {
			if c.ID == d.ID {
				mp.After = &after[i]
			}
		}
	default:
		names := make([]string, len(after))
		for i, a := range after {
			names[i] = fmt.Sprintf("%s@%d", a.QualifiedName, a.Line)
		}
		return Mapping{}, &errs.AmbiguousMappingError{Subject: d.QualifiedName, Candidates: names}
	}
	return mp, nil
}
