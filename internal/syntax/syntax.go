// Package syntax indexes named definitions of one syntax tree snapshot by
// lexically-scoped qualified name.
package syntax

import (
	"strings"

	"github.com/phobologic/mendpatch/internal/model"
)

// Scope describes a named definition as reported by a tree traversal.
// Lines are 1-based.
type Scope struct {
	Kind    model.SymbolKind
	Name    string
	Line    int
	EndLine int
	Async   bool
}

// Visitor receives named-scope events in depth-first order. Every Enter is
// matched by exactly one Exit.
type Visitor interface {
	Enter(s Scope)
	Exit()
}

// Tree is a parsed syntax tree that can replay its named scopes.
type Tree interface {
	Walk(v Visitor)
}

// Def is an indexed definition. ID is its position in the owning Index.
type Def struct {
	Scope
	ID            int
	QualifiedName string
}

// Index maps definitions to qualified names and back. It is immutable after
// New returns and safe for concurrent reads.
type Index struct {
	defs   []Def
	byName map[string][]int
	byLine map[int]int
}

// New builds an index by walking tree once.
func New(tree Tree) *Index {
	b := &builder{idx: &Index{
		byName: make(map[string][]int),
		byLine: make(map[int]int),
	}}
	if tree != nil {
		tree.Walk(b)
	}
	return b.idx
}

type builder struct {
	idx   *Index
	stack []string
}

func (b *builder) Enter(s Scope) {
	b.stack = append(b.stack, s.Name)
	qn := strings.Join(b.stack, ".")

	id := len(b.idx.defs)
	b.idx.defs = append(b.idx.defs, Def{Scope: s, ID: id, QualifiedName: qn})
	b.idx.byName[qn] = append(b.idx.byName[qn], id)
	// First definition on a line wins; an inner one-liner keeps its outer owner.
	if _, taken := b.idx.byLine[s.Line]; !taken {
		b.idx.byLine[s.Line] = id
	}
}

func (b *builder) Exit() {
	if len(b.stack) > 0 {
		b.stack = b.stack[:len(b.stack)-1]
	}
}

// Len returns the number of indexed definitions.
func (x *Index) Len() int { return len(x.defs) }

// Nodes returns all definitions in traversal order.
func (x *Index) Nodes() []Def {
	out := make([]Def, len(x.defs))
	copy(out, x.defs)
	return out
}

// Node returns the definition with the given ID.
func (x *Index) Node(id int) (Def, bool) {
	if id < 0 || id >= len(x.defs) {
		return Def{}, false
	}
	return x.defs[id], true
}

// QualifiedNameOf returns the qualified name of the definition with the given ID.
func (x *Index) QualifiedNameOf(id int) (string, bool) {
	d, ok := x.Node(id)
	return d.QualifiedName, ok
}

// QualifiedNameAt returns the qualified name of the definition starting on
// line. Lines inside a definition body do not match.
func (x *Index) QualifiedNameAt(line int) (string, bool) {
	d, ok := x.DefAt(line)
	return d.QualifiedName, ok
}

// DefAt returns the definition starting on line.
func (x *Index) DefAt(line int) (Def, bool) {
	id, ok := x.byLine[line]
	if !ok {
		return Def{}, false
	}
	return x.defs[id], true
}

// NodeFor returns the definition with the given qualified name. When the name
// is reused, the most recently indexed definition is returned; callers that
// need a specific one must go through DefAt.
func (x *Index) NodeFor(name string) (Def, bool) {
	ids := x.byName[name]
	if len(ids) == 0 {
		return Def{}, false
	}
	return x.defs[ids[len(ids)-1]], true
}

// NodesFor returns every definition sharing name, in traversal order.
func (x *Index) NodesFor(name string) []Def {
	ids := x.byName[name]
	out := make([]Def, len(ids))
	for i, id := range ids {
		out[i] = x.defs[id]
	}
	return out
}

// Enclosing returns the innermost definition whose span contains line.
// Definitions without an end line only cover their first line.
func (x *Index) Enclosing(line int) (Def, bool) {
	best := -1
	for i := range x.defs {
		d := &x.defs[i]
		end := d.EndLine
		if end < d.Line {
			end = d.Line
		}
		if line < d.Line || line > end {
			continue
		}
		// Pre-order traversal: a later containing def is nested deeper.
		best = i
	}
	if best < 0 {
		return Def{}, false
	}
	return x.defs[best], true
}
