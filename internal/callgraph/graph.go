// Package callgraph holds an ownership-tagged function-level call graph and
// builds it from source trees.
package callgraph

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/phobologic/mendpatch/internal/errs"
	"github.com/phobologic/mendpatch/internal/model"
)

// DefaultLineWindow is how far a test report's line may be from the
// definition line and still identify it.
const DefaultLineWindow = 3

// FileEdge counts calls from functions in Source to functions in Target.
type FileEdge struct {
	Source string
	Target string
	Calls  int
}

// Graph is an immutable call graph. It is safe for concurrent reads.
type Graph struct {
	functions  []model.FunctionNode
	edges      []model.CallEdge
	callees    map[model.FunctionNode][]model.FunctionNode
	byFile     map[string][]model.FunctionNode
	client     map[string]struct{}
	lineWindow int
}

// Option configures a Graph.
type Option func(*Graph)

// WithLineWindow sets the tolerance FindTestFunction applies to report lines.
func WithLineWindow(n int) Option {
	return func(g *Graph) {
		if n >= 0 {
			g.lineWindow = n
		}
	}
}

// withClientNames marks extra short names as client functions, such as
// class names whose constructors are client code.
func withClientNames(names []string) Option {
	return func(g *Graph) {
		for _, n := range names {
			g.client[n] = struct{}{}
		}
	}
}

// New builds a graph from functions and edges. Functions that only appear in
// edges are added; duplicate edges are dropped.
func New(functions []model.FunctionNode, edges []model.CallEdge, opts ...Option) *Graph {
	g := &Graph{
		callees:    make(map[model.FunctionNode][]model.FunctionNode),
		byFile:     make(map[string][]model.FunctionNode),
		client:     make(map[string]struct{}),
		lineWindow: DefaultLineWindow,
	}
	for _, o := range opts {
		o(g)
	}

	seen := make(map[model.FunctionNode]struct{})
	add := func(fn model.FunctionNode) {
		if _, ok := seen[fn]; ok {
			return
		}
		seen[fn] = struct{}{}
		g.functions = append(g.functions, fn)
	}
	for _, fn := range functions {
		add(fn)
	}

	seenEdge := make(map[model.CallEdge]struct{})
	for _, e := range edges {
		if _, dup := seenEdge[e]; dup {
			continue
		}
		seenEdge[e] = struct{}{}
		add(e.Caller)
		add(e.Callee)
		g.edges = append(g.edges, e)
		g.callees[e.Caller] = append(g.callees[e.Caller], e.Callee)
	}

	slices.SortFunc(g.functions, compareNodes)
	slices.SortFunc(g.edges, func(a, b model.CallEdge) int {
		if c := compareNodes(a.Caller, b.Caller); c != 0 {
			return c
		}
		return compareNodes(a.Callee, b.Callee)
	})

	for _, fn := range g.functions {
		g.byFile[fn.File] = append(g.byFile[fn.File], fn)
		if fn.Owner == model.OwnerClient {
			g.client[fn.ShortName()] = struct{}{}
		}
	}
	return g
}

func compareNodes(a, b model.FunctionNode) int {
	return cmp.Or(
		strings.Compare(a.File, b.File),
		cmp.Compare(a.Line, b.Line),
		strings.Compare(a.QualifiedName, b.QualifiedName),
		strings.Compare(string(a.Owner), string(b.Owner)),
	)
}

// Functions returns every function, sorted by file, line and name.
func (g *Graph) Functions() []model.FunctionNode {
	return slices.Clone(g.functions)
}

// Edges returns every call edge, sorted by caller then callee.
func (g *Graph) Edges() []model.CallEdge {
	return slices.Clone(g.edges)
}

// Function returns the first function in file with the given qualified name.
func (g *Graph) Function(file, name string) (model.FunctionNode, bool) {
	for _, fn := range g.byFile[file] {
		if fn.QualifiedName == name {
			return fn, true
		}
	}
	return model.FunctionNode{}, false
}

// Callees returns the direct callees of fn.
func (g *Graph) Callees(fn model.FunctionNode) []model.FunctionNode {
	return slices.Clone(g.callees[fn])
}

// AllCallees returns every function reachable from fn, sorted. fn itself is
// included only when a cycle leads back to it.
func (g *Graph) AllCallees(fn model.FunctionNode) []model.FunctionNode {
	visited := make(map[model.FunctionNode]struct{})
	queue := slices.Clone(g.callees[fn])
	var out []model.FunctionNode
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if _, ok := visited[next]; ok {
			continue
		}
		visited[next] = struct{}{}
		out = append(out, next)
		queue = append(queue, g.callees[next]...)
	}
	slices.SortFunc(out, compareNodes)
	return out
}

// HasClientFunction reports whether a client-owned function has the given
// short name.
func (g *Graph) HasClientFunction(name string) bool {
	_, ok := g.client[name]
	return ok
}

// FindTestFunction returns the function that implements item. Candidates are
// matched by file and qualified name, falling back to the last name segment.
// Several candidates are narrowed to those within the line window of the
// reported line. No match returns nil without error; more than one is an
// *errs.AmbiguousMappingError.
func (g *Graph) FindTestFunction(item model.TestItem) (*model.FunctionNode, error) {
	fns := g.byFile[item.File]
	cands := filterNodes(fns, func(fn model.FunctionNode) bool {
		return fn.QualifiedName == item.Function
	})
	if len(cands) == 0 {
		short := item.Function
		if i := strings.LastIndexByte(short, '.'); i >= 0 {
			short = short[i+1:]
		}
		cands = filterNodes(fns, func(fn model.FunctionNode) bool {
			return fn.ShortName() == short
		})
	}

	if len(cands) > 1 {
		cands = filterNodes(cands, func(fn model.FunctionNode) bool {
			d := fn.Line - item.Line
			return d >= -g.lineWindow && d <= g.lineWindow
		})
	}

	switch len(cands) {
	case 0:
		return nil, nil
	case 1:
		return &cands[0], nil
	}
	names := make([]string, len(cands))
	for i, c := range cands {
		names[i] = fmt.Sprintf("%s@%d", c.QualifiedName, c.Line)
	}
	return nil, &errs.AmbiguousMappingError{Subject: item.Key(), File: item.File, Candidates: names}
}

// FileEdges aggregates edges between distinct client files.
func (g *Graph) FileEdges() []FileEdge {
	type key struct{ src, tgt string }
	counts := make(map[key]int)
	for _, e := range g.edges {
		if e.Caller.Owner != model.OwnerClient || e.Callee.Owner != model.OwnerClient {
			continue
		}
		if e.Caller.File == e.Callee.File {
			continue // no self-edges
		}
		counts[key{e.Caller.File, e.Callee.File}]++
	}

	out := make([]FileEdge, 0, len(counts))
	for k, n := range counts {
		out = append(out, FileEdge{Source: k.src, Target: k.tgt, Calls: n})
	}
	slices.SortFunc(out, func(a, b FileEdge) int {
		return cmp.Or(strings.Compare(a.Source, b.Source), strings.Compare(a.Target, b.Target))
	})
	return out
}

func filterNodes(fns []model.FunctionNode, keep func(model.FunctionNode) bool) []model.FunctionNode {
	var out []model.FunctionNode
	for _, fn := range fns {
		if keep(fn) {
			out = append(out, fn)
		}
	}
	return out
}
