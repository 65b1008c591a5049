// Package parse turns source text into the named-scope trees consumed by
// syntax.New and the raw call sites consumed by the call-graph builder.
package parse

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/phobologic/mendpatch/internal/lang"
	"github.com/phobologic/mendpatch/internal/model"
	"github.com/phobologic/mendpatch/internal/syntax"
)

// Tree is the materialised scope structure of one parsed file. It no longer
// references tree-sitter memory, so it is safe to keep and share.
type Tree struct {
	Language string
	Scopes   syntax.ScopeTree
	// Calls lists call occurrences in source order. CallSite.File is left
	// empty; callers fill it in.
	Calls []model.CallSite
}

// Walk implements syntax.Tree.
func (t *Tree) Walk(v syntax.Visitor) {
	t.Scopes.Walk(v)
}

// Source parses source with a parser created for l. The parser is not safe
// for concurrent use; each goroutine needs its own.
func Source(ctx context.Context, l *lang.Language, parser *sitter.Parser, source []byte) (*Tree, error) {
	out := &Tree{Language: l.Name}
	if len(source) == 0 {
		return out, nil
	}

	tree, err := parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, fmt.Errorf("parsing %s source: %w", l.Name, err)
	}
	defer tree.Close()

	w := &walker{lang: l, source: source, tree: out}
	out.Scopes = w.visit(tree.RootNode())
	return out, nil
}

// Text parses text with a fresh parser for l.
func Text(ctx context.Context, l *lang.Language, text string) (*Tree, error) {
	return Source(ctx, l, l.NewParser(), []byte(text))
}

type walker struct {
	lang   *lang.Language
	source []byte
	tree   *Tree
	stack  []string
}

// visit returns the scopes found at or below node that are not nested in
// another scope below node.
func (w *walker) visit(node *sitter.Node) []syntax.ScopeNode {
	if name, ok := w.lang.Callee(node, w.source); ok {
		w.tree.Calls = append(w.tree.Calls, model.CallSite{
			Caller: strings.Join(w.stack, "."),
			Callee: name,
			Line:   int(node.StartPoint().Row) + 1,
		})
	}

	if name, kind, ok := w.lang.ScopeOf(node, w.source); ok {
		outer := node
		if w.lang.Outer != nil {
			outer = w.lang.Outer(node)
		}
		sn := syntax.ScopeNode{Scope: syntax.Scope{
			Kind:    kind,
			Name:    name,
			Line:    int(outer.StartPoint().Row) + 1,
			EndLine: int(node.EndPoint().Row) + 1,
			Async:   w.lang.IsAsync != nil && w.lang.IsAsync(node),
		}}
		w.stack = append(w.stack, name)
		sn.Children = w.children(node)
		w.stack = w.stack[:len(w.stack)-1]
		return []syntax.ScopeNode{sn}
	}

	return w.children(node)
}

func (w *walker) children(node *sitter.Node) []syntax.ScopeNode {
	var out []syntax.ScopeNode
	for i := 0; i < int(node.NamedChildCount()); i++ {
		out = append(out, w.visit(node.NamedChild(i))...)
	}
	return out
}
