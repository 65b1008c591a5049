package lang

import (
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"github.com/phobologic/mendpatch/internal/model"
)

func init() {
	Languages["python"] = &Language{
		Name:        "python",
		Extensions:  []string{".py"},
		lang:        python.GetLanguage(),
		ScopeOf:     pythonScopeOf,
		IsAsync:     pythonIsAsync,
		Outer:       pythonOuter,
		Callee:      pythonCallee,
		Constructor: "__init__",
	}
}

// pythonScopeOf recognises function_definition and class_definition nodes.
// Decorated definitions are reached through their decorated_definition
// parent; pythonOuter moves their line up to the first decorator.
func pythonScopeOf(node *sitter.Node, source []byte) (string, model.SymbolKind, bool) {
	switch node.Type() {
	case "function_definition":
		name := fieldText(node, "name", source)
		if name == "" {
			return "", "", false
		}
		if pythonFindEnclosingClass(node) != nil {
			return name, model.Method, true
		}
		return name, model.Function, true
	case "class_definition":
		name := fieldText(node, "name", source)
		if name == "" {
			return "", "", false
		}
		return name, model.Class, true
	}
	return "", "", false
}

// pythonOuter returns the decorated_definition wrapping node, if any. pytest
// reports a decorated test at its first decorator line.
func pythonOuter(node *sitter.Node) *sitter.Node {
	if p := node.Parent(); p != nil && p.Type() == "decorated_definition" {
		return p
	}
	return node
}

// pythonIsAsync reports whether a function_definition carries the async
// keyword, which tree-sitter-python exposes as a direct child.
func pythonIsAsync(node *sitter.Node) bool {
	if node.Type() != "function_definition" {
		return false
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		switch node.Child(i).Type() {
		case "async":
			return true
		case "def":
			return false
		}
	}
	return false
}

// pythonCallee extracts the called name from a call node: foo() → foo,
// obj.attr.foo() → foo.
func pythonCallee(node *sitter.Node, source []byte) (string, bool) {
	if node.Type() != "call" {
		return "", false
	}
	fn := node.ChildByFieldName("function")
	if fn == nil {
		return "", false
	}
	switch fn.Type() {
	case "identifier":
		return NodeText(fn, source), true
	case "attribute":
		if name := fieldText(fn, "attribute", source); name != "" {
			return name, true
		}
	}
	return "", false
}

func pythonFindEnclosingClass(funcNode *sitter.Node) *sitter.Node {
	parent := funcNode.Parent()
	if parent == nil {
		return nil
	}

	// Direct: func -> block -> class_definition
	if parent.Type() == "block" && parent.Parent() != nil && parent.Parent().Type() == "class_definition" {
		return parent.Parent()
	}

	// Decorated: func -> decorated_definition -> block -> class_definition
	if parent.Type() == "decorated_definition" {
		gp := parent.Parent()
		if gp != nil && gp.Type() == "block" && gp.Parent() != nil && gp.Parent().Type() == "class_definition" {
			return gp.Parent()
		}
	}

	return nil
}
