package lang

import (
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/ruby"

	"github.com/phobologic/mendpatch/internal/model"
)

func init() {
	Languages["ruby"] = &Language{
		Name:        "ruby",
		Extensions:  []string{".rb"},
		lang:        ruby.GetLanguage(),
		ScopeOf:     rubyScopeOf,
		Callee:      rubyCallee,
		Constructor: "initialize",
	}
}

func rubyScopeOf(node *sitter.Node, source []byte) (string, model.SymbolKind, bool) {
	switch node.Type() {
	case "method", "singleton_method":
		name := fieldText(node, "name", source)
		if name == "" {
			return "", "", false
		}
		if rubyFindMethodClass(node) != nil {
			return name, model.Method, true
		}
		return name, model.Function, true
	case "class":
		name := rubyClassName(node, source)
		return name, model.Class, name != ""
	case "module":
		name := rubyClassName(node, source)
		return name, model.Module, name != ""
	}
	return "", "", false
}

// rubyCallee returns the method name of a call node. Receiver-less calls
// without arguments parse as bare identifiers and are not reported.
// Client.new yields the class name, Client.
func rubyCallee(node *sitter.Node, source []byte) (string, bool) {
	if node.Type() != "call" {
		return "", false
	}
	name := fieldText(node, "method", source)
	if name == "new" {
		if recv := node.ChildByFieldName("receiver"); recv != nil {
			switch recv.Type() {
			case "constant":
				return NodeText(recv, source), true
			case "scope_resolution":
				if c := fieldText(recv, "name", source); c != "" {
					return c, true
				}
			}
		}
	}
	return name, name != ""
}

// rubyFindMethodClass walks the parent chain looking for a class or module
// node, stopping at an enclosing method.
func rubyFindMethodClass(funcNode *sitter.Node) *sitter.Node {
	node := funcNode.Parent()
	for node != nil {
		switch node.Type() {
		case "class", "module":
			return node
		case "method", "singleton_method":
			return nil
		}
		node = node.Parent()
	}
	return nil
}

// rubyClassName extracts the name from a class or module node.
func rubyClassName(node *sitter.Node, source []byte) string {
	if name := fieldText(node, "name", source); name != "" {
		return name
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child.Type() == "constant" || child.Type() == "scope_resolution" {
			return NodeText(child, source)
		}
	}
	return ""
}
