package lang

import (
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"

	"github.com/phobologic/mendpatch/internal/model"
)

func init() {
	Languages["go"] = &Language{
		Name:       "go",
		Extensions: []string{".go"},
		lang:       golang.GetLanguage(),
		ScopeOf:    goScopeOf,
		Callee:     goCallee,
	}
}

// goScopeOf recognises functions, methods and named types. Methods are named
// "Receiver.Method" so that they qualify the same way nested scopes do.
func goScopeOf(node *sitter.Node, source []byte) (string, model.SymbolKind, bool) {
	switch node.Type() {
	case "function_declaration":
		name := fieldText(node, "name", source)
		return name, model.Function, name != ""
	case "method_declaration":
		name := fieldText(node, "name", source)
		if name == "" {
			return "", "", false
		}
		if recv := goFindReceiverType(node, source); recv != "" {
			name = recv + "." + name
		}
		return name, model.Method, true
	case "type_spec":
		name := fieldText(node, "name", source)
		return name, model.Class, name != ""
	}
	return "", "", false
}

// goCallee extracts the called name from a call_expression: f() → f,
// pkg.F() / x.M() → F / M.
func goCallee(node *sitter.Node, source []byte) (string, bool) {
	if node.Type() != "call_expression" {
		return "", false
	}
	fn := node.ChildByFieldName("function")
	if fn == nil {
		return "", false
	}
	switch fn.Type() {
	case "identifier":
		return NodeText(fn, source), true
	case "selector_expression":
		if name := fieldText(fn, "field", source); name != "" {
			return name, true
		}
	}
	return "", false
}

// goFindReceiverType extracts the receiver type name from a method_declaration node.
// Navigates: method_declaration → parameter_list (receiver) → parameter_declaration → type.
func goFindReceiverType(node *sitter.Node, source []byte) string {
	recv := node.ChildByFieldName("receiver")
	if recv == nil {
		return ""
	}
	for j := 0; j < int(recv.ChildCount()); j++ {
		param := recv.Child(j)
		if param.Type() == "parameter_declaration" {
			return goExtractTypeName(param, source)
		}
	}
	return ""
}

// goExtractTypeName extracts the type name from a parameter_declaration,
// unwrapping pointer_type and generic_type if present.
func goExtractTypeName(param *sitter.Node, source []byte) string {
	for i := 0; i < int(param.ChildCount()); i++ {
		child := param.Child(i)
		switch child.Type() {
		case "type_identifier":
			return NodeText(child, source)
		case "pointer_type", "generic_type":
			for k := 0; k < int(child.ChildCount()); k++ {
				inner := child.Child(k)
				if inner.Type() == "type_identifier" {
					return NodeText(inner, source)
				}
			}
		}
	}
	return ""
}
