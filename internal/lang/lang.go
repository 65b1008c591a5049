// Package lang provides a language registry mapping file extensions to
// tree-sitter grammars and the rules for recognising named scopes and call
// sites in each grammar.
package lang

import (
	"path/filepath"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/phobologic/mendpatch/internal/model"
)

// Language holds tree-sitter configuration for a supported language.
type Language struct {
	Name       string
	Extensions []string
	lang       *sitter.Language

	// ScopeOf reports whether node opens a named scope (function, method,
	// class, module) and returns its name and kind.
	ScopeOf func(node *sitter.Node, source []byte) (string, model.SymbolKind, bool)

	// IsAsync reports whether a scope node is declared asynchronous.
	// Nil for languages without the concept.
	IsAsync func(node *sitter.Node) bool

	// Callee returns the called name if node is a call expression. Method
	// calls yield the method name without the receiver.
	Callee func(node *sitter.Node, source []byte) (string, bool)

	// Outer returns the node whose first line is reported for a scope node,
	// such as the decorated wrapper of a Python def. Nil means the node
	// itself.
	Outer func(node *sitter.Node) *sitter.Node

	// Constructor is the method name a call to a class name runs, or "".
	Constructor string
}

// GetLanguage returns the tree-sitter Language pointer.
func (l *Language) GetLanguage() *sitter.Language {
	return l.lang
}

// NewParser creates a fresh tree-sitter parser for this language.
// Each goroutine must use its own parser (not thread-safe).
func (l *Language) NewParser() *sitter.Parser {
	p := sitter.NewParser()
	p.SetLanguage(l.lang)
	return p
}

// Languages maps language names to their configuration.
// Populated by init() functions in per-language files.
var Languages = map[string]*Language{}

// extensionMap is built lazily after all init() functions have run.
var extensionMap map[string]string
var extensionOnce sync.Once

func getExtensionMap() map[string]string {
	extensionOnce.Do(func() {
		extensionMap = make(map[string]string)
		for _, l := range Languages {
			for _, ext := range l.Extensions {
				extensionMap[ext] = l.Name
			}
		}
	})
	return extensionMap
}

// ForExtension returns the language name for a file extension, or "" if unsupported.
func ForExtension(ext string) string {
	return getExtensionMap()[ext]
}

// ForPath returns the language for a file path by extension, or nil.
func ForPath(path string) *Language {
	name := ForExtension(filepath.Ext(path))
	if name == "" {
		return nil
	}
	return Languages[name]
}

// NodeText returns the source text of a tree-sitter node.
func NodeText(node *sitter.Node, source []byte) string {
	return string(source[node.StartByte():node.EndByte()])
}

// fieldText returns the text of the named field child, or "".
func fieldText(node *sitter.Node, field string, source []byte) string {
	child := node.ChildByFieldName(field)
	if child == nil {
		return ""
	}
	return NodeText(child, source)
}
