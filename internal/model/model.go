// Package model defines core data structures for mendpatch.
package model

import "strings"

// SymbolKind indicates the syntactic kind of a named scope.
type SymbolKind string

const (
	Class    SymbolKind = "class"
	Function SymbolKind = "function"
	Method   SymbolKind = "method"
	Module   SymbolKind = "module"
)

// Owner classifies a function as user code or code of the library being
// migrated.
type Owner string

const (
	OwnerUnknown Owner = "unknown"
	OwnerClient  Owner = "client"
	OwnerLibrary Owner = "library"
)

// ParseOwner maps a config string onto an Owner. Unrecognised values map to
// OwnerUnknown.
func ParseOwner(s string) Owner {
	switch Owner(strings.ToLower(strings.TrimSpace(s))) {
	case OwnerClient:
		return OwnerClient
	case OwnerLibrary:
		return OwnerLibrary
	}
	return OwnerUnknown
}

// FunctionNode is a function or method in the call graph. It is comparable and
// used directly as a set key.
type FunctionNode struct {
	QualifiedName string
	File          string
	Line          int
	Owner         Owner
}

// ShortName returns the last dotted segment of the qualified name.
func (f FunctionNode) ShortName() string {
	if i := strings.LastIndexByte(f.QualifiedName, '.'); i >= 0 {
		return f.QualifiedName[i+1:]
	}
	return f.QualifiedName
}

// CallEdge is a resolved caller → callee relation.
type CallEdge struct {
	Caller FunctionNode
	Callee FunctionNode
}

// CallSite is a single unresolved call occurrence. Caller is the qualified
// name of the enclosing definition, or "" for module-level code.
type CallSite struct {
	Caller string
	Callee string
	File   string
	Line   int
}

// TestStatus is the outcome of one test in one report.
type TestStatus string

const (
	StatusPassed  TestStatus = "passed"
	StatusFailed  TestStatus = "failed"
	StatusError   TestStatus = "error"
	StatusSkipped TestStatus = "skipped"
)

// Failing reports whether the status counts as a failure.
func (s TestStatus) Failing() bool {
	return s == StatusFailed || s == StatusError
}

// TestItem is one test from a test report.
type TestItem struct {
	// ID is the report's stable node id (module path, function and any
	// parametrisation suffix). Empty when the report has none.
	ID       string
	File     string
	Function string
	Line     int
	Status   TestStatus
}

// Key returns the stable identity used to pair tests across reports.
func (t TestItem) Key() string {
	if t.ID != "" {
		return t.ID
	}
	return t.File + "::" + t.Function
}

// TestDiffEntry pairs the two observations of a test whose status changed.
type TestDiffEntry struct {
	Before TestItem
	After  TestItem
}

// Regressed reports whether the test passed before and fails after.
func (e TestDiffEntry) Regressed() bool {
	return e.Before.Status == StatusPassed && e.After.Status.Failing()
}

// TestReportDiff lists status changes between two report snapshots.
type TestReportDiff []TestDiffEntry

// Regressions returns the entries that went from passing to failing.
func (d TestReportDiff) Regressions() TestReportDiff {
	var out TestReportDiff
	for _, e := range d {
		if e.Regressed() {
			out = append(out, e)
		}
	}
	return out
}
