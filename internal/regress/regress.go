// Package regress attributes test regressions to the client code they reach.
package regress

import (
	"fmt"
	"iter"
	"log/slog"
	"slices"

	"github.com/phobologic/mendpatch/internal/model"
)

// Graph is the call-graph view the attributor needs. It is satisfied by
// *callgraph.Graph.
type Graph interface {
	FindTestFunction(item model.TestItem) (*model.FunctionNode, error)
	AllCallees(fn model.FunctionNode) []model.FunctionNode
}

// Attributor answers regression queries against one built call graph.
type Attributor struct {
	graph  Graph
	logger *slog.Logger
}

// New returns an attributor over graph. A nil logger discards output.
func New(graph Graph, logger *slog.Logger) *Attributor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Attributor{graph: graph, logger: logger}
}

// ClientCallsFromTest returns the client functions transitively called by
// the test as it existed before. A test missing from the graph yields none.
func (a *Attributor) ClientCallsFromTest(entry model.TestDiffEntry) ([]model.FunctionNode, error) {
	fn, err := a.graph.FindTestFunction(entry.Before)
	if err != nil {
		return nil, fmt.Errorf("resolving test %s: %w", entry.Before.Key(), err)
	}
	if fn == nil {
		a.logger.Debug("test function not found", "test", entry.Before.Key())
		return nil, nil
	}

	var out []model.FunctionNode
	for _, c := range a.graph.AllCallees(*fn) {
		if c.Owner == model.OwnerClient {
			out = append(out, c)
		}
	}
	return out, nil
}

// FilesWithTestError returns the sorted set of files holding client code
// reached by any regressed test in diff.
func (a *Attributor) FilesWithTestError(diff model.TestReportDiff) ([]string, error) {
	files := make(map[string]struct{})
	for _, e := range diff.Regressions() {
		calls, err := a.ClientCallsFromTest(e)
		if err != nil {
			return nil, err
		}
		for _, c := range calls {
			files[c.File] = struct{}{}
		}
	}

	out := make([]string, 0, len(files))
	for f := range files {
		out = append(out, f)
	}
	slices.Sort(out)
	return out, nil
}

// FailedTestsForFile yields the regressed entries of diff whose reachable
// client code lives in file. The sequence can be iterated more than once.
// An error stops the iteration after being yielded.
func (a *Attributor) FailedTestsForFile(diff model.TestReportDiff, file string) iter.Seq2[model.TestDiffEntry, error] {
	return func(yield func(model.TestDiffEntry, error) bool) {
		for _, e := range diff.Regressions() {
			calls, err := a.ClientCallsFromTest(e)
			if err != nil {
				yield(e, err)
				return
			}
			if !slices.ContainsFunc(calls, func(c model.FunctionNode) bool { return c.File == file }) {
				continue
			}
			if !yield(e, nil) {
				return
			}
		}
	}
}

// Attribute maps every implicated client file to the regressed tests that
// reach it.
func Attribute(graph Graph, diff model.TestReportDiff) (map[string][]model.TestDiffEntry, error) {
	return New(graph, nil).Attribute(diff)
}

// Attribute is the method form of the package-level Attribute.
func (a *Attributor) Attribute(diff model.TestReportDiff) (map[string][]model.TestDiffEntry, error) {
	out := make(map[string][]model.TestDiffEntry)
	for _, e := range diff.Regressions() {
		calls, err := a.ClientCallsFromTest(e)
		if err != nil {
			return nil, err
		}
		seen := make(map[string]bool)
		for _, c := range calls {
			if seen[c.File] {
				continue
			}
			seen[c.File] = true
			out[c.File] = append(out[c.File], e)
		}
	}
	a.logger.Info("attributed regressions",
		"regressions", len(diff.Regressions()),
		"files", len(out))
	return out, nil
}
