// Package ranking orders the client files implicated by test regressions.
package ranking

import (
	"cmp"
	"math"
	"slices"
	"strings"

	"github.com/phobologic/mendpatch/internal/callgraph"
	"github.com/phobologic/mendpatch/internal/discover"
	"github.com/phobologic/mendpatch/internal/model"
)

// FileGraph supplies file-level call edges. It is satisfied by
// *callgraph.Graph.
type FileGraph interface {
	FileEdges() []callgraph.FileEdge
}

// RankedFile is one implicated file.
type RankedFile struct {
	Path string
	// Tests is the number of regressed tests reaching the file.
	Tests int
	// Rank is the file's PageRank among client files.
	Rank float64
	// Test marks files that are themselves test code.
	Test bool
}

// Files orders the files of an attribution by regressed-test count, then by
// PageRank over client file edges, then by path. graph may be nil.
func Files(attribution map[string][]model.TestDiffEntry, graph FileGraph) []RankedFile {
	if len(attribution) == 0 {
		return nil
	}

	var edges []callgraph.FileEdge
	if graph != nil {
		edges = graph.FileEdges()
	}
	ranks := Rank(keys(attribution), edges)

	out := make([]RankedFile, 0, len(attribution))
	for path, tests := range attribution {
		out = append(out, RankedFile{
			Path:  path,
			Tests: len(tests),
			Rank:  ranks[path],
			Test:  discover.IsTestFile(path),
		})
	}
	slices.SortFunc(out, func(a, b RankedFile) int {
		return cmp.Or(
			cmp.Compare(b.Tests, a.Tests),
			cmp.Compare(b.Rank, a.Rank),
			strings.Compare(a.Path, b.Path),
		)
	})
	return out
}

// Top returns at most n files. n <= 0 returns all of them.
func Top(files []RankedFile, n int) []RankedFile {
	if n <= 0 || n >= len(files) {
		return files
	}
	return files[:n]
}

// Rank computes PageRank over files and every file the edges touch. An edge
// from a caller's file to a callee's file passes rank in proportion to its
// call count, so heavily used files rank higher.
func Rank(files []string, edges []callgraph.FileEdge) map[string]float64 {
	nodes := make(map[string]struct{})
	for _, f := range files {
		nodes[f] = struct{}{}
	}
	if len(nodes) == 0 {
		return nil
	}

	if len(edges) == 0 {
		uniform := 1.0 / float64(len(nodes))
		ranks := make(map[string]float64, len(nodes))
		for n := range nodes {
			ranks[n] = uniform
		}
		return ranks
	}

	outEdges := make(map[string][]callgraph.FileEdge)
	outDegree := make(map[string]int)
	for _, e := range edges {
		nodes[e.Source] = struct{}{}
		nodes[e.Target] = struct{}{}
		outEdges[e.Source] = append(outEdges[e.Source], e)
		outDegree[e.Source] += e.Calls
	}

	return pageRank(nodes, outEdges, outDegree, 0.85, 100, 1e-6)
}

func pageRank(
	nodes map[string]struct{},
	outEdges map[string][]callgraph.FileEdge,
	outDegree map[string]int,
	alpha float64,
	maxIter int,
	tol float64,
) map[string]float64 {
	n := float64(len(nodes))

	rank := make(map[string]float64, len(nodes))
	for node := range nodes {
		rank[node] = 1.0 / n
	}

	teleport := (1.0 - alpha) / n

	for range maxIter {
		next := make(map[string]float64, len(nodes))

		// Dangling nodes spread their rank evenly.
		var dangling float64
		for node := range nodes {
			if outDegree[node] == 0 {
				dangling += rank[node]
			}
		}
		for node := range nodes {
			next[node] = teleport + alpha*dangling/n
		}

		for src, out := range outEdges {
			share := alpha * rank[src] / float64(outDegree[src])
			for _, e := range out {
				next[e.Target] += share * float64(e.Calls)
			}
		}

		var diff float64
		for node := range nodes {
			diff += math.Abs(next[node] - rank[node])
		}
		rank = next
		if diff < tol {
			break
		}
	}

	return rank
}

func keys(m map[string][]model.TestDiffEntry) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
