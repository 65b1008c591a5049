package syntax

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phobologic/mendpatch/internal/model"
)

func fn(name string, line, end int, children ...ScopeNode) ScopeNode {
	return ScopeNode{Scope: Scope{Kind: model.Function, Name: name, Line: line, EndLine: end}, Children: children}
}

func class(name string, line, end int, children ...ScopeNode) ScopeNode {
	return ScopeNode{Scope: Scope{Kind: model.Class, Name: name, Line: line, EndLine: end}, Children: children}
}

// nestedTree mirrors:
//
//	1  def func1(): ...
//	4  class ClassA:
//	5      def func1(self):
//	6          class ClassA: ...
//	9      def func2(self):
//	10         def func1(): ...
func nestedTree() ScopeTree {
	return ScopeTree{
		fn("func1", 1, 2),
		class("ClassA", 4, 11,
			fn("func1", 5, 7,
				class("ClassA", 6, 7),
			),
			fn("func2", 9, 11,
				fn("func1", 10, 11),
			),
		),
	}
}

func TestQualifiedNameAt(t *testing.T) {
	t.Parallel()

	idx := New(nestedTree())

	want := map[int]string{
		1:  "func1",
		4:  "ClassA",
		5:  "ClassA.func1",
		6:  "ClassA.func1.ClassA",
		9:  "ClassA.func2",
		10: "ClassA.func2.func1",
	}

	for line := 0; line <= 12; line++ {
		got, ok := idx.QualifiedNameAt(line)
		if name, defined := want[line]; defined {
			assert.True(t, ok, "line %d", line)
			assert.Equal(t, name, got, "line %d", line)
		} else {
			assert.False(t, ok, "line %d should not resolve, got %q", line, got)
		}
	}
}

func TestQualifiedNameNesting(t *testing.T) {
	t.Parallel()

	idx := New(ScopeTree{class("A", 1, 5, class("B", 2, 5, fn("C", 3, 5)))})

	d, ok := idx.NodeFor("A.B.C")
	require.True(t, ok)
	assert.Equal(t, "C", d.Name)
	assert.Equal(t, 3, d.Line)

	qn, ok := idx.QualifiedNameOf(d.ID)
	require.True(t, ok)
	assert.Equal(t, "A.B.C", qn)
}

func TestNodeForDuplicates(t *testing.T) {
	t.Parallel()

	idx := New(ScopeTree{
		fn("foo", 3, 4),
		fn("foo", 20, 22),
	})

	last, ok := idx.NodeFor("foo")
	require.True(t, ok)
	assert.Equal(t, 20, last.Line, "most recently indexed definition wins")

	all := idx.NodesFor("foo")
	require.Len(t, all, 2)
	assert.Equal(t, 3, all[0].Line)
	assert.Equal(t, 20, all[1].Line)

	first, ok := idx.DefAt(3)
	require.True(t, ok)
	assert.Equal(t, all[0].ID, first.ID)
}

func TestEmptyTree(t *testing.T) {
	t.Parallel()

	idx := New(ScopeTree{})
	assert.Zero(t, idx.Len())
	assert.Empty(t, idx.Nodes())

	_, ok := idx.NodeFor("anything")
	assert.False(t, ok)
	_, ok = idx.QualifiedNameOf(0)
	assert.False(t, ok)

	assert.Zero(t, New(nil).Len())
}

func TestEnclosing(t *testing.T) {
	t.Parallel()

	idx := New(nestedTree())

	tests := []struct {
		line int
		want string
		ok   bool
	}{
		{2, "func1", true},
		{3, "", false},
		{7, "ClassA.func1.ClassA", true},
		{8, "ClassA", true},
		{11, "ClassA.func2.func1", true},
		{12, "", false},
	}

	for _, tt := range tests {
		d, ok := idx.Enclosing(tt.line)
		assert.Equal(t, tt.ok, ok, "line %d", tt.line)
		assert.Equal(t, tt.want, d.QualifiedName, "line %d", tt.line)
	}
}

func TestNodesOrder(t *testing.T) {
	t.Parallel()

	idx := New(nestedTree())
	var names []string
	for _, d := range idx.Nodes() {
		names = append(names, d.QualifiedName)
	}
	assert.Equal(t, []string{
		"func1",
		"ClassA",
		"ClassA.func1",
		"ClassA.func1.ClassA",
		"ClassA.func2",
		"ClassA.func2.func1",
	}, names)
}
