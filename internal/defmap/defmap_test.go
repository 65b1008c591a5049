package defmap

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phobologic/mendpatch/internal/errs"
	"github.com/phobologic/mendpatch/internal/model"
	"github.com/phobologic/mendpatch/internal/syntax"
)

func def(name string, line int, children ...syntax.ScopeNode) syntax.ScopeNode {
	return syntax.ScopeNode{
		Scope:    syntax.Scope{Kind: model.Function, Name: name, Line: line, EndLine: line + 1},
		Children: children,
	}
}

func async(n syntax.ScopeNode) syntax.ScopeNode {
	n.Async = true
	return n
}

func index(nodes ...syntax.ScopeNode) *syntax.Index {
	return syntax.New(syntax.ScopeTree(nodes))
}

func names(ms []Mapping) []string {
	var out []string
	for _, m := range ms {
		out = append(out, m.Name)
	}
	return out
}

func TestMappingsCoverEveryBeforeName(t *testing.T) {
	t.Parallel()

	before := index(
		def("load", 1),
		def("Client", 4, def("get", 5), def("put", 8)),
		def("load", 12),
	)
	after := index(
		def("Client", 1, async(def("get", 2))),
		def("load", 6),
	)

	m := Map(before, after)
	assert.Equal(t, []string{"load", "Client", "Client.get", "Client.put"}, names(m.Mappings()))

	for _, mp := range m.Mappings() {
		require.NotNil(t, mp.Before, mp.Name)
	}
	assert.Equal(t, []string{"Client.put"}, names(m.Unmapped()))
	assert.Equal(t, []string{"Client.get"}, names(m.Transitions(BecameAsync)))

	coll := m.Collisions()
	require.Len(t, coll, 1)
	assert.Equal(t, "load", coll[0].Name)
	assert.Len(t, coll[0].Candidates, 2)
	assert.Equal(t, 12, coll[0].Before.Line, "Before is the last definition")
}

func TestTransitionsUseInjectedPredicate(t *testing.T) {
	t.Parallel()

	before := index(def("a", 1), def("b", 3))
	after := index(def("a", 1), def("b", 10))

	moved := func(b, a syntax.Def) bool { return b.Line != a.Line }
	assert.Equal(t, []string{"b"}, names(Map(before, after).Transitions(moved)))

	never := func(syntax.Def, syntax.Def) bool { return false }
	assert.Empty(t, Map(before, after).Transitions(never))
}

func TestEmptyIndexes(t *testing.T) {
	t.Parallel()

	m := Map(index(), index(def("a", 1)))
	assert.Empty(t, m.Mappings())
	assert.Empty(t, m.Unmapped())

	m = Map(index(def("a", 1)), index())
	assert.Equal(t, []string{"a"}, names(m.Unmapped()))
}

func TestResolve(t *testing.T) {
	t.Parallel()

	before := index(def("f", 1), def("f", 5), def("g", 9))
	after := index(def("f", 2), def("f", 7), def("g", 11))
	m := Map(before, after)

	mp, err := m.Resolve(5)
	require.NoError(t, err)
	require.NotNil(t, mp.After)
	assert.Equal(t, 7, mp.After.Line, "second f pairs with second f")
	assert.True(t, mp.Collides())

	mp, err = m.Resolve(9)
	require.NoError(t, err)
	assert.Equal(t, 11, mp.After.Line)

	_, err = m.Resolve(3)
	assert.True(t, errors.Is(err, errs.ErrUnresolved))
	assert.False(t, errs.IsFatal(err))
}

func TestResolveAmbiguous(t *testing.T) {
	t.Parallel()

	before := index(def("f", 1), def("f", 5))
	after := index(def("f", 2), def("f", 7), def("f", 12))

	_, err := Map(before, after).Resolve(1)
	var amb *errs.AmbiguousMappingError
	require.True(t, errors.As(err, &amb))
	assert.Equal(t, "f", amb.Subject)
	assert.Equal(t, []string{"f@2", "f@7", "f@12"}, amb.Candidates)
}

func TestResolveSingleAfter(t *testing.T) {
	t.Parallel()

	before := index(def("f", 1), def("f", 5))
	after := index(def("f", 3))

	mp, err := Map(before, after).Resolve(1)
	require.NoError(t, err)
	assert.Equal(t, 3, mp.After.Line)

	mp, err = Map(before, index()).Resolve(5)
	require.NoError(t, err)
	assert.Nil(t, mp.After)
}
