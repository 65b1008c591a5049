package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phobologic/mendpatch/internal/hunk"
	"github.com/phobologic/mendpatch/internal/skipped"
)

const original = `import db


class Store:
    def save(self, row):
        conn = db.connect()
        conn.insert(row)
        conn.commit()

    def load(self, key):
        return db.get(key)


def helper(x):
    return x * 2
`

const rewritten = `import db


class Store:
    def save(self, row):
        # ... rest of the code remains unchanged ...

    async def load(self, key):
        return await db.get(key)
`

func TestReconcile(t *testing.T) {
	t.Parallel()

	p := New(Options{})
	res, err := p.Reconcile(context.Background(), FileJob{Path: "store.py", Old: original, New: rewritten})
	require.NoError(t, err)

	assert.True(t, res.Changed())
	require.Len(t, res.Restored, 1)
	assert.Equal(t, `import db


class Store:
    def save(self, row):
        conn = db.connect()
        conn.insert(row)
        conn.commit()

    async def load(self, key):
        return await db.get(key)
`, res.Text)

	var names []string
	for _, m := range res.Mappings {
		names = append(names, m.Name)
	}
	assert.Equal(t, []string{"Store", "Store.save", "Store.load", "helper"}, names)

	require.Len(t, res.Unmapped, 1)
	assert.Equal(t, "helper", res.Unmapped[0].Name)

	var async []string
	for _, m := range res.NewlyAsync {
		async = append(async, m.Name)
	}
	assert.Equal(t, []string{"Store.load"}, async)
}

func TestReconcileRestoresLostDefinition(t *testing.T) {
	t.Parallel()

	oldText := "def keep():\n    pass\n\n\ndef helper(): return 1\n"
	newText := "def keep():\n    pass\n\n\n# ...\n"

	res, err := New(Options{}).Reconcile(context.Background(), FileJob{Path: "m.py", Old: oldText, New: newText})
	require.NoError(t, err)
	assert.Equal(t, oldText, res.Text, "a one-line lost definition is still restored")
}

func TestReconcileKeepsEditBesideMarker(t *testing.T) {
	t.Parallel()

	oldText := "def fetch(u):\n    a = requests.get(u)\n    b = parse(a)\n    return b\n"
	newText := "def fetch(u):\n    a = httpx.get(u)\n    # ... rest of the code remains unchanged ...\n"

	res, err := New(Options{}).Reconcile(context.Background(), FileJob{Path: "fetch.py", Old: oldText, New: newText})
	require.NoError(t, err)
	assert.Equal(t, "def fetch(u):\n    a = httpx.get(u)\n    b = parse(a)\n    return b\n", res.Text)
	assert.NotContains(t, res.Text, "requests.get")
}

func TestReconcileCRLF(t *testing.T) {
	t.Parallel()

	oldText := "def f():\r\n    a = 1\r\n    b = 2\r\n    c = 3\r\n"
	newText := "def f():\r\n    # ... rest of the code remains unchanged ...\r\n"

	res, err := New(Options{}).Reconcile(context.Background(), FileJob{Path: "crlf.py", Old: oldText, New: newText})
	require.NoError(t, err)
	assert.Equal(t, oldText, res.Text)
}

func TestReconcileWithoutGrammar(t *testing.T) {
	t.Parallel()

	oldText := "a\nb\nc\n"
	newText := "a\n// rest unchanged\n"

	res, err := New(Options{}).Reconcile(context.Background(), FileJob{Path: "notes.txt", Old: oldText, New: newText})
	require.NoError(t, err)
	assert.Empty(t, res.Mappings)
	assert.Equal(t, oldText, res.Text)
}

func TestReconcileUnchanged(t *testing.T) {
	t.Parallel()

	res, err := New(Options{}).Reconcile(context.Background(), FileJob{Path: "s.py", Old: original, New: original})
	require.NoError(t, err)
	assert.False(t, res.Changed())
	assert.Equal(t, original, res.Text)
	assert.Empty(t, res.Unmapped)
}

type failOn string

func (f failOn) Detect(in skipped.Input) ([]hunk.Hunk, error) {
	if in.Path == string(f) {
		return nil, errors.New("boom")
	}
	return skipped.New(skipped.Options{}, nil).Detect(in)
}

func TestReconcileAllIsolatesFailures(t *testing.T) {
	t.Parallel()

	jobs := []FileJob{
		{Path: "a.py", Old: original, New: rewritten},
		{Path: "b.py", Old: "x = 1\n", New: "x = 2\n"},
		{Path: "c.py", Old: original, New: original},
	}

	p := New(Options{Detector: failOn("b.py"), Workers: 2})
	results, err := p.ReconcileAll(context.Background(), jobs)
	require.NoError(t, err)
	require.Len(t, results, 3)

	for i, r := range results {
		assert.Equal(t, jobs[i].Path, r.Path, "order is preserved")
	}
	assert.NoError(t, results[0].Err)
	assert.True(t, results[0].Changed())
	assert.EqualError(t, results[1].Err, "boom")
	assert.Equal(t, "x = 2\n", results[1].Text, "failed files keep the rewritten text")
	assert.NoError(t, results[2].Err)
}

func TestReconcileAllCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := New(Options{}).ReconcileAll(ctx, []FileJob{{Path: "a.py", Old: original, New: rewritten}})
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, context.Canceled)
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestJobs(t *testing.T) {
	t.Parallel()

	before, after := t.TempDir(), t.TempDir()
	writeFile(t, before, "pkg/store.py", original)
	writeFile(t, after, "pkg/store.py", rewritten)
	writeFile(t, before, "pkg/gone.py", "pass\n")
	writeFile(t, after, "pkg/new.py", "pass\n")
	writeFile(t, before, "README.md", "docs\n")
	writeFile(t, after, "README.md", "docs\n")

	jobs, err := New(Options{}).Jobs(before, after)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "pkg/store.py", jobs[0].Path)
	assert.Equal(t, original, jobs[0].Old)
	assert.True(t, strings.Contains(jobs[0].New, "async def load"))
}

func TestAlign(t *testing.T) {
	t.Parallel()

	p := New(Options{})
	m, err := p.Align(context.Background(), FileJob{Path: "store.py", Old: original, New: rewritten})
	require.NoError(t, err)
	require.NotNil(t, m)

	res, err := m.Resolve(14)
	require.NoError(t, err)
	assert.Equal(t, "helper", res.Name)
	assert.Nil(t, res.After)

	m, err = p.Align(context.Background(), FileJob{Path: "notes.txt", Old: "a\n", New: "b\n"})
	require.NoError(t, err)
	assert.Nil(t, m)
}
