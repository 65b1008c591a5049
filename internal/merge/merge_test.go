package merge

import (
	"math/rand/v2"
	"slices"
	"strconv"
	"strings"
	"testing"

	"github.com/cockroachdb/datadriven"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phobologic/mendpatch/internal/errs"
	"github.com/phobologic/mendpatch/internal/hunk"
)

const (
	scenarioOld = "a\nb\nc\nd\ne\nf\ng\nh\ni\nj\n"
	scenarioNew = "a\ne\nf\nh\nx\nj\n"
)

func diff(t *testing.T, oldText, newText string) []hunk.Hunk {
	t.Helper()
	d, err := hunk.Compute("f.py", hunk.SplitLines(oldText), hunk.SplitLines(newText))
	require.NoError(t, err)
	return d.Hunks
}

func TestMergeDataDriven(t *testing.T) {
	datadriven.RunTest(t, "testdata/merge", func(t *testing.T, d *datadriven.TestData) string {
		if d.Cmd != "merge" {
			t.Fatalf("unknown command: %s", d.Cmd)
		}
		lines := strings.Split(d.Input, "\n")
		sep := slices.Index(lines, "==")
		require.GreaterOrEqual(t, sep, 0)
		oldText := hunk.JoinLines(lines[:sep], true)
		newText := hunk.JoinLines(lines[sep+1:], true)

		all := diff(t, oldText, newText)
		var selected []hunk.Hunk
		for _, arg := range d.CmdArgs {
			if arg.Key != "hunks" {
				continue
			}
			for _, v := range arg.Vals {
				if v == "all" {
					selected = append(selected, all...)
					continue
				}
				i, err := strconv.Atoi(v)
				require.NoError(t, err)
				require.Less(t, i, len(all))
				selected = append(selected, all[i])
			}
		}

		out, err := Merge(oldText, newText, selected)
		if err != nil {
			return "error: " + err.Error()
		}
		if out == "" {
			return "(empty)"
		}
		return out
	})
}

func TestMergeScenario(t *testing.T) {
	t.Parallel()

	hunks := diff(t, scenarioOld, scenarioNew)
	require.Len(t, hunks, 3)

	out, err := Merge(scenarioOld, scenarioNew, hunks[:1])
	require.NoError(t, err)
	assert.Equal(t, "a\nb\nc\nd\ne\nf\nh\nx\nj\n", out)
}

func TestMergeIdentity(t *testing.T) {
	t.Parallel()

	for _, newText := range []string{scenarioNew, "", "no newline"} {
		out, err := Merge(scenarioOld, newText, nil)
		require.NoError(t, err)
		assert.Equal(t, newText, out)
	}
}

func TestMergeOrderIndependence(t *testing.T) {
	t.Parallel()

	hunks := diff(t, scenarioOld, scenarioNew)
	want, err := Merge(scenarioOld, scenarioNew, hunks)
	require.NoError(t, err)
	assert.Equal(t, scenarioOld, want, "restoring every hunk gives back the old text")

	r := rand.New(rand.NewPCG(1, 2))
	for range 20 {
		shuffled := slices.Clone(hunks)
		r.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		got, err := Merge(scenarioOld, scenarioNew, shuffled)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	// Every subset, in reverse order.
	for mask := 0; mask < 1<<len(hunks); mask++ {
		var subset []hunk.Hunk
		for i := range hunks {
			if mask&(1<<i) != 0 {
				subset = append(subset, hunks[i])
			}
		}
		forward, err := Merge(scenarioOld, scenarioNew, subset)
		require.NoError(t, err)
		slices.Reverse(subset)
		backward, err := Merge(scenarioOld, scenarioNew, subset)
		require.NoError(t, err)
		assert.Equal(t, forward, backward, "mask %b", mask)
	}
}

func TestMergeIdempotentRestoration(t *testing.T) {
	t.Parallel()

	hunks := diff(t, scenarioOld, scenarioNew)
	restored := hunks[:1]

	merged, err := Merge(scenarioOld, scenarioNew, restored)
	require.NoError(t, err)

	after := diff(t, scenarioOld, merged)
	assert.Len(t, after, len(hunks)-len(restored))
	for _, h := range after {
		for _, r := range restored {
			assert.NotEqual(t, r.Removed(), h.Removed(), "restored hunk %s came back", r.Header())
		}
	}

	// The remaining hunks still apply to the merged text.
	final, err := Merge(scenarioOld, merged, after)
	require.NoError(t, err)
	assert.Equal(t, scenarioOld, final)
}

func TestMergeTrailingNewline(t *testing.T) {
	t.Parallel()

	oldText := "a\nb"
	newText := "a"
	out, err := Merge(oldText, newText, diff(t, oldText, newText))
	require.NoError(t, err)
	assert.Equal(t, "a\nb", out)

	out, err = Merge("a\n", "", diff(t, "a\n", ""))
	require.NoError(t, err)
	assert.Equal(t, "a\n", out)
}

func TestMergeRejectsForeignHunks(t *testing.T) {
	t.Parallel()

	hunks := diff(t, scenarioOld, scenarioNew)

	tests := []struct {
		name    string
		oldText string
		newText string
		hunks   []hunk.Hunk
	}{
		{"new text changed", scenarioOld, "a\ne\nf\nh\ny\nj\n", hunks[2:]},
		{"old text changed", "a\nB\nc\nd\ne\nf\ng\nh\ni\nj\n", scenarioNew, hunks[:1]},
		{"out of range", scenarioOld, "a\n", hunks[2:]},
		{"overlap", scenarioOld, scenarioNew, []hunk.Hunk{hunks[2], hunks[2]}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Merge(tt.oldText, tt.newText, tt.hunks)
			require.Error(t, err)
			assert.Equal(t, errs.MalformedDiff, errs.CodeOf(err))
		})
	}
}
