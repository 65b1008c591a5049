package hunk

import (
	"bytes"
	"fmt"
	"slices"

	"github.com/pmezard/go-difflib/difflib"
	godiff "github.com/sourcegraph/go-diff/diff"

	"github.com/phobologic/mendpatch/internal/errs"
)

// Compute diffs before against after with zero context lines. Identical
// inputs yield an empty Diff. The diff is rendered as unified text and read
// back for its ranges; line text is then taken from before and after, since
// the round trip through patch text does not preserve trailing "\r".
func Compute(path string, before, after []string) (*Diff, error) {
	d := &Diff{Path: path}
	if slices.Equal(before, after) {
		return d, nil
	}

	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        terminate(before),
		B:        terminate(after),
		FromFile: "a/" + path,
		ToFile:   "b/" + path,
		Context:  0,
	})
	if err != nil {
		return nil, fmt.Errorf("diffing %s: %w", path, err)
	}
	if text == "" {
		return d, nil
	}

	hunks, err := Parse(path, []byte(text))
	if err != nil {
		return nil, err
	}
	for i := range hunks {
		if err := fillText(&hunks[i], before, after); err != nil {
			return nil, errs.Malformed(path, "hunk %s: %v", hunks[i].Header(), err)
		}
	}
	d.Hunks = hunks
	return d, nil
}

// Parse reads a unified diff that must describe exactly one file and
// returns its hunks after validating them.
func Parse(path string, patch []byte) ([]Hunk, error) {
	files, err := godiff.ParseMultiFileDiff(patch)
	if err != nil {
		return nil, errs.Malformed(path, "parse: %v", err)
	}
	if len(files) != 1 {
		return nil, errs.Malformed(path, "expected one file patch, got %d", len(files))
	}

	var out []Hunk
	for i, fh := range files[0].Hunks {
		h := Hunk{
			SourceStart: int(fh.OrigStartLine),
			SourceLen:   int(fh.OrigLines),
			TargetStart: int(fh.NewStartLine),
			TargetLen:   int(fh.NewLines),
		}
		ops, err := parseBody(fh.Body)
		if err != nil {
			return nil, errs.Malformed(path, "hunk %d: %v", i, err)
		}
		h.Ops = ops
		out = append(out, h)
	}

	if err := Validate(path, out); err != nil {
		return nil, err
	}
	return out, nil
}

func parseBody(body []byte) ([]Op, error) {
	var ops []Op
	for _, line := range bytes.SplitAfter(body, []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		line = bytes.TrimSuffix(line, []byte("\n"))
		if len(line) == 0 {
			return nil, fmt.Errorf("empty body line")
		}
		switch kind := OpKind(line[0]); kind {
		case OpContext, OpAdd, OpRemove:
			ops = append(ops, Op{Kind: kind, Text: string(line[1:])})
		case '\\':
			// "\ No newline at end of file"
		default:
			return nil, fmt.Errorf("unexpected body line %q", line)
		}
	}
	return ops, nil
}

// fillText replaces the text of every op of h with the line it addresses.
func fillText(h *Hunk, before, after []string) error {
	si, ti := h.SourceOffset(), h.TargetOffset()
	for i := range h.Ops {
		op := &h.Ops[i]
		switch op.Kind {
		case OpRemove, OpContext:
			if si >= len(before) {
				return fmt.Errorf("source line %d out of range", si+1)
			}
			op.Text = before[si]
			si++
			if op.Kind == OpContext {
				ti++
			}
		case OpAdd:
			if ti >= len(after) {
				return fmt.Errorf("target line %d out of range", ti+1)
			}
			op.Text = after[ti]
			ti++
		}
	}
	return nil
}

func terminate(lines []string) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = l + "\n"
	}
	return out
}
