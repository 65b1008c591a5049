// Package hunk computes zero-context line diffs between two snapshots of one
// file and represents them as ordered, disjoint hunks.
package hunk

import (
	"fmt"
	"strings"

	"github.com/phobologic/mendpatch/internal/errs"
)

// OpKind is the kind of a single line operation.
type OpKind byte

const (
	OpContext OpKind = ' '
	OpAdd     OpKind = '+'
	OpRemove  OpKind = '-'
)

func (k OpKind) String() string {
	switch k {
	case OpContext:
		return "context"
	case OpAdd:
		return "add"
	case OpRemove:
		return "remove"
	}
	return fmt.Sprintf("OpKind(%d)", byte(k))
}

// Op is one line of a hunk body. Text carries no line terminator.
type Op struct {
	Kind OpKind
	Text string
}

// Hunk is a contiguous span of changes. Starts and lengths use unified-diff
// coordinates: 1-based, and for an empty side the start names the line
// before the change.
type Hunk struct {
	SourceStart int
	SourceLen   int
	TargetStart int
	TargetLen   int
	Ops         []Op
}

// FromLines builds a zero-context hunk replacing removed, found at 0-based
// index srcOff of the source, with added at index tgtOff of the target.
func FromLines(srcOff int, removed []string, tgtOff int, added []string) Hunk {
	h := Hunk{
		SourceStart: start(srcOff, len(removed)),
		SourceLen:   len(removed),
		TargetStart: start(tgtOff, len(added)),
		TargetLen:   len(added),
		Ops:         make([]Op, 0, len(removed)+len(added)),
	}
	for _, l := range removed {
		h.Ops = append(h.Ops, Op{Kind: OpRemove, Text: l})
	}
	for _, l := range added {
		h.Ops = append(h.Ops, Op{Kind: OpAdd, Text: l})
	}
	return h
}

func start(off, length int) int {
	if length == 0 {
		return off
	}
	return off + 1
}

// SourceOffset returns the 0-based index in the source lines at which the
// hunk's removed lines begin (or would be inserted when SourceLen is 0).
func (h Hunk) SourceOffset() int {
	if h.SourceLen == 0 {
		return h.SourceStart
	}
	return h.SourceStart - 1
}

// TargetOffset is SourceOffset for the target side.
func (h Hunk) TargetOffset() int {
	if h.TargetLen == 0 {
		return h.TargetStart
	}
	return h.TargetStart - 1
}

// Removed returns the source-side lines of the hunk.
func (h Hunk) Removed() []string {
	return h.lines(OpRemove)
}

// Added returns the target-side lines of the hunk.
func (h Hunk) Added() []string {
	return h.lines(OpAdd)
}

func (h Hunk) lines(kind OpKind) []string {
	var out []string
	for _, op := range h.Ops {
		if op.Kind == kind {
			out = append(out, op.Text)
		}
	}
	return out
}

// Header renders the unified-diff range header, e.g. "@@ -2,3 +1,0 @@".
func (h Hunk) Header() string {
	return fmt.Sprintf("@@ -%s +%s @@", formatRange(h.SourceStart, h.SourceLen), formatRange(h.TargetStart, h.TargetLen))
}

func formatRange(start, length int) string {
	if length == 1 {
		return fmt.Sprintf("%d", start)
	}
	return fmt.Sprintf("%d,%d", start, length)
}

// String renders the hunk as unified-diff text.
func (h Hunk) String() string {
	var b strings.Builder
	b.WriteString(h.Header())
	for _, op := range h.Ops {
		b.WriteByte('\n')
		b.WriteByte(byte(op.Kind))
		b.WriteString(op.Text)
	}
	return b.String()
}

// Diff is the set of hunks between two snapshots of Path.
type Diff struct {
	Path  string
	Hunks []Hunk
}

// Validate checks that hunks are internally consistent, sorted by position
// and pairwise disjoint on both sides.
func Validate(path string, hunks []Hunk) error {
	for i, h := range hunks {
		if h.SourceLen < 0 || h.TargetLen < 0 || h.SourceOffset() < 0 || h.TargetOffset() < 0 {
			return errs.Malformed(path, "hunk %d has negative range %s", i, h.Header())
		}
		if n := len(h.Removed()); n != h.SourceLen {
			return errs.Malformed(path, "hunk %d removes %d lines, header says %d", i, n, h.SourceLen)
		}
		if n := len(h.Added()); n != h.TargetLen {
			return errs.Malformed(path, "hunk %d adds %d lines, header says %d", i, n, h.TargetLen)
		}
		if i == 0 {
			continue
		}
		prev := hunks[i-1]
		if prev.SourceOffset()+prev.SourceLen > h.SourceOffset() {
			return errs.Malformed(path, "hunks %d and %d overlap or are unsorted on the source side", i-1, i)
		}
		if prev.TargetOffset()+prev.TargetLen > h.TargetOffset() {
			return errs.Malformed(path, "hunks %d and %d overlap or are unsorted on the target side", i-1, i)
		}
	}
	return nil
}

// SplitLines splits text into lines without terminators. A trailing newline
// does not produce an empty final line; "\r" stays part of the line.
func SplitLines(text string) []string {
	if text == "" {
		return nil
	}
	lines := strings.Split(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// JoinLines is the inverse of SplitLines.
func JoinLines(lines []string, trailingNewline bool) string {
	if len(lines) == 0 {
		return ""
	}
	s := strings.Join(lines, "\n")
	if trailingNewline {
		s += "\n"
	}
	return s
}
