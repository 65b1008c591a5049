// Package merge restores selected hunks of an old file into its rewritten
// version.
package merge

import (
	"cmp"
	"slices"
	"strings"

	"github.com/phobologic/mendpatch/internal/errs"
	"github.com/phobologic/mendpatch/internal/hunk"
)

// Merge returns newText with the source-side lines of every hunk spliced back
// at the hunk's target offset, replacing that hunk's target-side lines. The
// hunks must come from hunk.Compute(old, new) or an equivalent diff; the order
// they are passed in does not matter.
func Merge(oldText, newText string, hunks []hunk.Hunk) (string, error) {
	if len(hunks) == 0 {
		return newText, nil
	}

	oldLines := hunk.SplitLines(oldText)
	lines := hunk.SplitLines(newText)
	trailing := strings.HasSuffix(newText, "\n")
	if newText == "" {
		trailing = strings.HasSuffix(oldText, "\n")
	}

	// Apply from the bottom up so offsets of the remaining hunks stay valid.
	sorted := slices.Clone(hunks)
	slices.SortStableFunc(sorted, func(a, b hunk.Hunk) int {
		return cmp.Compare(b.TargetOffset(), a.TargetOffset())
	})

	for i, h := range sorted {
		if err := check(oldLines, lines, h); err != nil {
			return "", err
		}
		if i > 0 {
			above := sorted[i-1]
			if h.TargetOffset()+h.TargetLen > above.TargetOffset() ||
				(h.TargetOffset() == above.TargetOffset() && h.TargetLen == 0 && above.TargetLen == 0) {
				return "", errs.Malformed("", "hunks %s and %s overlap", h.Header(), above.Header())
			}
		}
	}

	for _, h := range sorted {
		at := h.TargetOffset()
		lines = slices.Replace(lines, at, at+h.TargetLen, h.Removed()...)
	}

	return hunk.JoinLines(lines, trailing), nil
}

// check verifies that h describes oldLines and newLines.
func check(oldLines, newLines []string, h hunk.Hunk) error {
	removed, added := h.Removed(), h.Added()
	if len(removed) != h.SourceLen || len(added) != h.TargetLen {
		return errs.Malformed("", "hunk %s body does not match its header", h.Header())
	}

	at := h.TargetOffset()
	if at < 0 || at+len(added) > len(newLines) {
		return errs.Malformed("", "hunk %s is out of range for %d new lines", h.Header(), len(newLines))
	}
	if !slices.Equal(newLines[at:at+len(added)], added) {
		return errs.Malformed("", "hunk %s does not match the new text", h.Header())
	}

	src := h.SourceOffset()
	if src < 0 || src+len(removed) > len(oldLines) {
		return errs.Malformed("", "hunk %s is out of range for %d old lines", h.Header(), len(oldLines))
	}
	if !slices.Equal(oldLines[src:src+len(removed)], removed) {
		return errs.Malformed("", "hunk %s does not match the old text", h.Header())
	}
	return nil
}
