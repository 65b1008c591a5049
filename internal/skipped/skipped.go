// Package skipped finds diff hunks where a rewrite replaced original code with
// a short "rest unchanged" marker instead of reproducing it.
package skipped

import (
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/phobologic/mendpatch/internal/hunk"
)

// DefaultPhrases are the marker phrasings rewrites commonly leave behind.
var DefaultPhrases = []string{
	"rest of the code remains unchanged",
	"rest of the code remains the same",
	"rest of the code unchanged",
	"rest of the file unchanged",
	"rest of the function unchanged",
	"rest of the class unchanged",
	"rest unchanged",
	"remaining code unchanged",
	"remaining code stays the same",
	"existing code",
	"existing code unchanged",
	"previous code",
	"same as before",
	"unchanged code",
	"other methods unchanged",
	"other methods remain the same",
	"code omitted for brevity",
	"omitted for brevity",
	"implementation unchanged",
	"keep existing implementation",
	"no changes below",
}

// Options tune the classification.
type Options struct {
	// Threshold is the minimum similarity for a comment to count as a marker.
	Threshold float64 `mapstructure:"threshold"`
	// MinRemovedLines is the number of non-blank removed lines that make a
	// removal non-trivial on its own.
	MinRemovedLines int `mapstructure:"min_removed_lines"`
	// MaxMarkerLines bounds the non-blank added lines of a marker.
	MaxMarkerLines int `mapstructure:"max_marker_lines"`
	// MarkerShare is the fraction of added lines that must look like markers.
	MarkerShare float64  `mapstructure:"marker_share"`
	Phrases     []string `mapstructure:"phrases"`
}

// DefaultOptions returns the stock tuning.
func DefaultOptions() Options {
	return Options{
		Threshold:       0.8,
		MinRemovedLines: 2,
		MaxMarkerLines:  3,
		MarkerShare:     0.5,
		Phrases:         slices.Clone(DefaultPhrases),
	}
}

// CallIndex reports which call targets are expected to persist. It is
// satisfied by *callgraph.Graph.
type CallIndex interface {
	HasClientFunction(name string) bool
}

// Input is one file pair to classify.
type Input struct {
	Path string
	Old  string
	New  string
	// Calls is optional.
	Calls CallIndex
	// Lost holds the first lines, in Old, of definitions that have no
	// counterpart in New.
	Lost []int
}

// Verdict is the classification of one hunk.
type Verdict struct {
	Hunk    hunk.Hunk
	Skipped bool
	// Reason explains why the removal counted as non-trivial; empty when it
	// did not.
	Reason string
	// Score is the best marker similarity among the added lines.
	Score float64
	// Restore holds the parts of Hunk to splice back when Skipped. It is Hunk
	// itself unless some added lines are real edits, in which case only the
	// marker lines are replaced.
	Restore []hunk.Hunk
}

// Detector classifies hunks. It is safe for concurrent use.
type Detector struct {
	opts    Options
	phrases []string
	logger  *slog.Logger
}

// New returns a detector. Zero option fields take their defaults; a nil
// logger discards output.
func New(opts Options, logger *slog.Logger) *Detector {
	def := DefaultOptions()
	if opts.Threshold <= 0 {
		opts.Threshold = def.Threshold
	}
	if opts.MinRemovedLines <= 0 {
		opts.MinRemovedLines = def.MinRemovedLines
	}
	if opts.MaxMarkerLines <= 0 {
		opts.MaxMarkerLines = def.MaxMarkerLines
	}
	if opts.MarkerShare <= 0 {
		opts.MarkerShare = def.MarkerShare
	}
	if len(opts.Phrases) == 0 {
		opts.Phrases = def.Phrases
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	d := &Detector{opts: opts, logger: logger}
	for _, p := range opts.Phrases {
		if n := normalize(p); n != "" {
			d.phrases = append(d.phrases, n)
		}
	}
	return d
}

// Options returns the effective options.
func (d *Detector) Options() Options { return d.opts }

// Detect returns the hunks of in that should be restored.
func (d *Detector) Detect(in Input) ([]hunk.Hunk, error) {
	verdicts, err := d.Classify(in)
	if err != nil {
		return nil, err
	}
	var out []hunk.Hunk
	for _, v := range verdicts {
		if v.Skipped {
			out = append(out, v.Restore...)
		}
	}
	return out, nil
}

// Classify returns a verdict for every hunk between in.Old and in.New.
func (d *Detector) Classify(in Input) ([]Verdict, error) {
	diff, err := hunk.Compute(in.Path, hunk.SplitLines(in.Old), hunk.SplitLines(in.New))
	if err != nil {
		return nil, fmt.Errorf("classifying %s: %w", in.Path, err)
	}

	verdicts := make([]Verdict, 0, len(diff.Hunks))
	for _, h := range diff.Hunks {
		v := Verdict{Hunk: h}
		v.Reason = d.nonTrivial(h, in)
		marker, score, marks := d.markerOnly(h.Added())
		v.Score = score
		if v.Reason != "" && marker {
			v.Restore = d.restore(h, marks)
		}
		v.Skipped = len(v.Restore) > 0
		if v.Skipped {
			d.logger.Debug("skipped region",
				"path", in.Path,
				"hunk", h.Header(),
				"reason", v.Reason,
				"score", v.Score,
				"parts", len(v.Restore))
		}
		verdicts = append(verdicts, v)
	}
	return verdicts, nil
}

var callPattern = regexp.MustCompile(`([A-Za-z_]\w*)\s*\(`)

// nonTrivial returns why the removed side of h is worth restoring, or "".
func (d *Detector) nonTrivial(h hunk.Hunk, in Input) string {
	removed := h.Removed()
	if nonBlank(removed) >= d.opts.MinRemovedLines {
		return "lines"
	}
	if in.Calls != nil {
		for _, line := range removed {
			for _, m := range callPattern.FindAllStringSubmatch(line, -1) {
				if in.Calls.HasClientFunction(m[1]) {
					return "call:" + m[1]
				}
			}
		}
	}
	if h.SourceLen > 0 {
		first, last := h.SourceStart, h.SourceStart+h.SourceLen-1
		for _, l := range in.Lost {
			if l >= first && l <= last {
				return fmt.Sprintf("definition:%d", l)
			}
		}
	}
	return ""
}

// markerOnly reports whether added is a short run of lines dominated by
// marker comments, the best score seen, and which lines are markers.
func (d *Detector) markerOnly(added []string) (bool, float64, []bool) {
	n := nonBlank(added)
	if n == 0 || n > d.opts.MaxMarkerLines {
		return false, 0, nil
	}
	marks := make([]bool, len(added))
	var markers int
	var best float64
	for i, line := range added {
		if strings.TrimSpace(line) == "" {
			continue
		}
		s := d.Score(line)
		best = max(best, s)
		if s >= d.opts.Threshold {
			marks[i] = true
			markers++
		}
	}
	return float64(markers)/float64(n) >= d.opts.MarkerShare, best, marks
}

// anchorRatio is the similarity at which an edited line is taken to be the
// rewrite of a removed line.
const anchorRatio = 0.5

// restore returns the parts of h to splice back. When every non-blank added
// line is a marker that is h itself. Otherwise each edited line is anchored
// to the removed line it most resembles, and every run of markers takes the
// removed lines between its neighbouring anchors, so edits survive the merge.
func (d *Detector) restore(h hunk.Hunk, marks []bool) []hunk.Hunk {
	added, removed := h.Added(), h.Removed()
	edited := false
	for i, l := range added {
		if !marks[i] && strings.TrimSpace(l) != "" {
			edited = true
			break
		}
	}
	if !edited {
		return []hunk.Hunk{h}
	}

	anchors := make([]int, len(added))
	cursor := 0
	for i, l := range added {
		anchors[i] = -1
		if marks[i] || strings.TrimSpace(l) == "" {
			continue
		}
		if j := closest(l, removed[cursor:]); j >= 0 {
			anchors[i] = cursor + j
			cursor += j + 1
		}
	}

	var out []hunk.Hunk
	lo := 0
	for i := 0; i < len(added); {
		if !marks[i] {
			if anchors[i] >= 0 {
				lo = anchors[i] + 1
			}
			i++
			continue
		}
		end := i
		for end < len(added) && marks[end] {
			end++
		}
		hi := len(removed)
		for k := end; k < len(added); k++ {
			if anchors[k] >= 0 {
				hi = anchors[k]
				break
			}
		}
		if hi > lo {
			out = append(out, hunk.FromLines(
				h.SourceOffset()+lo, removed[lo:hi],
				h.TargetOffset()+i, added[i:end]))
		}
		lo = max(lo, hi)
		i = end
	}
	return out
}

// closest returns the index of the line in candidates most similar to line,
// or -1 when none reaches anchorRatio.
func closest(line string, candidates []string) int {
	a := strings.Split(strings.TrimSpace(line), "")
	best, at := 0.0, -1
	for j, c := range candidates {
		m := difflib.NewMatcher(a, strings.Split(strings.TrimSpace(c), ""))
		if r := m.Ratio(); r > best {
			best, at = r, j
		}
	}
	if best < anchorRatio {
		return -1
	}
	return at
}

// Score rates how closely line reads like a marker, from 0 to 1. Lines that
// are not comments or ellipses score 0. Phrases of three or more words match
// anywhere in the line; shorter ones only by similarity, so "# fall back to
// existing code path" is not a marker.
func (d *Detector) Score(line string) float64 {
	t := strings.TrimSpace(line)
	if !isComment(t) {
		return 0
	}
	text := normalize(t)
	if text == "" {
		// A bare "..." or "# ..." elides code by itself.
		if strings.Contains(t, "...") || strings.Contains(t, "…") {
			return 1
		}
		return 0
	}

	var best float64
	for _, p := range d.phrases {
		if strings.Count(p, " ") >= 2 && strings.Contains(text, p) {
			return 1
		}
		m := difflib.NewMatcher(strings.Split(text, ""), strings.Split(p, ""))
		best = max(best, m.Ratio())
	}
	return best
}

var commentPrefixes = []string{"#", "//", "/*", "*", "--", `"""`, "'''", "..."}

func isComment(t string) bool {
	for _, p := range commentPrefixes {
		if strings.HasPrefix(t, p) {
			return true
		}
	}
	return strings.HasPrefix(t, "…")
}

var (
	decoration = regexp.MustCompile(`^(#|//|/\*|\*/|\*|--|"""|''')+|(\*/|"""|''')$`)
	punct      = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
	space      = regexp.MustCompile(`\s+`)
)

// normalize lowercases a marker line and strips comment syntax, ellipses
// and punctuation.
func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = decoration.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "…", " ")
	s = punct.ReplaceAllString(s, " ")
	return strings.TrimSpace(space.ReplaceAllString(s, " "))
}

func nonBlank(lines []string) int {
	var n int
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			n++
		}
	}
	return n
}

// Detect classifies old against new with the default options.
func Detect(oldText, newText string, calls CallIndex) ([]hunk.Hunk, error) {
	return New(Options{}, nil).Detect(Input{Old: oldText, New: newText, Calls: calls})
}
