// Package pipeline reconciles rewritten files with their originals: it
// indexes and aligns definitions, finds dropped regions and merges them back.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/phobologic/mendpatch/internal/defmap"
	"github.com/phobologic/mendpatch/internal/discover"
	"github.com/phobologic/mendpatch/internal/hunk"
	"github.com/phobologic/mendpatch/internal/lang"
	"github.com/phobologic/mendpatch/internal/merge"
	"github.com/phobologic/mendpatch/internal/parse"
	"github.com/phobologic/mendpatch/internal/skipped"
	"github.com/phobologic/mendpatch/internal/syntax"
)

// Detector selects the hunks to restore. It is satisfied by
// *skipped.Detector.
type Detector interface {
	Detect(in skipped.Input) ([]hunk.Hunk, error)
}

// Options configure a Pipeline.
type Options struct {
	// Detector classifies hunks. Nil uses the default detector.
	Detector Detector
	// Calls, when set, marks removed client calls as worth restoring.
	Calls skipped.CallIndex
	// Workers bounds ReconcileAll. Zero uses GOMAXPROCS.
	Workers int
	Logger  *slog.Logger
	// Discover restricts Jobs.
	Discover discover.Options
}

// Pipeline runs reconciliation. It holds no per-file state and is safe for
// concurrent use.
type Pipeline struct {
	detector Detector
	calls    skipped.CallIndex
	workers  int
	logger   *slog.Logger
	discover discover.Options
}

// New returns a pipeline.
func New(opts Options) *Pipeline {
	p := &Pipeline{
		detector: opts.Detector,
		calls:    opts.Calls,
		workers:  opts.Workers,
		logger:   opts.Logger,
		discover: opts.Discover,
	}
	if p.logger == nil {
		p.logger = slog.New(slog.DiscardHandler)
	}
	if p.detector == nil {
		p.detector = skipped.New(skipped.Options{}, p.logger)
	}
	if p.workers <= 0 {
		p.workers = runtime.GOMAXPROCS(0)
	}
	return p
}

// FileJob is one file in its original and rewritten form.
type FileJob struct {
	Path string
	Old  string
	New  string
}

// FileResult is the outcome of reconciling one file.
type FileResult struct {
	Path string
	// Text is New with the restored hunks merged back.
	Text string
	// Restored lists the hunks that were merged back, in file order.
	Restored []hunk.Hunk
	// Mappings aligns the definitions of both versions. Empty when the
	// language has no grammar.
	Mappings   []defmap.Mapping
	Unmapped   []defmap.Mapping
	NewlyAsync []defmap.Mapping
	// Err is set by ReconcileAll when this file failed.
	Err error
}

// Changed reports whether reconciliation altered the rewritten text.
func (r *FileResult) Changed() bool { return len(r.Restored) > 0 }

// Reconcile runs every stage for one file.
func (p *Pipeline) Reconcile(ctx context.Context, job FileJob) (*FileResult, error) {
	res := &FileResult{Path: job.Path, Text: job.New}

	m, err := p.Align(ctx, job)
	if err != nil {
		return nil, err
	}
	var lost []int
	if m != nil {
		res.Mappings = m.Mappings()
		res.Unmapped = m.Unmapped()
		res.NewlyAsync = m.Transitions(defmap.BecameAsync)
		for _, u := range res.Unmapped {
			for _, c := range u.Candidates {
				lost = append(lost, c.Line)
			}
		}
	}

	hunks, err := p.detector.Detect(skipped.Input{
		Path:  job.Path,
		Old:   job.Old,
		New:   job.New,
		Calls: p.calls,
		Lost:  lost,
	})
	if err != nil {
		return nil, err
	}

	text, err := merge.Merge(job.Old, job.New, hunks)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", job.Path, err)
	}
	res.Text = text
	res.Restored = hunks

	p.logger.Debug("reconciled",
		"path", job.Path,
		"restored", len(hunks),
		"unmapped", len(res.Unmapped),
		"newly_async", len(res.NewlyAsync))
	return res, nil
}

// Align indexes both versions of job and maps their definitions. It returns
// nil without error when the language of job.Path has no grammar.
func (p *Pipeline) Align(ctx context.Context, job FileJob) (*defmap.Mapper, error) {
	l := lang.ForPath(job.Path)
	if l == nil {
		p.logger.Debug("no grammar, skipping definition mapping", "path", job.Path)
		return nil, nil
	}
	before, err := index(ctx, l, job.Old)
	if err != nil {
		return nil, fmt.Errorf("%s: indexing original: %w", job.Path, err)
	}
	after, err := index(ctx, l, job.New)
	if err != nil {
		return nil, fmt.Errorf("%s: indexing rewrite: %w", job.Path, err)
	}
	return defmap.Map(before, after), nil
}

func index(ctx context.Context, l *lang.Language, text string) (*syntax.Index, error) {
	tree, err := parse.Text(ctx, l, text)
	if err != nil {
		return nil, err
	}
	return syntax.New(tree), nil
}

// ReconcileAll reconciles jobs in parallel. Results keep the order of jobs;
// a file that fails carries its error in FileResult.Err and does not stop
// the others. The returned error is only set when ctx is cancelled, in which
// case files that never ran carry the context error.
func (p *Pipeline) ReconcileAll(ctx context.Context, jobs []FileJob) ([]FileResult, error) {
	results := make([]FileResult, len(jobs))
	for i, job := range jobs {
		results[i] = FileResult{Path: job.Path, Text: job.New}
	}

	var g errgroup.Group
	g.SetLimit(p.workers)
	for i, job := range jobs {
		if err := ctx.Err(); err != nil {
			results[i].Err = err
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i].Err = err
				return nil
			}
			res, err := p.Reconcile(ctx, job)
			if err != nil {
				p.logger.Warn("reconcile failed", "path", job.Path, "err", err)
				results[i].Err = err
				return nil
			}
			results[i] = *res
			return nil
		})
	}
	_ = g.Wait()

	return results, ctx.Err()
}

// Jobs pairs the files found under both roots by relative path. Files
// present on one side only are skipped.
func (p *Pipeline) Jobs(beforeRoot, afterRoot string) ([]FileJob, error) {
	before, err := discover.Files(beforeRoot, p.discover)
	if err != nil {
		return nil, fmt.Errorf("discovering %s: %w", beforeRoot, err)
	}
	after, err := discover.Files(afterRoot, p.discover)
	if err != nil {
		return nil, fmt.Errorf("discovering %s: %w", afterRoot, err)
	}

	inAfter := make(map[string]bool, len(after))
	for _, f := range after {
		inAfter[f.Path] = true
	}

	var jobs []FileJob
	for _, f := range before {
		if !inAfter[f.Path] {
			p.logger.Debug("no rewritten counterpart", "path", f.Path)
			continue
		}
		oldText, err := os.ReadFile(filepath.Join(beforeRoot, filepath.FromSlash(f.Path)))
		if err != nil {
			return nil, err
		}
		newText, err := os.ReadFile(filepath.Join(afterRoot, filepath.FromSlash(f.Path)))
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, FileJob{Path: f.Path, Old: string(oldText), New: string(newText)})
	}
	return jobs, nil
}
