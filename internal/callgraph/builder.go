package callgraph

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"golang.org/x/sync/errgroup"

	"github.com/phobologic/mendpatch/internal/discover"
	"github.com/phobologic/mendpatch/internal/lang"
	"github.com/phobologic/mendpatch/internal/model"
	"github.com/phobologic/mendpatch/internal/parse"
	"github.com/phobologic/mendpatch/internal/syntax"
)

// Root is a source tree contributing functions to the graph.
type Root struct {
	Path  string
	Owner model.Owner
	// Prefix is prepended to file paths of this root, so that a library
	// checked out elsewhere can appear under its import path.
	Prefix string
}

// Builder constructs a Graph from source trees.
type Builder struct {
	Roots []Root
	// Workers bounds concurrent parsing. Zero uses GOMAXPROCS.
	Workers     int
	Languages   []string
	MaxFileSize int64
	LineWindow  int
	Logger      *slog.Logger
}

type sourceFile struct {
	root  Root
	entry discover.FileEntry
}

type parsedFile struct {
	path  string
	owner model.Owner
	index *syntax.Index
	calls []model.CallSite
	// ctor is the language's constructor method name.
	ctor string
}

// Build discovers, parses and links every file of every root. Files that
// cannot be read or parsed are logged and left out.
func (b *Builder) Build(ctx context.Context) (*Graph, error) {
	logger := b.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	var files []sourceFile
	for _, r := range b.Roots {
		entries, err := discover.Files(r.Path, discover.Options{
			Languages:   b.Languages,
			MaxFileSize: b.MaxFileSize,
			Logger:      logger,
		})
		if err != nil {
			return nil, fmt.Errorf("discovering files in %s: %w", r.Path, err)
		}
		for _, e := range entries {
			files = append(files, sourceFile{root: r, entry: e})
		}
	}

	parsed, err := b.parseAll(ctx, files, logger)
	if err != nil {
		return nil, err
	}

	g := link(parsed, WithLineWindow(b.lineWindow()))
	logger.Info("call graph built",
		"files", len(parsed),
		"functions", len(g.functions),
		"edges", len(g.edges))
	return g, nil
}

func (b *Builder) lineWindow() int {
	if b.LineWindow > 0 {
		return b.LineWindow
	}
	return DefaultLineWindow
}

func (b *Builder) parseAll(ctx context.Context, files []sourceFile, logger *slog.Logger) ([]parsedFile, error) {
	numWorkers := b.Workers
	if numWorkers <= 0 {
		numWorkers = runtime.GOMAXPROCS(0)
	}
	numWorkers = min(numWorkers, len(files))

	work := make(chan int)
	results := make([]*parsedFile, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for range numWorkers {
		g.Go(func() error {
			// Each goroutine gets its own parsers
			parsers := make(map[string]*sitter.Parser)
			for idx := range work {
				f := files[idx]
				l := lang.Languages[f.entry.Language]
				p, ok := parsers[l.Name]
				if !ok {
					p = l.NewParser()
					parsers[l.Name] = p
				}

				pf, err := parseFile(ctx, l, p, f)
				if err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					logger.Warn("skipping file", "path", f.entry.Path, "err", err)
					continue
				}
				results[idx] = pf
			}
			return nil
		})
	}

	g.Go(func() error {
		defer close(work)
		for i := range files {
			if err := ctx.Err(); err != nil {
				return err
			}
			select {
			case work <- i:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("parsing files: %w", err)
	}

	var out []parsedFile
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out, nil
}

func parseFile(ctx context.Context, l *lang.Language, p *sitter.Parser, f sourceFile) (*parsedFile, error) {
	source, err := os.ReadFile(filepath.Join(f.root.Path, filepath.FromSlash(f.entry.Path)))
	if err != nil {
		return nil, err
	}
	tree, err := parse.Source(ctx, l, p, source)
	if err != nil {
		return nil, err
	}
	return &parsedFile{
		path:  path.Join(f.root.Prefix, f.entry.Path),
		owner: f.root.Owner,
		index: syntax.New(tree),
		calls: tree.Calls,
		ctor:  l.Constructor,
	}, nil
}

func isFunction(d syntax.Def) bool {
	return d.Kind == model.Function || d.Kind == model.Method
}

func node(file string, owner model.Owner, d syntax.Def) model.FunctionNode {
	return model.FunctionNode{QualifiedName: d.QualifiedName, File: file, Line: d.Line, Owner: owner}
}

// link resolves call sites into edges. A callee is looked up by its simple
// name, in the caller's file first and then across all files. A class name
// resolves to the class's constructor.
func link(files []parsedFile, opts ...Option) *Graph {
	var functions []model.FunctionNode
	var clientClasses []string
	byShort := make(map[string][]model.FunctionNode)
	for _, f := range files {
		for _, d := range f.index.Nodes() {
			if !isFunction(d) {
				continue
			}
			fn := node(f.path, f.owner, d)
			functions = append(functions, fn)
			byShort[fn.ShortName()] = append(byShort[fn.ShortName()], fn)
		}
		for class, ctor := range constructors(f) {
			byShort[class] = append(byShort[class], ctor)
			if ctor.Owner == model.OwnerClient {
				clientClasses = append(clientClasses, class)
			}
		}
	}
	opts = append(opts, withClientNames(clientClasses))

	var edges []model.CallEdge
	for _, f := range files {
		for _, site := range f.calls {
			caller, ok := enclosingFunction(f, site)
			if !ok {
				continue
			}
			targets := byShort[site.Callee]
			var local []model.FunctionNode
			for _, t := range targets {
				if t.File == f.path {
					local = append(local, t)
				}
			}
			if len(local) > 0 {
				targets = local
			}
			for _, t := range targets {
				edges = append(edges, model.CallEdge{Caller: caller, Callee: t})
			}
		}
	}

	return New(functions, edges, opts...)
}

// constructors maps the short name of every class in f that defines a
// constructor to that constructor.
func constructors(f parsedFile) map[string]model.FunctionNode {
	if f.ctor == "" {
		return nil
	}
	out := make(map[string]model.FunctionNode)
	for _, d := range f.index.Nodes() {
		if d.Kind != model.Class {
			continue
		}
		for _, m := range f.index.NodesFor(d.QualifiedName + "." + f.ctor) {
			if isFunction(m) {
				out[className(d.QualifiedName)] = node(f.path, f.owner, m)
				break
			}
		}
	}
	return out
}

// className returns the last segment of a qualified class name, which may
// use Ruby's "::" as well as ".".
func className(qualified string) string {
	if i := strings.LastIndexByte(qualified, '.'); i >= 0 {
		qualified = qualified[i+1:]
	}
	if i := strings.LastIndex(qualified, "::"); i >= 0 {
		qualified = qualified[i+2:]
	}
	return qualified
}

// enclosingFunction finds the function a call site belongs to. Calls made
// directly in a class or module body have none.
func enclosingFunction(f parsedFile, site model.CallSite) (model.FunctionNode, bool) {
	if site.Caller == "" {
		return model.FunctionNode{}, false
	}
	cands := f.index.NodesFor(site.Caller)
	for i := len(cands) - 1; i >= 0; i-- {
		d := cands[i]
		if !isFunction(d) {
			continue
		}
		if len(cands) == 1 || (site.Line >= d.Line && site.Line <= max(d.EndLine, d.Line)) {
			return node(f.path, f.owner, d), true
		}
	}
	return model.FunctionNode{}, false
}
