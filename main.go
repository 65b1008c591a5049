// mendpatch restores code that a rewrite elided behind "rest unchanged"
// markers, and attributes test regressions to the client code they reach.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/phobologic/mendpatch/internal/callgraph"
	"github.com/phobologic/mendpatch/internal/config"
	"github.com/phobologic/mendpatch/internal/discover"
	"github.com/phobologic/mendpatch/internal/lang"
	"github.com/phobologic/mendpatch/internal/model"
	"github.com/phobologic/mendpatch/internal/pipeline"
	"github.com/phobologic/mendpatch/internal/ranking"
	"github.com/phobologic/mendpatch/internal/regress"
	"github.com/phobologic/mendpatch/internal/report"
	"github.com/phobologic/mendpatch/internal/skipped"
	"github.com/phobologic/mendpatch/internal/toon"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cmd := newRootCmd(stdout, stderr)
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

// app carries the state shared by all subcommands once the persistent flags
// are resolved.
type app struct {
	stdout, stderr io.Writer

	configPath string
	format     string
	logLevel   string

	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   "mendpatch",
		Short: "Restore elided code in rewritten files and attribute test regressions",
		Long: `mendpatch compares files before and after a rewrite. It restores regions
the rewrite replaced with placeholder comments such as
"# ... rest of the code remains unchanged ...", reports how definitions moved,
and traces tests that regressed to the client code they call.`,
		Version:           version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetVersionTemplate("mendpatch {{.Version}}\n")

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "config file (default ./"+config.FileName+".{yaml,json,toml})")
	pf.StringVar(&a.format, "format", "", "output format: toon or json")
	pf.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn or error")

	root.AddCommand(
		newMergeCmd(a),
		newMapCmd(a),
		newReconcileCmd(a),
		newAttributeCmd(a),
		newInitCmd(a),
	)
	return root
}

// setup loads the configuration, applies flag overrides and builds the
// logger.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("format") {
		cfg.Format = a.format
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	for _, name := range cfg.Languages {
		if _, ok := lang.Languages[name]; !ok {
			return fmt.Errorf("unsupported language %q", name)
		}
	}

	level, _ := cfg.Level()
	a.cfg = cfg
	a.logger = slog.New(slog.NewTextHandler(a.stderr, &slog.HandlerOptions{Level: level}))
	return nil
}

func (a *app) pipeline(calls skipped.CallIndex) *pipeline.Pipeline {
	return pipeline.New(pipeline.Options{
		Detector: skipped.New(a.cfg.Detector, a.logger),
		Calls:    calls,
		Workers:  a.cfg.Workers,
		Logger:   a.logger,
		Discover: discover.Options{
			Languages:   a.cfg.Languages,
			MaxFileSize: a.cfg.MaxFileSize,
			Logger:      a.logger,
		},
	})
}

func (a *app) emit(doc *toon.Document) error {
	if a.cfg.Format == "json" {
		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(a.stdout, string(data))
		return err
	}
	_, err := fmt.Fprintln(a.stdout, doc.String())
	return err
}

func readPair(oldPath, newPath string) (pipeline.FileJob, error) {
	oldText, err := os.ReadFile(oldPath)
	if err != nil {
		return pipeline.FileJob{}, err
	}
	newText, err := os.ReadFile(newPath)
	if err != nil {
		return pipeline.FileJob{}, err
	}
	return pipeline.FileJob{Path: filepath.ToSlash(newPath), Old: string(oldText), New: string(newText)}, nil
}

func newMergeCmd(a *app) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "merge OLD NEW",
		Short: "Restore elided regions of NEW from OLD and print the result",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := readPair(args[0], args[1])
			if err != nil {
				return err
			}
			res, err := a.pipeline(nil).Reconcile(cmd.Context(), job)
			if err != nil {
				return err
			}
			a.logger.Info("merged", "path", job.Path, "restored", len(res.Restored))

			if output != "" {
				return os.WriteFile(output, []byte(res.Text), 0o644)
			}
			_, err = io.WriteString(a.stdout, res.Text)
			return err
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the merged text to this file instead of stdout")
	return cmd
}

func newMapCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "map OLD NEW",
		Short: "Show how the definitions of OLD map onto NEW",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := readPair(args[0], args[1])
			if err != nil {
				return err
			}
			m, err := a.pipeline(nil).Align(cmd.Context(), job)
			if err != nil {
				return err
			}
			if m == nil {
				return fmt.Errorf("%s: no grammar for this file type", job.Path)
			}
			return a.emit(toon.Mappings(job.Path, m.Mappings()))
		},
	}
}

func newReconcileCmd(a *app) *cobra.Command {
	var (
		write bool
		calls bool
	)

	cmd := &cobra.Command{
		Use:   "reconcile BEFORE_DIR AFTER_DIR",
		Short: "Reconcile every file present in both trees",
		Long: `Pairs the files of BEFORE_DIR and AFTER_DIR by relative path, restores the
regions each rewrite elided and reports the outcome. With --write the
restored text replaces the files in AFTER_DIR.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			beforeDir, afterDir := args[0], args[1]

			var index skipped.CallIndex
			if calls {
				g, err := a.builder(callgraph.Root{Path: beforeDir, Owner: model.OwnerClient}).Build(ctx)
				if err != nil {
					return err
				}
				index = g
			}

			p := a.pipeline(index)
			jobs, err := p.Jobs(beforeDir, afterDir)
			if err != nil {
				return err
			}
			results, err := p.ReconcileAll(ctx, jobs)
			if err != nil {
				return err
			}

			var failed int
			for i := range results {
				r := &results[i]
				if r.Err != nil {
					failed++
					continue
				}
				if write && r.Changed() {
					path := filepath.Join(afterDir, filepath.FromSlash(r.Path))
					if err := os.WriteFile(path, []byte(r.Text), 0o644); err != nil {
						return fmt.Errorf("writing %s: %w", path, err)
					}
					a.logger.Info("restored", "path", r.Path, "hunks", len(r.Restored))
				}
			}

			if err := a.emit(toon.Reconcile(results)); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d files failed", failed, len(results))
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&write, "write", "w", false, "write restored files into AFTER_DIR")
	cmd.Flags().BoolVar(&calls, "calls", false, "treat removed calls to functions defined in BEFORE_DIR as significant")
	return cmd
}

func (a *app) builder(roots ...callgraph.Root) *callgraph.Builder {
	return &callgraph.Builder{
		Roots:       roots,
		Workers:     a.cfg.Workers,
		Languages:   a.cfg.Languages,
		MaxFileSize: a.cfg.MaxFileSize,
		LineWindow:  a.cfg.LineWindow,
		Logger:      a.logger,
	}
}

func newAttributeCmd(a *app) *cobra.Command {
	var (
		codebase  string
		libraries []string
		top       int
	)

	cmd := &cobra.Command{
		Use:   "attribute BEFORE_REPORT AFTER_REPORT",
		Short: "Attribute tests that regressed between two pytest JSON reports",
		Long: `Compares two pytest-json-report files, resolves every test that went from
passing to failing in the call graph of --codebase, and ranks the client files
those tests reach. Library trees given with --library are parsed so calls
through them are followed but their files are never blamed.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if codebase == "" {
				return errors.New("--codebase is required")
			}

			before, err := report.LoadFile(args[0])
			if err != nil {
				return err
			}
			after, err := report.LoadFile(args[1])
			if err != nil {
				return err
			}
			diff := report.Compare(before, after)

			roots := []callgraph.Root{{Path: codebase, Owner: model.OwnerClient}}
			for _, lib := range libraries {
				abs, err := filepath.Abs(lib)
				if err != nil {
					return err
				}
				roots = append(roots, callgraph.Root{
					Path:   lib,
					Owner:  model.OwnerLibrary,
					Prefix: strings.TrimSuffix(filepath.Base(abs), string(filepath.Separator)),
				})
			}
			g, err := a.builder(roots...).Build(cmd.Context())
			if err != nil {
				return err
			}

			attribution, err := regress.New(g, a.logger).Attribute(diff)
			if err != nil {
				return err
			}
			files := ranking.Top(ranking.Files(attribution, g), top)
			return a.emit(toon.Attribution(diff.Regressions(), files))
		},
	}
	cmd.Flags().StringVar(&codebase, "codebase", "", "root of the client codebase and its tests")
	cmd.Flags().StringArrayVar(&libraries, "library", nil, "root of a library the codebase calls into (repeatable)")
	cmd.Flags().IntVarP(&top, "top", "n", 0, "limit output to the N highest ranked files")
	return cmd
}
