// prune rewrites source files with structural tree-sitter rules until no
// rule applies.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/dustin/go-humanize"
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/spf13/cobra"

	"github.com/phobologic/prune/internal/config"
	"github.com/phobologic/prune/internal/diff"
	"github.com/phobologic/prune/internal/discover"
	"github.com/phobologic/prune/internal/engine"
	"github.com/phobologic/prune/internal/lang"
	"github.com/phobologic/prune/internal/metrics"
	"github.com/phobologic/prune/internal/model"
	"github.com/phobologic/prune/internal/query"
	"github.com/phobologic/prune/internal/rules"
	"github.com/phobologic/prune/internal/source"
	"github.com/phobologic/prune/internal/toon"
)

var version = "dev"

const defaultLanguage = "java"

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	root := newRootCommand(stdout, stderr)
	root.SetArgs(args)
	return root.Execute()
}

// options holds flags that are not configuration keys.
type options struct {
	configPath string
	verbose    bool
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "prune [path]",
		Short: "Rewrite source files with structural rules",
		Long: `prune applies tree-sitter rewrite rules to every source file under path
(default: the current directory) and repeats until no rule matches.

Without --rules the built-in rule set of the language is used. The Java rule
set deletes stale feature-flag branches; name the flag with
--set stale_flag_name=FLAG and add --set treated=false to keep the branches
taken when the flag is off.`,
		Args:          cobra.MaximumNArgs(1),
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			target := "."
			if len(args) > 0 {
				target = args[0]
			}
			return rewriteTarget(cmd, opts, target, stdout, stderr)
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetVersionTemplate("prune {{.Version}}\n")

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "config file (default: "+config.FileName+" in the target directory)")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "log every applied rule")
	pf.StringP("language", "l", "", "language of the files to rewrite (default: from the rule set, else java)")
	pf.StringP("rules", "r", "", "rule set file (default: the language's built-in rules)")
	pf.StringArray("set", nil, "bind a substitution, as key=value (repeatable)")
	pf.String("log-level", config.DefaultLogLevel, "log level: debug, info, warn or error")
	pf.String("log-format", config.DefaultLogFormat, "log format: text or json")

	f := cmd.Flags()
	f.Int("max-iterations", config.DefaultMaxIterations, "fail a file after this many rewrite steps")
	f.IntP("workers", "j", 0, "files rewritten in parallel (default: GOMAXPROCS)")
	f.String("max-file-size", config.DefaultMaxFileSize, "skip files larger than this")
	f.Bool("exclude-tests", false, "skip test files")
	f.BoolP("dry-run", "n", false, "report changes without writing files")
	f.StringP("format", "f", config.DefaultFormat, "output format: toon or diff")
	f.Bool("color", false, "colorize diff output")
	f.String("metrics-file", "", "write prometheus metrics to this file")

	cmd.AddCommand(newRulesCommand(opts, stdout, stderr))
	cmd.AddCommand(newInitCommand(stdout, stderr))
	cmd.AddCommand(newVersionCommand(stdout))
	return cmd
}

func newVersionCommand(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			_, _ = fmt.Fprintf(stdout, "prune %s\n", version)
		},
	}
}

func newRulesCommand(opts *options, stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "rules [path]",
		Short: "Print the resolved rule set and rule graph",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			cfg, err := config.Load(opts.configPath, dir, cmd.Flags())
			if err != nil {
				return err
			}
			logger := newLogger(stderr, cfg, opts.verbose)

			store, err := loadStore(cfg, nil, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			_, _ = fmt.Fprintln(stdout, toon.EncodeRules(store.Language().Name, store.Substitutions(), store.Rules(), store.Graph().Edges()))
			return nil
		},
	}
}

func newLogger(w io.Writer, cfg *config.Config, verbose bool) *slog.Logger {
	level := cfg.SlogLevel()
	if verbose {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	if cfg.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}

// loadStore reads the configured rule set, or the built-in one, and prepares
// it for its language.
func loadStore(cfg *config.Config, cache *query.Cache, logger *slog.Logger) (*rules.Store, error) {
	var (
		set *rules.RuleSet
		err error
	)
	if cfg.Rules != "" {
		set, err = rules.Load(cfg.Rules)
		if err != nil {
			return nil, err
		}
	}

	name := cfg.Language
	if name == "" && set != nil {
		name = set.Language
	}
	if name == "" {
		name = defaultLanguage
	}
	l, err := lang.Lookup(name)
	if err != nil {
		return nil, err
	}

	if set == nil {
		data, err := l.DefaultRules()
		if err != nil {
			return nil, fmt.Errorf("%w; pass --rules", err)
		}
		set, err = rules.Parse(data)
		if err != nil {
			return nil, fmt.Errorf("built-in %s rules: %w", l.Name, err)
		}
	}

	store, err := rules.NewStore(l, set, cfg.Substitutions, cache)
	if err != nil {
		return nil, err
	}

	seeds := make([]string, 0, len(store.Seeds()))
	for _, r := range store.Seeds() {
		seeds = append(seeds, r.ID)
	}
	reachable := make(map[string]struct{})
	for _, id := range store.Graph().Reachable(seeds) {
		reachable[id] = struct{}{}
	}
	for _, r := range store.Rules() {
		if _, ok := reachable[r.ID]; !ok {
			logger.Warn("rule is not reachable from any seed rule", "rule", r.ID)
		}
	}
	return store, nil
}

// checkSeeds reports seed rules whose declared or query holes the
// substitutions leave unbound. Replacement and constraint holes may be filled
// by captures, and successor rules receive bindings at run time.
func checkSeeds(store *rules.Store) error {
	for _, r := range store.Seeds() {
		for _, h := range r.InputHoles() {
			if _, ok := store.Substitutions()[h]; !ok {
				return fmt.Errorf("%w (bind it with --set %s=VALUE)", &rules.UnboundTagError{RuleID: r.ID, Hole: h}, h)
			}
		}
	}
	return nil
}

func rewriteTarget(cmd *cobra.Command, opts *options, target string, stdout, stderr io.Writer) error {
	target, err := filepath.Abs(target)
	if err != nil {
		return fmt.Errorf("resolving root: %w", err)
	}
	info, err := os.Stat(target)
	if err != nil {
		return fmt.Errorf("root path: %w", err)
	}

	root := target
	if !info.IsDir() {
		root = filepath.Dir(target)
	}

	cfg, err := config.Load(opts.configPath, root, cmd.Flags())
	if err != nil {
		return err
	}
	logger := newLogger(stderr, cfg, opts.verbose)

	cache := query.NewCache()
	defer cache.Close()

	store, err := loadStore(cfg, cache, logger)
	if err != nil {
		return err
	}
	if err := checkSeeds(store); err != nil {
		return err
	}
	l := store.Language()

	var files []discover.FileEntry
	if info.IsDir() {
		files, err = discover.Files(root, []string{l.Name})
		if err != nil {
			return fmt.Errorf("discovering files: %w", err)
		}
	} else {
		if lang.ForExtension(filepath.Ext(target)) != l.Name {
			return fmt.Errorf("%s: not a %s file", target, l.Name)
		}
		files = []discover.FileEntry{{Path: filepath.Base(target), Language: l.Name, Size: info.Size()}}
	}

	rec := metrics.New()
	files = filterFiles(files, cfg, rec, logger)
	if len(files) == 0 {
		return fmt.Errorf("no %s files found", l.Name)
	}

	eng := engine.New(store, engine.Options{
		MaxIterations: cfg.MaxIterations,
		Logger:        logger,
		Observer:      rec,
	})

	results := rewriteFilesConcurrent(cmd.Context(), root, files, l, eng, cfg.Workers)

	failed := 0
	for i := range results {
		res := &results[i]
		if res.Err != nil {
			failed++
			logger.Error("rewrite failed", "file", res.Path, "err", res.Err)
		} else if res.Changed() && !cfg.DryRun {
			if err := writeBack(filepath.Join(root, res.Path), res.Rewritten); err != nil {
				res.Err = err
				failed++
			}
		}
		rec.FileDone(res.Status())
	}
	rec.SetCompiledQueries(cache.Len())

	switch cfg.Format {
	case config.FormatDiff:
		for i := range results {
			res := &results[i]
			if res.Changed() {
				_, _ = fmt.Fprint(stdout, diff.Unified(filepath.ToSlash(res.Path), res.Original, res.Rewritten, cfg.Color))
			}
		}
	default:
		report := &model.Report{Root: filepath.Base(root), Files: results}
		_, _ = fmt.Fprintln(stdout, toon.Encode(report))
	}

	if cfg.MetricsFile != "" {
		if err := rec.WriteTextfile(cfg.MetricsFile); err != nil {
			return err
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(results))
	}
	return nil
}

func filterFiles(files []discover.FileEntry, cfg *config.Config, rec *metrics.Recorder, logger *slog.Logger) []discover.FileEntry {
	var kept []discover.FileEntry
	for _, f := range files {
		if cfg.ExcludeTests && discover.IsTestFile(f.Path) {
			continue
		}
		if uint64(f.Size) > cfg.MaxFileBytes() {
			logger.Warn("skipping large file", "file", f.Path, "size", humanize.Bytes(uint64(f.Size)), "limit", cfg.MaxFileSize)
			rec.FileDone(metrics.StatusSkipped)
			continue
		}
		kept = append(kept, f)
	}
	return kept
}

func writeBack(path string, code []byte) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := os.WriteFile(path, code, info.Mode().Perm()); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// rewriteFilesConcurrent rewrites every file with its own source unit and
// returns the results in input order. Workers share the engine and its rule
// store; each keeps a parser of its own.
func rewriteFilesConcurrent(ctx context.Context, root string, files []discover.FileEntry, l *lang.Language, eng *engine.Engine, workers int) []model.FileResult {
	type result struct {
		index int
		res   model.FileResult
	}

	numWorkers := workers
	if numWorkers <= 0 {
		numWorkers = runtime.GOMAXPROCS(0)
	}
	if numWorkers > len(files) {
		numWorkers = len(files)
	}

	work := make(chan int, len(files))
	results := make(chan result, len(files))

	var wg sync.WaitGroup

	for range numWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()

			// Each goroutine gets its own parser
			parser := l.NewParser()
			defer parser.Close()

			for idx := range work {
				results <- result{index: idx, res: rewriteFile(ctx, root, files[idx], parser, eng)}
			}
		}()
	}

	for i := range files {
		work <- i
	}
	close(work)

	go func() {
		wg.Wait()
		close(results)
	}()

	// Collect results in original order
	ordered := make([]model.FileResult, len(files))
	for r := range results {
		ordered[r.index] = r.res
	}
	return ordered
}

func rewriteFile(ctx context.Context, root string, f discover.FileEntry, parser *sitter.Parser, eng *engine.Engine) model.FileResult {
	res := model.FileResult{Path: f.Path, Language: f.Language}

	code, err := os.ReadFile(filepath.Join(root, f.Path))
	if err != nil {
		res.Err = fmt.Errorf("reading %s: %w", f.Path, err)
		return res
	}
	res.Original = code

	unit, err := source.New(ctx, f.Path, parser, append([]byte(nil), code...))
	if err != nil {
		res.Err = err
		return res
	}
	defer unit.Close()

	sum, err := eng.Run(ctx, unit)
	res.Edits = sum.Edits
	if err != nil {
		res.Err = err
		return res
	}
	res.Rewritten = append([]byte(nil), unit.Code()...)
	return res
}
