package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ahrav/vulnguard/internal/app/engine"
	"github.com/ahrav/vulnguard/internal/app/fixvalidation"
	"github.com/ahrav/vulnguard/internal/app/watch"
	"github.com/ahrav/vulnguard/internal/domain/rules"
	"github.com/ahrav/vulnguard/internal/domain/shared"
)

// commonFlags are shared by every command.
type commonFlags struct {
	configPath  string
	cacheDir    string
	cacheKind   string
	concurrency int
	logLevel    string
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", "", "path to a config file (yaml, json or toml)")
	fs.StringVar(&c.cacheKind, "cache", "", "cache backend: none, memory, disk or postgres")
	fs.StringVar(&c.cacheDir, "cache-dir", "", "directory of the disk cache")
	fs.IntVar(&c.concurrency, "concurrency", 0, "files scanned at once (0 uses every CPU)")
	fs.StringVar(&c.logLevel, "log-level", "", "debug, info, warn or error")
}

// overrides returns the config keys set on the command line.
func (c *commonFlags) overrides() map[string]any {
	out := make(map[string]any)
	if c.cacheKind != "" {
		out["cache.backend"] = c.cacheKind
	}
	if c.cacheDir != "" {
		out["cache.dir"] = c.cacheDir
	}
	if c.concurrency > 0 {
		out["scan.concurrency"] = c.concurrency
	}
	if c.logLevel != "" {
		out["log.level"] = c.logLevel
	}
	return out
}

// filterFlags select rules.
type filterFlags struct {
	ids      string
	category string
	severity string
	language string
	text     string
}

func (f *filterFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.ids, "rules", "", "comma separated rule ids to run")
	fs.StringVar(&f.category, "category", "", "only rules of this category")
	fs.StringVar(&f.severity, "severity", "", "only rules of this severity")
	fs.StringVar(&f.language, "language", "", "only rules applying to this language")
	fs.StringVar(&f.text, "text", "", "only rules whose id, name, description or tags contain this text")
}

func (f *filterFlags) filter() (rules.Filter, error) {
	out := rules.Filter{Category: f.category, Text: f.text}
	if f.severity != "" {
		sev, err := rules.ParseSeverity(f.severity)
		if err != nil {
			return rules.Filter{}, err
		}
		out.Severity = sev
	}
	if f.language != "" {
		lang, err := shared.ParseLanguage(f.language)
		if err != nil {
			return rules.Filter{}, err
		}
		out.Language = lang
	}
	return out, nil
}

func (f *filterFlags) ruleIDs() []string {
	if f.ids == "" {
		return nil
	}
	var ids []string
	for _, id := range strings.Split(f.ids, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

// rootArg returns the single optional directory argument, defaulting to the
// working directory.
func rootArg(fs *flag.FlagSet) (string, error) {
	switch fs.NArg() {
	case 0:
		return ".", nil
	case 1:
		return fs.Arg(0), nil
	default:
		return "", fmt.Errorf("expected at most one directory, got %d", fs.NArg())
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runScan(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("scan", stderr)
	var (
		common   commonFlags
		filters  filterFlags
		since    string
		failOn   string
		progress bool
	)
	common.register(fs)
	filters.register(fs)
	fs.StringVar(&since, "since", "", "only scan files changed since this git revision")
	fs.StringVar(&failOn, "fail-on", "", "exit with status 1 when a finding of this severity or higher is reported")
	fs.BoolVar(&progress, "progress", false, "report progress on stderr")
	if err := fs.Parse(args); err != nil {
		return err
	}

	root, err := rootArg(fs)
	if err != nil {
		return err
	}
	filter, err := filters.filter()
	if err != nil {
		return err
	}
	var threshold rules.Severity
	if failOn != "" {
		if threshold, err = rules.ParseSeverity(failOn); err != nil {
			return err
		}
	}

	cfg, err := loadConfig(ctx, common.configPath, common.overrides())
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, root, stderr)
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(ctx))

	req := engine.PathScanRequest{
		Since:   since,
		Filter:  filter,
		RuleIDs: filters.ruleIDs(),
	}
	if progress {
		req.Progress = func(done, total int) {
			fmt.Fprintf(stderr, "\rscanned %d/%d", done, total)
			if done == total {
				fmt.Fprintln(stderr)
			}
		}
	}

	res, err := a.engine.ScanPaths(ctx, a.tree, req)
	if err != nil {
		return err
	}
	if err := writeJSON(stdout, res); err != nil {
		return err
	}

	if res.Partial {
		return errors.New("scan interrupted before every file was scanned")
	}
	if threshold != "" {
		for _, f := range res.Findings {
			if f.Severity.Rank() >= threshold.Rank() {
				return errFindings
			}
		}
	}
	return nil
}

func runValidate(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("validate", stderr)
	var (
		common       commonFlags
		ruleID       string
		originalPath string
		fixedPath    string
		language     string
		path         string
	)
	common.register(fs)
	fs.StringVar(&ruleID, "rule", "", "id of the rule the fix targets")
	fs.StringVar(&originalPath, "original", "", "file holding the vulnerable code")
	fs.StringVar(&fixedPath, "fixed", "", "file holding the proposed fix")
	fs.StringVar(&language, "language", "", "language of both snippets")
	fs.StringVar(&path, "path", "", "path the snippets are scanned under (defaults to the original file's name)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if ruleID == "" || originalPath == "" || fixedPath == "" {
		fs.Usage()
		return errors.New("-rule, -original and -fixed are required")
	}

	original, err := os.ReadFile(originalPath)
	if err != nil {
		return err
	}
	fixed, err := os.ReadFile(fixedPath)
	if err != nil {
		return err
	}

	req := fixvalidation.FixRequest{
		Original:     string(original),
		Fixed:        string(fixed),
		TargetRuleID: ruleID,
		Path:         path,
	}
	if req.Path == "" {
		req.Path = originalPath
	}
	if language != "" {
		if req.Language, err = shared.ParseLanguage(language); err != nil {
			return err
		}
	}

	cfg, err := loadConfig(ctx, common.configPath, common.overrides())
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, "", stderr)
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(ctx))

	res, err := a.engine.ValidateFix(ctx, req)
	if err != nil {
		return err
	}
	if err := writeJSON(stdout, res); err != nil {
		return err
	}
	if !res.Fixed || len(res.NewIssues) > 0 {
		return errFindings
	}
	return nil
}

func runRules(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("rules", stderr)
	var (
		common  commonFlags
		filters filterFlags
		all     bool
	)
	common.register(fs)
	filters.register(fs)
	fs.BoolVar(&all, "all", false, "include disabled rules")
	if err := fs.Parse(args); err != nil {
		return err
	}

	filter, err := filters.filter()
	if err != nil {
		return err
	}
	filter.IDs = filters.ruleIDs()
	filter.IncludeDisabled = all

	cfg, err := loadConfig(ctx, common.configPath, common.overrides())
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, "", stderr)
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(ctx))

	list, err := a.engine.ListRules(filter)
	if err != nil {
		return err
	}
	return writeJSON(stdout, list)
}

func runWatch(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("watch", stderr)
	var (
		common    commonFlags
		filters   filterFlags
		debounce  time.Duration
		debugAddr string
	)
	common.register(fs)
	filters.register(fs)
	fs.DurationVar(&debounce, "debounce", watch.DefaultDebounce, "quiet period before a rescan")
	fs.StringVar(&debugAddr, "debug-addr", "", "serve runtime charts on this address, e.g. localhost:6060")
	if err := fs.Parse(args); err != nil {
		return err
	}

	root, err := rootArg(fs)
	if err != nil {
		return err
	}
	filter, err := filters.filter()
	if err != nil {
		return err
	}

	cfg, err := loadConfig(ctx, common.configPath, common.overrides())
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, root, stderr)
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(ctx))

	if debugAddr != "" {
		if err := a.serveDebug(ctx, debugAddr); err != nil {
			return err
		}
	}

	enc := json.NewEncoder(stdout)
	w := watch.New(a.tree, a.engine, func(u watch.Update) {
		if err := enc.Encode(u); err != nil {
			a.log.Error(ctx, "Failed to write update", "error", err)
		}
	}, a.log, a.tracer,
		watch.WithDebounce(debounce),
		watch.WithEventBus(a.bus),
		watch.WithRequest(engine.PathScanRequest{Filter: filter, RuleIDs: filters.ruleIDs()}),
	)

	a.log.Info(ctx, "Watching for changes", "root", root)
	return w.Run(ctx)
}
