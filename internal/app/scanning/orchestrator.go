// Package scanning runs rule catalogs against sets of files and assembles the
// results into scored reports.
package scanning

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ahrav/vulnguard/internal/domain/events"
	"github.com/ahrav/vulnguard/internal/domain/rules"
	domain "github.com/ahrav/vulnguard/internal/domain/scanning"
	"github.com/ahrav/vulnguard/pkg/common/logger"
)

// ProgressFunc is called after each file reaches a terminal state with the
// number of finished files and the total number of files in the scan.
type ProgressFunc func(done, total int)

// ScanRequest describes one scan. Files carry their content already, Paths
// are read through Reader by the worker that handles them. Both may be used
// together but no path may appear twice.
type ScanRequest struct {
	Files  []domain.SourceFile
	Paths  []string
	Reader domain.FileReader

	// Filter and RuleIDs narrow the catalog for this scan. The narrowed
	// catalog has its own fingerprint, so cache entries never mix scopes.
	Filter  rules.Filter
	RuleIDs []string

	Progress ProgressFunc
}

func (r ScanRequest) total() int { return len(r.Files) + len(r.Paths) }

// Orchestrator drives files through matching and synthesis using a bounded
// worker pool. It is safe for concurrent use; every Scan works on the catalog
// it is handed.
type Orchestrator struct {
	engine      domain.MatchEngine
	synth       *Synthesizer
	cache       domain.FindingCache
	concurrency int

	publisher events.DomainEventPublisher
	metrics   ScanMetrics
	logger    *logger.Logger
	tracer    trace.Tracer
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithConcurrency bounds the number of files processed at once. Values below
// one keep the default of GOMAXPROCS.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithCache enables incremental scanning through c.
func WithCache(c domain.FindingCache) Option {
	return func(o *Orchestrator) { o.cache = c }
}

// WithSynthesizer replaces the default Synthesizer.
func WithSynthesizer(s *Synthesizer) Option {
	return func(o *Orchestrator) {
		if s != nil {
			o.synth = s
		}
	}
}

// WithMetrics records scan metrics through m.
func WithMetrics(m ScanMetrics) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithPublisher publishes a ScanCompletedEvent after every scan.
func WithPublisher(p events.DomainEventPublisher) Option {
	return func(o *Orchestrator) {
		if p != nil {
			o.publisher = p
		}
	}
}

// NewOrchestrator creates an Orchestrator that matches through engine.
func NewOrchestrator(engine domain.MatchEngine, log *logger.Logger, tracer trace.Tracer, opts ...Option) *Orchestrator {
	m, _ := NewScanMetrics(metricnoop.NewMeterProvider())
	o := &Orchestrator{
		engine:      engine,
		synth:       NewSynthesizer(),
		concurrency: runtime.GOMAXPROCS(0),
		publisher:   events.NoopPublisher{},
		metrics:     m,
		logger:      log.With("component", "scan_orchestrator"),
		tracer:      tracer,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// scanItem is one unit of work. Exactly one of file and path is set.
type scanItem struct {
	path string
	file *domain.SourceFile
}

// fileOutcome is written by exactly one worker and read after the pool has
// drained.
type fileOutcome struct {
	processed bool
	fromCache bool
	findings  []domain.Finding
	errs      []domain.FileError
}

// Scan runs the catalog, narrowed by the request, against the request's
// files. Per-file failures are reported in the result, only an unusable
// catalog or an invalid request fails the scan. When ctx is cancelled no
// further files are started, files already in progress complete and the
// result is returned with Partial set and a nil error.
func (o *Orchestrator) Scan(ctx context.Context, catalog *rules.Catalog, req ScanRequest) (*domain.ScanResult, error) {
	items, err := validateRequest(req)
	if err != nil {
		return nil, err
	}
	effective, err := effectiveCatalog(catalog, req)
	if err != nil {
		return nil, err
	}

	scanID := uuid.New()
	ctx, span := o.tracer.Start(ctx, "scan_orchestrator.scan",
		trace.WithAttributes(
			attribute.String("scan_id", scanID.String()),
			attribute.String("catalog_fingerprint", effective.Fingerprint()),
			attribute.Int("rule_count", effective.Usable()),
			attribute.Int("file_count", len(items)),
			attribute.Int("concurrency", o.concurrency),
		))
	defer span.End()

	log := o.logger.With("scan_id", scanID.String())
	log.Info(ctx, "Scan started", "files", len(items), "rules", effective.Usable())
	start := time.Now()

	outcomes := make([]fileOutcome, len(items))
	var (
		progressMu sync.Mutex
		done       int
	)
	finished := func() {
		if req.Progress == nil {
			return
		}
		progressMu.Lock()
		defer progressMu.Unlock()
		done++
		req.Progress(done, len(items))
	}

	// Files that have started run to completion even after cancellation so
	// the cache never sees a half-computed entry.
	workCtx := context.WithoutCancel(ctx)

	var g errgroup.Group
	g.SetLimit(o.concurrency)
	for i, item := range items {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			outcomes[i] = o.scanItem(workCtx, log, effective, item, req.Reader)
			finished()
			return nil
		})
	}
	_ = g.Wait()

	result := o.assemble(scanID, effective, items, outcomes)
	result.Duration = time.Since(start)
	if ctx.Err() != nil && len(result.Unscanned) > 0 {
		result.Partial = true
		span.AddEvent("scan_cancelled", trace.WithAttributes(
			attribute.Int("unscanned", len(result.Unscanned)),
		))
		log.Warn(ctx, "Scan cancelled, returning partial result",
			"scanned", result.FilesScanned, "unscanned", len(result.Unscanned))
	}

	o.metrics.ObserveFindings(workCtx, result.Findings)
	o.metrics.ObserveScanDuration(workCtx, result.Duration, result.Partial)

	span.SetAttributes(
		attribute.Int("findings", len(result.Findings)),
		attribute.Int("score", result.Score),
		attribute.Int("files_from_cache", result.FilesFromCache),
		attribute.Int("file_errors", len(result.Errors)),
		attribute.Bool("partial", result.Partial),
	)

	if err := o.publisher.PublishDomainEvent(
		workCtx,
		domain.NewScanCompletedEvent(result),
		events.WithKey(scanID.String()),
	); err != nil {
		span.RecordError(err)
		log.Warn(ctx, "Failed to publish scan completed event", "error", err)
	}

	log.Info(ctx, "Scan completed",
		"findings", len(result.Findings),
		"score", result.Score,
		"files_scanned", result.FilesScanned,
		"files_from_cache", result.FilesFromCache,
		"errors", len(result.Errors),
		"duration", result.Duration,
	)
	return result, nil
}

func validateRequest(req ScanRequest) ([]scanItem, error) {
	if len(req.Paths) > 0 && req.Reader == nil {
		return nil, fmt.Errorf("%w: paths given without a file reader", domain.ErrInvalidArgument)
	}

	items := make([]scanItem, 0, req.total())
	seen := make(map[string]struct{}, req.total())
	add := func(it scanItem) error {
		if it.path == "" {
			return fmt.Errorf("%w: empty file path", domain.ErrInvalidArgument)
		}
		if _, dup := seen[it.path]; dup {
			return fmt.Errorf("%w: duplicate file path %q", domain.ErrInvalidArgument, it.path)
		}
		seen[it.path] = struct{}{}
		items = append(items, it)
		return nil
	}

	for i := range req.Files {
		if err := add(scanItem{path: req.Files[i].Path, file: &req.Files[i]}); err != nil {
			return nil, err
		}
	}
	for _, p := range req.Paths {
		if err := add(scanItem{path: p}); err != nil {
			return nil, err
		}
	}
	return items, nil
}

func effectiveCatalog(catalog *rules.Catalog, req ScanRequest) (*rules.Catalog, error) {
	if catalog == nil || catalog.Usable() == 0 {
		return nil, rules.ErrNoUsableRules
	}

	effective := catalog
	var err error
	if len(req.RuleIDs) > 0 {
		if effective, err = effective.Subset(req.RuleIDs...); err != nil {
			return nil, err
		}
	}
	if effective, err = effective.Narrow(req.Filter); err != nil {
		return nil, err
	}
	if effective.Usable() == 0 {
		return nil, fmt.Errorf("%w: rule filter selects no enabled rules", rules.ErrNoUsableRules)
	}
	return effective, nil
}

func (o *Orchestrator) scanItem(
	ctx context.Context,
	log *logger.Logger,
	catalog *rules.Catalog,
	item scanItem,
	reader domain.FileReader,
) fileOutcome {
	ctx, span := o.tracer.Start(ctx, "scan_orchestrator.scan_file",
		trace.WithAttributes(attribute.String("path", item.path)))
	defer span.End()

	lc := logger.NewLoggerContext(log.With("path", item.path))
	progress := domain.NewFileProgress(item.path)
	out := fileOutcome{processed: true}

	fail := func(err error) fileOutcome {
		span.RecordError(err)
		span.SetStatus(codes.Error, "file failed")
		if advErr := progress.Advance(domain.FileStatusFailed); advErr != nil {
			lc.Error(ctx, "Invalid file state transition", "error", advErr)
		}
		fe := domain.FileErrorFrom(item.path, err)
		o.metrics.IncFileErrors(ctx, fe.Kind)
		lc.Warn(ctx, "File failed", "kind", fe.Kind, "error", err)
		out.errs = append(out.errs, fe)
		return out
	}

	file, err := o.resolve(ctx, item, reader)
	if err != nil {
		return fail(err)
	}
	lc.Add("language", file.Language.String())

	key := domain.NewCacheKey(file, catalog.Fingerprint())
	if cached, ok := o.cacheGet(ctx, lc, key); ok {
		cached = domain.RebindFindings(cached, file.Path)
		o.metrics.IncCacheHits(ctx)
		if err := o.advance(progress, domain.FileStatusCacheHit, domain.FileStatusDone); err != nil {
			return fail(err)
		}
		o.metrics.IncFilesScanned(ctx)
		span.SetAttributes(attribute.Bool("cache_hit", true), attribute.Int("findings", len(cached)))
		lc.Debug(ctx, "Served from cache", "key", key.String(), "findings", len(cached))
		out.fromCache = true
		out.findings = cached
		return out
	}
	o.metrics.IncCacheMisses(ctx)

	if err := progress.Advance(domain.FileStatusMatching); err != nil {
		return fail(err)
	}

	findings, fileErrs := o.matchFile(ctx, lc, catalog, file, progress)
	if progress.Status() == domain.FileStatusFailed {
		out.errs = fileErrs
		return out
	}
	for _, fe := range fileErrs {
		o.metrics.IncFileErrors(ctx, fe.Kind)
	}
	out.findings = findings
	out.errs = fileErrs

	// Results produced alongside an error would hide that error on the next
	// scan, so only clean results are cached.
	if len(fileErrs) == 0 {
		o.cachePut(ctx, lc, key, findings)
	}

	if err := progress.Advance(domain.FileStatusDone); err != nil {
		return fail(err)
	}
	o.metrics.IncFilesScanned(ctx)
	span.SetAttributes(attribute.Bool("cache_hit", false), attribute.Int("findings", len(findings)))
	lc.Debug(ctx, "File scanned", "findings", len(findings), "errors", len(fileErrs))
	return out
}

func (o *Orchestrator) resolve(ctx context.Context, item scanItem, reader domain.FileReader) (domain.SourceFile, error) {
	if item.file != nil {
		return *item.file, nil
	}
	file, err := reader.ReadFile(ctx, item.path)
	if err != nil {
		var accessErr *domain.FileAccessError
		if !errors.As(err, &accessErr) {
			err = domain.NewFileAccessError(item.path, err)
		}
		return domain.SourceFile{}, err
	}
	return file, nil
}

func (o *Orchestrator) advance(p *domain.FileProgress, targets ...domain.FileStatus) error {
	for _, t := range targets {
		if err := p.Advance(t); err != nil {
			return err
		}
	}
	return nil
}

// matchFile runs every applicable pattern against file and synthesizes the
// matches rule by rule. A parse failure is reported once and only disables
// structural patterns. Other matcher errors are reported per pattern.
func (o *Orchestrator) matchFile(
	ctx context.Context,
	lc *logger.LoggerContext,
	catalog *rules.Catalog,
	file domain.SourceFile,
	progress *domain.FileProgress,
) ([]domain.Finding, []domain.FileError) {
	session := o.engine.Open(file)
	defer session.Close()

	type ruleMatches struct {
		rule    rules.Rule
		matches []domain.RawMatch
	}

	var (
		fileErrs     []domain.FileError
		parseFailed  bool
		matchedRules []ruleMatches
	)
	for _, rule := range catalog.Applicable(file.Language) {
		var matches []domain.RawMatch
		for i, p := range rule.Patterns {
			if !p.AppliesTo(file.Language) {
				continue
			}
			if parseFailed && p.Kind == rules.PatternKindStructural {
				continue
			}

			ms, err := session.Match(ctx, rule.ID, i, p)
			if err != nil {
				var parseErr *domain.ParseError
				if errors.As(err, &parseErr) {
					parseFailed = true
					lc.Warn(ctx, "Structural patterns skipped", "error", err)
				} else {
					lc.Warn(ctx, "Pattern failed", "rule_id", rule.ID, "pattern", i, "error", err)
				}
				fileErrs = append(fileErrs, domain.FileErrorFrom(file.Path, err))
				continue
			}
			matches = append(matches, ms...)
		}
		if len(matches) > 0 {
			matchedRules = append(matchedRules, ruleMatches{rule: rule, matches: matches})
		}
	}

	if err := progress.Advance(domain.FileStatusSynthesizing); err != nil {
		lc.Error(ctx, "Invalid file state transition", "error", err)
		_ = progress.Advance(domain.FileStatusFailed)
		return nil, append(fileErrs, domain.FileErrorFrom(file.Path, err))
	}

	idx := domain.NewLineIndex(file.Content)
	findings := make([]domain.Finding, 0)
	for _, rm := range matchedRules {
		findings = append(findings, o.synth.Synthesize(file, idx, rm.rule, rm.matches)...)
	}
	return findings, fileErrs
}

func (o *Orchestrator) cacheGet(ctx context.Context, lc *logger.LoggerContext, key domain.CacheKey) ([]domain.Finding, bool) {
	if o.cache == nil {
		return nil, false
	}
	findings, ok, err := o.cache.Get(ctx, key)
	if err != nil {
		lc.Warn(ctx, "Cache read failed, treating as miss", "key", key.String(), "error", err)
		return nil, false
	}
	return findings, ok
}

func (o *Orchestrator) cachePut(ctx context.Context, lc *logger.LoggerContext, key domain.CacheKey, findings []domain.Finding) {
	if o.cache == nil {
		return
	}
	if err := o.cache.Put(ctx, key, findings); err != nil {
		lc.Warn(ctx, "Cache write failed", "key", key.String(), "error", err)
	}
}

// assemble merges the per-file outcomes. It runs after every worker has
// returned, so the result does not depend on completion order.
func (o *Orchestrator) assemble(
	scanID uuid.UUID,
	catalog *rules.Catalog,
	items []scanItem,
	outcomes []fileOutcome,
) *domain.ScanResult {
	result := &domain.ScanResult{
		ScanID:             scanID,
		Findings:           make([]domain.Finding, 0),
		CatalogFingerprint: catalog.Fingerprint(),
	}

	for i, out := range outcomes {
		if !out.processed {
			result.Unscanned = append(result.Unscanned, items[i].path)
			continue
		}
		result.Errors = append(result.Errors, out.errs...)

		// A file that could not be read contributes nothing, not even an
		// empty finding set, to the score.
		if hasAccessError(out.errs) {
			continue
		}
		result.FilesScanned++
		if out.fromCache {
			result.FilesFromCache++
		}
		result.Findings = append(result.Findings, out.findings...)
	}

	domain.SortFindings(result.Findings)
	slices.Sort(result.Unscanned)
	slices.SortStableFunc(result.Errors, func(a, b domain.FileError) int {
		return cmp.Compare(a.Path, b.Path)
	})

	result.Score = domain.ComputeScore(result.Findings)
	result.Summary = domain.Summarize(result.Findings)
	return result
}

func hasAccessError(errs []domain.FileError) bool {
	return slices.ContainsFunc(errs, func(e domain.FileError) bool {
		return e.Kind == domain.FileErrorAccess
	})
}
