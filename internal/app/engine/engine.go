// Package engine is the caller facing surface of the scanner. It ties the
// rule catalog, the scan orchestrator and fix validation together so callers
// never handle catalog snapshots themselves.
package engine

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/vulnguard/internal/app/fixvalidation"
	rulesapp "github.com/ahrav/vulnguard/internal/app/rules"
	scanapp "github.com/ahrav/vulnguard/internal/app/scanning"
	"github.com/ahrav/vulnguard/internal/domain/rules"
	domain "github.com/ahrav/vulnguard/internal/domain/scanning"
	"github.com/ahrav/vulnguard/pkg/common/logger"
)

// FileSource lists the files of a tree and reads them on demand.
type FileSource interface {
	List(ctx context.Context) ([]string, error)
	domain.FileReader
}

// PathScanRequest describes a scan over a FileSource.
type PathScanRequest struct {
	// Paths restricts the scan to these paths. Empty means every listed file.
	Paths []string
	// Since limits the scan to files changed since this revision. It needs a
	// change selector.
	Since string

	Filter   rules.Filter
	RuleIDs  []string
	Progress scanapp.ProgressFunc
}

// Engine exposes scanning, fix validation and rule management.
type Engine struct {
	rules        *rulesapp.Service
	orchestrator *scanapp.Orchestrator
	fixes        *fixvalidation.Service
	selector     domain.ChangeSelector

	logger *logger.Logger
	tracer trace.Tracer
}

// Option configures an Engine.
type Option func(*Engine)

// WithChangeSelector enables PathScanRequest.Since.
func WithChangeSelector(s domain.ChangeSelector) Option {
	return func(e *Engine) { e.selector = s }
}

// New creates an Engine.
func New(
	rulesSvc *rulesapp.Service,
	orchestrator *scanapp.Orchestrator,
	fixes *fixvalidation.Service,
	log *logger.Logger,
	tracer trace.Tracer,
	opts ...Option,
) *Engine {
	e := &Engine{
		rules:        rulesSvc,
		orchestrator: orchestrator,
		fixes:        fixes,
		logger:       log.With("component", "engine"),
		tracer:       tracer,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Scan runs the current catalog against the request's files.
func (e *Engine) Scan(ctx context.Context, req scanapp.ScanRequest) (*domain.ScanResult, error) {
	catalog, err := e.rules.Current()
	if err != nil {
		return nil, err
	}
	return e.orchestrator.Scan(ctx, catalog, req)
}

// ScanPaths scans files of src. With Since set, only files changed since that
// revision are read.
func (e *Engine) ScanPaths(ctx context.Context, src FileSource, req PathScanRequest) (*domain.ScanResult, error) {
	ctx, span := e.tracer.Start(ctx, "engine.scan_paths",
		trace.WithAttributes(attribute.String("since", req.Since)))
	defer span.End()

	catalog, err := e.rules.Current()
	if err != nil {
		return nil, err
	}

	paths := req.Paths
	if len(paths) == 0 {
		if paths, err = src.List(ctx); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "list files failed")
			return nil, fmt.Errorf("list files: %w", err)
		}
	}

	if req.Since != "" {
		if e.selector == nil {
			return nil, fmt.Errorf("%w: no change selector configured for --since", domain.ErrInvalidArgument)
		}
		listed := len(paths)
		if paths, err = e.selector.SelectChanged(ctx, paths, req.Since); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "select changed files failed")
			return nil, fmt.Errorf("select files changed since %s: %w", req.Since, err)
		}
		e.logger.Info(ctx, "Narrowed scan to changed files", "since", req.Since, "listed", listed, "changed", len(paths))
	}
	span.SetAttributes(attribute.Int("files", len(paths)))

	return e.orchestrator.Scan(ctx, catalog, scanapp.ScanRequest{
		Paths:    paths,
		Reader:   src,
		Filter:   req.Filter,
		RuleIDs:  req.RuleIDs,
		Progress: req.Progress,
	})
}

// ValidateFix validates a fix against the current catalog.
func (e *Engine) ValidateFix(ctx context.Context, req fixvalidation.FixRequest) (*domain.ValidationResult, error) {
	catalog, err := e.rules.Current()
	if err != nil {
		return nil, err
	}
	return e.fixes.ValidateFix(ctx, catalog, req)
}

// ListRules returns the rules of the current catalog matching f.
func (e *Engine) ListRules(f rules.Filter) ([]rules.Rule, error) {
	return e.rules.ListRules(f)
}

// Reload rebuilds the catalog from its sources. Scans already running keep
// the catalog they started with.
func (e *Engine) Reload(ctx context.Context) (*rulesapp.LoadReport, error) {
	_, report, err := e.rules.Reload(ctx)
	return report, err
}
