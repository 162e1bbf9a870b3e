package rules

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/vulnguard/internal/domain/events"
	"github.com/ahrav/vulnguard/internal/domain/rules"
	"github.com/ahrav/vulnguard/pkg/common/logger"
)

// ErrCatalogNotLoaded is returned before the first successful load.
var ErrCatalogNotLoaded = errors.New("rule catalog not loaded")

// Service owns the current rule catalog. Scans take an explicit snapshot via
// Current; Reload builds a new catalog and swaps it in atomically so scans in
// flight keep the catalog they started with.
type Service struct {
	loader    *Loader
	sources   []rules.Source
	publisher events.DomainEventPublisher

	current    atomic.Pointer[rules.Catalog]
	lastReport atomic.Pointer[LoadReport]
	reloadMu   sync.Mutex

	logger *logger.Logger
	tracer trace.Tracer
}

// NewService creates a Service reading from sources. publisher may be nil.
func NewService(
	loader *Loader,
	sources []rules.Source,
	publisher events.DomainEventPublisher,
	log *logger.Logger,
	tracer trace.Tracer,
) *Service {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &Service{
		loader:    loader,
		sources:   sources,
		publisher: publisher,
		logger:    log.With("component", "rule_service"),
		tracer:    tracer,
	}
}

// Reload loads a fresh catalog from the configured sources. On failure the
// previous catalog stays active.
func (s *Service) Reload(ctx context.Context) (*rules.Catalog, *LoadReport, error) {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	ctx, span := s.tracer.Start(ctx, "rule_service.reload")
	defer span.End()

	catalog, report, err := s.loader.Load(ctx, s.sources...)
	if report != nil {
		s.lastReport.Store(report)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reload failed")
		s.logger.Error(ctx, "rule catalog reload failed, keeping previous catalog", "error", err)
		return nil, report, err
	}

	var previous string
	if old := s.current.Swap(catalog); old != nil {
		previous = old.Fingerprint()
	}
	span.SetAttributes(
		attribute.String("fingerprint", catalog.Fingerprint()),
		attribute.String("previous_fingerprint", previous),
	)

	evt := rules.NewCatalogReloadedEvent(catalog.Fingerprint(), previous, catalog.Len(), len(report.Warnings))
	if err := s.publisher.PublishDomainEvent(ctx, evt, events.WithKey(catalog.Fingerprint())); err != nil {
		// The swap already happened; subscribers catch up on the next reload.
		span.RecordError(err)
		s.logger.Warn(ctx, "failed to publish catalog reloaded event", "error", err)
	}

	return catalog, report, nil
}

// Install makes catalog current without consulting the sources.
func (s *Service) Install(catalog *rules.Catalog) error {
	if catalog == nil || catalog.Usable() == 0 {
		return rules.ErrNoUsableRules
	}
	s.current.Store(catalog)
	return nil
}

// Current returns the active catalog snapshot.
func (s *Service) Current() (*rules.Catalog, error) {
	c := s.current.Load()
	if c == nil {
		return nil, ErrCatalogNotLoaded
	}
	return c, nil
}

// LastReport returns the report of the most recent load attempt, if any.
func (s *Service) LastReport() *LoadReport { return s.lastReport.Load() }

// ListRules returns the rules of the current catalog matching f in priority
// order.
func (s *Service) ListRules(f rules.Filter) ([]rules.Rule, error) {
	c, err := s.Current()
	if err != nil {
		return nil, err
	}
	return c.Lookup(f), nil
}

// Rule returns a single rule of the current catalog.
func (s *Service) Rule(id string) (rules.Rule, error) {
	c, err := s.Current()
	if err != nil {
		return rules.Rule{}, err
	}
	r, ok := c.Rule(id)
	if !ok {
		return rules.Rule{}, fmt.Errorf("%w: %s", rules.ErrUnknownRule, id)
	}
	return r, nil
}
