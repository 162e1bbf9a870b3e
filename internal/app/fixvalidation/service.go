// Package fixvalidation judges whether a proposed code change resolves the
// issue a rule reported without introducing new ones.
package fixvalidation

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	scanapp "github.com/ahrav/vulnguard/internal/app/scanning"
	"github.com/ahrav/vulnguard/internal/domain/rules"
	domain "github.com/ahrav/vulnguard/internal/domain/scanning"
	"github.com/ahrav/vulnguard/internal/domain/shared"
	"github.com/ahrav/vulnguard/pkg/common/logger"
)

// syntheticBaseName names the single file a snippet is scanned as when the
// caller gives no path.
const syntheticBaseName = "snippet"

// Scanner runs a catalog over a set of files.
type Scanner interface {
	Scan(ctx context.Context, catalog *rules.Catalog, req scanapp.ScanRequest) (*domain.ScanResult, error)
}

// FixRequest pairs a vulnerable snippet with a proposed replacement.
type FixRequest struct {
	Original     string
	Fixed        string
	TargetRuleID string
	// Language selects the grammar and the language-scoped rules. When empty
	// it is inferred from Path.
	Language shared.Language
	// Path is the name both snippets are scanned under. It defaults to
	// "snippet" plus the extension of Language.
	Path string
}

// Service validates fixes by scanning both versions of a snippet. Calls are
// independent and may run concurrently.
type Service struct {
	scanner Scanner
	logger  *logger.Logger
	tracer  trace.Tracer
}

// NewService creates a Service that scans through scanner.
func NewService(scanner Scanner, log *logger.Logger, tracer trace.Tracer) *Service {
	return &Service{
		scanner: scanner,
		logger:  log.With("component", "fix_validation"),
		tracer:  tracer,
	}
}

// ValidateFix reports whether req.Fixed resolves what TargetRuleID found in
// req.Original. The fixed version is also scanned with the whole catalog so
// that issues introduced by the change are surfaced. Findings of rules that
// already fired on the original are not new, even if they moved. Both scores
// are computed under the whole catalog so the delta compares like with like.
func (s *Service) ValidateFix(ctx context.Context, catalog *rules.Catalog, req FixRequest) (*domain.ValidationResult, error) {
	if req.TargetRuleID == "" {
		return nil, fmt.Errorf("%w: target rule id is required", domain.ErrInvalidArgument)
	}
	if strings.TrimSpace(req.Original) == "" {
		return nil, fmt.Errorf("%w: original snippet is empty", domain.ErrInvalidArgument)
	}
	if catalog == nil {
		return nil, rules.ErrNoUsableRules
	}
	if _, ok := catalog.Rule(req.TargetRuleID); !ok {
		return nil, fmt.Errorf("%w: %s", rules.ErrUnknownRule, req.TargetRuleID)
	}

	lang, path := resolveFile(req)

	ctx, span := s.tracer.Start(ctx, "fix_validation.validate_fix",
		trace.WithAttributes(
			attribute.String("rule_id", req.TargetRuleID),
			attribute.String("language", lang.String()),
			attribute.String("path", path),
		))
	defer span.End()

	original := domain.NewSourceFile(path, lang, []byte(req.Original))
	fixed := domain.NewSourceFile(path, lang, []byte(req.Fixed))
	target := []string{req.TargetRuleID}

	before, err := s.scan(ctx, catalog, original, target)
	if err != nil {
		return nil, s.fail(span, "scan original for target rule", err)
	}
	beforeFull, err := s.scan(ctx, catalog, original, nil)
	if err != nil {
		return nil, s.fail(span, "scan original", err)
	}
	afterFull, err := s.scan(ctx, catalog, fixed, nil)
	if err != nil {
		return nil, s.fail(span, "scan fix", err)
	}
	afterTarget, err := s.scan(ctx, catalog, fixed, target)
	if err != nil {
		return nil, s.fail(span, "scan fix for target rule", err)
	}

	result := &domain.ValidationResult{
		RuleID:        req.TargetRuleID,
		WasVulnerable: len(before.Findings) > 0,
		IsNowSecure:   len(afterTarget.Findings) == 0,
		NewIssues:     newIssues(before, beforeFull, afterFull),
		ScoreBefore:   beforeFull.Score,
		ScoreAfter:    afterFull.Score,
		ScoreDelta:    afterFull.Score - beforeFull.Score,
		Remaining:     afterTarget.Findings,
	}
	result.Fixed = result.WasVulnerable && result.IsNowSecure
	if len(result.Remaining) == 0 {
		result.Remaining = nil
	}

	span.SetAttributes(
		attribute.Bool("was_vulnerable", result.WasVulnerable),
		attribute.Bool("fixed", result.Fixed),
		attribute.Int("new_issues", len(result.NewIssues)),
		attribute.Int("score_delta", result.ScoreDelta),
	)
	s.logger.Info(ctx, "Fix validated",
		"rule_id", req.TargetRuleID,
		"was_vulnerable", result.WasVulnerable,
		"fixed", result.Fixed,
		"new_issues", len(result.NewIssues),
		"score_delta", result.ScoreDelta,
	)
	return result, nil
}

func (s *Service) scan(
	ctx context.Context,
	catalog *rules.Catalog,
	file domain.SourceFile,
	ruleIDs []string,
) (*domain.ScanResult, error) {
	res, err := s.scanner.Scan(ctx, catalog, scanapp.ScanRequest{
		Files:   []domain.SourceFile{file},
		RuleIDs: ruleIDs,
	})
	if err != nil {
		return nil, err
	}
	// A verdict built on a scan that never looked at the snippet would claim
	// the fix is secure.
	if res.Partial {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("scan of %s did not complete", file.Path)
	}
	return res, nil
}

func (s *Service) fail(span trace.Span, stage string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, stage)
	return fmt.Errorf("%s: %w", stage, err)
}

// newIssues returns the findings of the fixed version whose rule fired on
// neither the target scan nor the full scan of the original.
func newIssues(before, beforeFull, afterFull *domain.ScanResult) []domain.Finding {
	existing := beforeFull.RuleIDs()
	for id := range before.RuleIDs() {
		existing[id] = struct{}{}
	}

	out := make([]domain.Finding, 0)
	for _, f := range afterFull.Findings {
		if _, seen := existing[f.RuleID]; !seen {
			out = append(out, f)
		}
	}
	return out
}

func resolveFile(req FixRequest) (shared.Language, string) {
	lang, path := req.Language, req.Path
	if lang == shared.LanguageUnknown && path != "" {
		lang = shared.DetectLanguage(path)
	}
	if path == "" {
		path = syntheticBaseName + lang.Extension()
	}
	return lang, path
}
