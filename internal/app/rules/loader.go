// Package rules loads rule definitions from their sources into validated,
// compiled catalogs and keeps the catalog used by scans current.
package rules

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/vulnguard/internal/domain/rules"
	"github.com/ahrav/vulnguard/internal/domain/shared"
	"github.com/ahrav/vulnguard/pkg/common/logger"
)

// DefaultConfidence is assigned to rules that do not declare a confidence.
const DefaultConfidence = 0.8

// SourceReport summarizes what one source contributed to a load.
type SourceReport struct {
	Name        string
	Definitions int
	Accepted    int
	// Err is set when the source as a whole could not be read.
	Err error
}

// LoadReport describes the outcome of a catalog load. Warnings hold
// *rules.MalformedRuleError and *rules.DuplicateRuleError values.
type LoadReport struct {
	Sources  []SourceReport
	Warnings []error
	Rules    int
	Enabled  int
}

// Malformed returns the malformed rule warnings of the load.
func (r *LoadReport) Malformed() []*rules.MalformedRuleError {
	var out []*rules.MalformedRuleError
	for _, w := range r.Warnings {
		var m *rules.MalformedRuleError
		if errors.As(w, &m) {
			out = append(out, m)
		}
	}
	return out
}

// Loader turns rule definitions from sources into a compiled Catalog.
type Loader struct {
	compiler rules.PatternCompiler
	validate *validator.Validate

	logger *logger.Logger
	tracer trace.Tracer
}

// NewLoader creates a Loader that compiles patterns with compiler.
func NewLoader(compiler rules.PatternCompiler, log *logger.Logger, tracer trace.Tracer) *Loader {
	return &Loader{
		compiler: compiler,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   log.With("component", "rule_loader"),
		tracer:   tracer,
	}
}

type loadedRule struct {
	rule   rules.Rule
	origin string
}

// Load reads every source in order and builds a catalog. Malformed
// definitions and unreadable sources are recorded in the report and skipped.
// When two definitions share an id the later one wins. The only fatal
// outcome is a catalog without enabled rules, reported as
// rules.ErrNoUsableRules.
func (l *Loader) Load(ctx context.Context, sources ...rules.Source) (*rules.Catalog, *LoadReport, error) {
	ctx, span := l.tracer.Start(ctx, "rule_loader.load",
		trace.WithAttributes(attribute.Int("num_sources", len(sources))),
	)
	defer span.End()

	report := new(LoadReport)
	order := make([]string, 0, 64)
	byID := make(map[string]loadedRule, 64)

	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "load cancelled")
			return nil, report, err
		}

		sr := SourceReport{Name: src.Name()}
		batch, err := src.Load(ctx)
		if err != nil {
			sr.Err = err
			report.Sources = append(report.Sources, sr)
			span.RecordError(err)
			l.logger.Warn(ctx, "rule source unavailable", "source", src.Name(), "error", err)
			continue
		}

		for _, rejected := range batch.Rejected {
			report.Warnings = append(report.Warnings, rejected)
			l.logger.Warn(ctx, "skipping malformed rule", "source", src.Name(), "error", rejected)
		}

		sr.Definitions = len(batch.Definitions)
		for i, def := range batch.Definitions {
			rule, err := l.build(def)
			if err != nil {
				var malformed *rules.MalformedRuleError
				if !errors.As(err, &malformed) {
					malformed = rules.NewMalformedRuleError(src.Name(), def.ID, i, "invalid definition", err)
				}
				malformed.Source, malformed.Index = originOf(src.Name(), def), i
				report.Warnings = append(report.Warnings, malformed)
				l.logger.Warn(ctx, "skipping malformed rule", "source", src.Name(), "error", malformed)
				continue
			}

			origin := originOf(src.Name(), def)
			if prev, exists := byID[rule.ID]; exists {
				dup := rules.NewDuplicateRuleError(rule.ID, prev.origin, origin)
				report.Warnings = append(report.Warnings, dup)
				l.logger.Warn(ctx, "duplicate rule id, keeping last definition", "rule_id", rule.ID, "error", dup)
			} else {
				order = append(order, rule.ID)
			}
			byID[rule.ID] = loadedRule{rule: rule, origin: origin}
			sr.Accepted++
		}
		report.Sources = append(report.Sources, sr)
	}

	built := make([]rules.Rule, 0, len(order))
	for _, id := range order {
		built = append(built, byID[id].rule)
	}

	catalog, err := rules.NewCatalog(built)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to build catalog")
		return nil, report, fmt.Errorf("build catalog: %w", err)
	}
	report.Rules = catalog.Len()
	report.Enabled = catalog.Usable()

	span.SetAttributes(
		attribute.Int("num_rules", report.Rules),
		attribute.Int("num_enabled", report.Enabled),
		attribute.Int("num_warnings", len(report.Warnings)),
		attribute.String("fingerprint", catalog.Fingerprint()),
	)

	if report.Enabled == 0 {
		span.SetStatus(codes.Error, "no usable rules")
		return nil, report, rules.ErrNoUsableRules
	}

	l.logger.Info(ctx, "rule catalog loaded",
		"rules", report.Rules,
		"enabled", report.Enabled,
		"warnings", len(report.Warnings),
		"fingerprint", catalog.Fingerprint(),
	)
	span.SetStatus(codes.Ok, "catalog loaded")

	return catalog, report, nil
}

func originOf(source string, def rules.Definition) string {
	if def.Origin == "" {
		return source
	}
	return source + ":" + def.Origin
}

// build validates def and converts it into a compiled Rule.
func (l *Loader) build(def rules.Definition) (rules.Rule, error) {
	if err := l.validate.Struct(def); err != nil {
		return rules.Rule{}, rules.NewMalformedRuleError("", def.ID, 0, describeValidation(err), nil)
	}

	id := strings.TrimSpace(def.ID)
	if id == "" {
		return rules.Rule{}, rules.NewMalformedRuleError("", def.ID, 0, "id is blank", nil)
	}

	severity, err := rules.ParseSeverity(def.Severity)
	if err != nil {
		return rules.Rule{}, rules.NewMalformedRuleError("", def.ID, 0, "bad severity", err)
	}

	langs, err := parseLanguages(def.Languages)
	if err != nil {
		return rules.Rule{}, rules.NewMalformedRuleError("", def.ID, 0, "bad language", err)
	}

	confidence := DefaultConfidence
	if def.Confidence != nil {
		confidence = *def.Confidence
	}
	enabled := true
	if def.Enabled != nil {
		enabled = *def.Enabled
	}

	rule := rules.Rule{
		ID:          id,
		Name:        def.Name,
		Description: def.Description,
		Severity:    severity,
		Category:    strings.ToLower(strings.TrimSpace(def.Category)),
		Confidence:  confidence,
		Languages:   langs,
		Enabled:     enabled,
		Tags:        def.Tags,
		CWE:         def.CWE,
		OWASP:       def.OWASP,
		Fix: rules.FixTemplate{
			Recommendation: def.Fix.Recommendation,
			Before:         def.Fix.Before,
			After:          def.Fix.After,
			References:     def.Fix.References,
		},
	}
	if rule.Name == "" {
		rule.Name = rule.ID
	}

	for i, pd := range def.Patterns {
		p, err := l.buildPattern(pd, langs)
		if err != nil {
			return rules.Rule{}, rules.NewMalformedRuleError("", def.ID, 0, fmt.Sprintf("pattern %d", i), err)
		}
		rule.Patterns = append(rule.Patterns, p)
	}

	return rule, nil
}

func (l *Loader) buildPattern(pd rules.PatternDefinition, ruleLangs []shared.Language) (rules.Pattern, error) {
	kind, err := rules.ParsePatternKind(pd.Kind)
	if err != nil {
		return rules.Pattern{}, err
	}
	langs, err := parseLanguages(pd.Languages)
	if err != nil {
		return rules.Pattern{}, err
	}

	p := rules.Pattern{Kind: kind, Expr: pd.Expr, Languages: langs}

	// Compile against the languages the pattern can actually run on.
	effective := p
	if len(effective.Languages) == 0 {
		effective.Languages = ruleLangs
	}
	compiled, err := l.compiler.Compile(effective)
	if err != nil {
		return rules.Pattern{}, err
	}
	p.Compiled = compiled

	return p, nil
}

func parseLanguages(names []string) ([]shared.Language, error) {
	if len(names) == 0 {
		return nil, nil
	}
	out := make([]shared.Language, 0, len(names))
	for _, n := range names {
		lang, err := shared.ParseLanguage(n)
		if err != nil {
			return nil, err
		}
		out = append(out, lang)
	}
	return out, nil
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(msgs, "; ")
}
