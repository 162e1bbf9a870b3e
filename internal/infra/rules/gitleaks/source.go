// Package gitleaks exposes the default gitleaks secret detection rules as a
// rule source so the scanner can flag leaked credentials alongside its own
// vulnerability rules.
package gitleaks

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/viper"
	"github.com/zricethezav/gitleaks/v8/config"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/vulnguard/internal/domain/rules"
	"github.com/ahrav/vulnguard/pkg/common/logger"
)

// SourceName identifies the gitleaks source in load reports.
const SourceName = "gitleaks"

// IDPrefix is prepended to gitleaks rule ids to keep them apart from the
// scanner's own rules.
const IDPrefix = "gitleaks."

const (
	defaultSeverity   = "high"
	defaultConfidence = 0.7
	category          = "secrets"
	recommendation    = "Remove the secret from source control, rotate it and load it from a secret manager at runtime."
)

// Source converts the gitleaks default configuration into rule definitions.
type Source struct {
	// rawConfig is the gitleaks TOML configuration.
	rawConfig string

	logger *logger.Logger
	tracer trace.Tracer
}

var _ rules.Source = (*Source)(nil)

// NewSource creates a source backed by the embedded gitleaks default config.
func NewSource(log *logger.Logger, tracer trace.Tracer) *Source {
	return NewSourceFromConfig(config.DefaultConfig, log, tracer)
}

// NewSourceFromConfig creates a source from a gitleaks TOML configuration.
func NewSourceFromConfig(rawConfig string, log *logger.Logger, tracer trace.Tracer) *Source {
	return &Source{
		rawConfig: rawConfig,
		logger:    log.With("component", "gitleaks_rule_source"),
		tracer:    tracer,
	}
}

// Name implements rules.Source.
func (s *Source) Name() string { return SourceName }

// Load implements rules.Source.
func (s *Source) Load(ctx context.Context) (rules.Batch, error) {
	ctx, span := s.tracer.Start(ctx, "gitleaks_rule_source.load")
	defer span.End()

	cfg, err := parseConfig(s.rawConfig)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to parse gitleaks config")
		return rules.Batch{}, err
	}

	ids := make([]string, 0, len(cfg.Rules))
	for id := range cfg.Rules {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	var batch rules.Batch
	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			span.RecordError(err)
			return rules.Batch{}, err
		}

		def, ok := convertDetectorRuleToDefinition(cfg.Rules[id])
		if !ok {
			batch.Rejected = append(batch.Rejected, rules.NewMalformedRuleError(
				SourceName, IDPrefix+id, i, "rule has no content regex", nil,
			))
			continue
		}
		batch.Definitions = append(batch.Definitions, def)
	}

	span.SetAttributes(
		attribute.Int("num_rules", len(batch.Definitions)),
		attribute.Int("num_rejected", len(batch.Rejected)),
	)
	s.logger.Debug(ctx, "gitleaks rules converted", "rules", len(batch.Definitions), "skipped", len(batch.Rejected))

	return batch, nil
}

// parseConfig reads a gitleaks TOML configuration the same way the gitleaks
// CLI does, through viper.
func parseConfig(raw string) (config.Config, error) {
	v := viper.New()
	v.SetConfigType("toml")
	if err := v.ReadConfig(bytes.NewBufferString(raw)); err != nil {
		return config.Config{}, fmt.Errorf("failed to read gitleaks config: %w", err)
	}

	var vc config.ViperConfig
	if err := v.Unmarshal(&vc); err != nil {
		return config.Config{}, fmt.Errorf("failed to unmarshal gitleaks config: %w", err)
	}

	cfg, err := vc.Translate()
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to translate gitleaks config: %w", err)
	}
	return cfg, nil
}

// convertDetectorRuleToDefinition maps a gitleaks rule onto a textual rule
// definition. Path-only rules have no content regex and cannot be expressed.
func convertDetectorRuleToDefinition(rule config.Rule) (rules.Definition, bool) {
	if rule.Regex == nil {
		return rules.Definition{}, false
	}
	expr := rule.Regex.String()
	if expr == "" {
		return rules.Definition{}, false
	}

	confidence := defaultConfidence
	if rule.Entropy > 0 {
		// Entropy gated rules are noisier without the entropy check.
		confidence = 0.5
	}

	tags := append([]string{"gitleaks"}, rule.Tags...)
	for _, kw := range rule.Keywords {
		tags = append(tags, "keyword:"+kw)
	}

	return rules.Definition{
		ID:          IDPrefix + rule.RuleID,
		Name:        humanize(rule.RuleID),
		Description: rule.Description,
		Severity:    defaultSeverity,
		Category:    category,
		Confidence:  &confidence,
		Tags:        tags,
		CWE:         "CWE-798",
		Patterns:    []rules.PatternDefinition{{Kind: string(rules.PatternKindTextual), Expr: expr}},
		Fix:         rules.FixDefinition{Recommendation: recommendation},
		Origin:      rule.RuleID,
	}, true
}

// humanize turns "github-pat" into "Github Pat".
func humanize(id string) string {
	parts := strings.FieldsFunc(id, func(r rune) bool { return r == '-' || r == '_' })
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, " ")
}
