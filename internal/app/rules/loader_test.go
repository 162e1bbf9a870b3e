package rules

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/vulnguard/internal/domain/rules"
	"github.com/ahrav/vulnguard/internal/domain/shared"
	"github.com/ahrav/vulnguard/internal/infra/matchers"
	"github.com/ahrav/vulnguard/pkg/common/logger"
)

func newTestLoader() *Loader {
	return NewLoader(matchers.Default(), logger.Noop(), noop.NewTracerProvider().Tracer("test"))
}

func ptr[T any](v T) *T { return &v }

func def(id, severity, expr string) rules.Definition {
	return rules.Definition{
		ID:       id,
		Name:     id,
		Severity: severity,
		Category: "injection",
		Patterns: []rules.PatternDefinition{{Kind: "textual", Expr: expr}},
		Fix:      rules.FixDefinition{Recommendation: "fix it"},
	}
}

type failingSource struct{}

func (failingSource) Name() string { return "broken" }
func (failingSource) Load(context.Context) (rules.Batch, error) {
	return rules.Batch{}, errors.New("unreachable")
}

func TestLoaderLoad(t *testing.T) {
	t.Parallel()

	src := rules.StaticSource{SourceName: "test", Definitions: []rules.Definition{
		def("sql-injection", "critical", `execute\(.*\+`),
		def("debug-mode", "medium", `DEBUG\s*=\s*True`),
	}}

	catalog, report, err := newTestLoader().Load(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 2, catalog.Len())
	assert.Equal(t, 2, report.Enabled)
	assert.Empty(t, report.Warnings)

	r, ok := catalog.Rule("sql-injection")
	require.True(t, ok)
	assert.Equal(t, rules.SeverityCritical, r.Severity)
	assert.Equal(t, DefaultConfidence, r.Confidence)
	assert.True(t, r.Enabled)
	require.Len(t, r.Patterns, 1)
	assert.NotNil(t, r.Patterns[0].Compiled)
}

func TestLoaderSkipsMalformedRules(t *testing.T) {
	t.Parallel()

	badRegex := def("bad-regex", "high", `(unclosed`)
	badSeverity := def("bad-severity", "apocalyptic", `x`)
	noPatterns := def("no-patterns", "low", `x`)
	noPatterns.Patterns = nil
	badConfidence := def("bad-confidence", "low", `x`)
	badConfidence.Confidence = ptr(1.5)
	badLanguage := def("bad-language", "low", `x`)
	badLanguage.Languages = []string{"cobol"}
	badQuery := def("bad-query", "low", `(call (`)
	badQuery.Patterns[0].Kind = "structural"
	badQuery.Languages = []string{"python"}
	missingID := def("", "low", `x`)
	blankID := def(" \t ", "low", `x`)

	src := rules.StaticSource{SourceName: "test", Definitions: []rules.Definition{
		badRegex, def("good", "high", `eval\(`), badSeverity, noPatterns,
		badConfidence, badLanguage, badQuery, missingID, blankID,
	}}

	catalog, report, err := newTestLoader().Load(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 1, catalog.Len())

	malformed := report.Malformed()
	require.Len(t, malformed, 8)
	got := make([]string, len(malformed))
	for i, m := range malformed {
		got[i] = m.RuleID
		assert.Equal(t, "test", m.Source)
	}
	assert.Equal(t, []string{
		"bad-regex", "bad-severity", "no-patterns", "bad-confidence", "bad-language", "bad-query", "", " \t ",
	}, got)
	_, ok := catalog.Rule("")
	assert.False(t, ok, "a blank id never reaches the catalog")
	assert.Equal(t, 0, malformed[0].Index)
	assert.Equal(t, 2, malformed[1].Index)
}

func TestLoaderDuplicateLastWins(t *testing.T) {
	t.Parallel()

	first := def("dup", "low", `first`)
	second := def("dup", "high", `second`)
	second.Origin = "override.yaml"

	catalog, report, err := newTestLoader().Load(context.Background(),
		rules.StaticSource{SourceName: "a", Definitions: []rules.Definition{first}},
		rules.StaticSource{SourceName: "b", Definitions: []rules.Definition{second}},
	)
	require.NoError(t, err)

	r, ok := catalog.Rule("dup")
	require.True(t, ok)
	assert.Equal(t, rules.SeverityHigh, r.Severity)

	require.Len(t, report.Warnings, 1)
	var dupErr *rules.DuplicateRuleError
	require.ErrorAs(t, report.Warnings[0], &dupErr)
	assert.Equal(t, "a", dupErr.Previous)
	assert.Equal(t, "b:override.yaml", dupErr.Current)
}

func TestLoaderNoUsableRules(t *testing.T) {
	t.Parallel()

	disabled := def("off", "low", `x`)
	disabled.Enabled = ptr(false)

	tests := []struct {
		name    string
		sources []rules.Source
	}{
		{name: "no sources"},
		{name: "all malformed", sources: []rules.Source{rules.StaticSource{
			SourceName: "s", Definitions: []rules.Definition{def("x", "bogus", `x`)},
		}}},
		{name: "all disabled", sources: []rules.Source{rules.StaticSource{
			SourceName: "s", Definitions: []rules.Definition{disabled},
		}}},
		{name: "source failed", sources: []rules.Source{failingSource{}}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, report, err := newTestLoader().Load(context.Background(), tt.sources...)
			assert.ErrorIs(t, err, rules.ErrNoUsableRules)
			assert.NotNil(t, report)
		})
	}
}

func TestLoaderKeepsDisabledRules(t *testing.T) {
	t.Parallel()

	disabled := def("off", "low", `x`)
	disabled.Enabled = ptr(false)

	catalog, report, err := newTestLoader().Load(context.Background(), rules.StaticSource{
		SourceName: "s", Definitions: []rules.Definition{disabled, def("on", "low", `y`)},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Rules)
	assert.Equal(t, 1, report.Enabled)
	assert.Equal(t, []string{"on"}, ruleIDs(catalog.Lookup(rules.Filter{})))
}

func TestLoaderFailedSourceIsReported(t *testing.T) {
	t.Parallel()

	catalog, report, err := newTestLoader().Load(context.Background(),
		failingSource{},
		rules.StaticSource{SourceName: "ok", Definitions: []rules.Definition{def("a", "low", `a`)}},
	)
	require.NoError(t, err)
	assert.Equal(t, 1, catalog.Len())
	require.Len(t, report.Sources, 2)
	assert.Error(t, report.Sources[0].Err)
	assert.Equal(t, 1, report.Sources[1].Accepted)
}

func TestLoaderStructuralPatternUsesRuleLanguages(t *testing.T) {
	t.Parallel()

	d := def("os-system", "critical", `(call function: (attribute) @fn) @match`)
	d.Patterns[0].Kind = "structural"
	d.Languages = []string{"python"}

	catalog, _, err := newTestLoader().Load(context.Background(), rules.StaticSource{
		SourceName: "s", Definitions: []rules.Definition{d},
	})
	require.NoError(t, err)

	r, _ := catalog.Rule("os-system")
	assert.Equal(t, []shared.Language{shared.LanguagePython}, r.Languages)
	assert.Equal(t, rules.PatternKindStructural, r.Patterns[0].Kind)
	assert.Empty(t, r.Patterns[0].Languages)
}

func TestLoaderFingerprintIndependentOfSourceOrder(t *testing.T) {
	t.Parallel()

	a := rules.StaticSource{SourceName: "a", Definitions: []rules.Definition{def("a", "low", `a`)}}
	b := rules.StaticSource{SourceName: "b", Definitions: []rules.Definition{def("b", "high", `b`)}}

	c1, _, err := newTestLoader().Load(context.Background(), a, b)
	require.NoError(t, err)
	c2, _, err := newTestLoader().Load(context.Background(), b, a)
	require.NoError(t, err)
	assert.Equal(t, c1.Fingerprint(), c2.Fingerprint())
}

func TestLoaderCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := newTestLoader().Load(ctx, rules.StaticSource{SourceName: "s"})
	assert.ErrorIs(t, err, context.Canceled)
}

func ruleIDs(rs []rules.Rule) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.ID
	}
	return out
}
