package fixvalidation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	scanapp "github.com/ahrav/vulnguard/internal/app/scanning"
	"github.com/ahrav/vulnguard/internal/domain/rules"
	domain "github.com/ahrav/vulnguard/internal/domain/scanning"
	"github.com/ahrav/vulnguard/internal/domain/shared"
	"github.com/ahrav/vulnguard/internal/infra/matchers"
	"github.com/ahrav/vulnguard/pkg/common/logger"
)

func rule(id string, sev rules.Severity, expr string, langs ...shared.Language) rules.Rule {
	return rules.Rule{
		ID:         id,
		Name:       id,
		Severity:   sev,
		Category:   "test",
		Confidence: 0.8,
		Enabled:    true,
		Languages:  langs,
		Patterns:   []rules.Pattern{{Kind: rules.PatternKindTextual, Expr: expr}},
	}
}

func testCatalog(t *testing.T) *rules.Catalog {
	t.Helper()
	c, err := rules.NewCatalog([]rules.Rule{
		rule("command-injection", rules.SeverityCritical, `\bexec\(`),
		rule("dangerous-eval", rules.SeverityCritical, `\beval\(`),
		rule("hardcoded-password", rules.SeverityHigh, `password\s*=\s*["'][^"']+["']`),
		rule("py-pickle", rules.SeverityMedium, `pickle\.loads\(`, shared.LanguagePython),
	})
	require.NoError(t, err)
	return c
}

func newTestService() *Service {
	tracer := noop.NewTracerProvider().Tracer("test")
	orch := scanapp.NewOrchestrator(matchers.Default(), logger.Noop(), tracer)
	return NewService(orch, logger.Noop(), tracer)
}

func TestValidateFix(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		req           FixRequest
		wasVulnerable bool
		isNowSecure   bool
		fixed         bool
		newIssueRules []string
		scoreDelta    int
	}{
		{
			name: "fix removes the issue",
			req: FixRequest{
				Original:     "exec(cmd)",
				Fixed:        "execFile(cmd, args)",
				TargetRuleID: "command-injection",
			},
			wasVulnerable: true,
			isNowSecure:   true,
			fixed:         true,
			newIssueRules: []string{},
			scoreDelta:    25,
		},
		{
			name: "fix still matches",
			req: FixRequest{
				Original:     "exec(cmd)",
				Fixed:        "exec(sanitize(cmd))",
				TargetRuleID: "command-injection",
			},
			wasVulnerable: true,
			isNowSecure:   false,
			fixed:         false,
			newIssueRules: []string{},
			scoreDelta:    0,
		},
		{
			name: "fix introduces a different critical issue",
			req: FixRequest{
				Original:     "exec(cmd)",
				Fixed:        "eval(cmd)",
				TargetRuleID: "command-injection",
			},
			wasVulnerable: true,
			isNowSecure:   true,
			fixed:         true,
			newIssueRules: []string{"dangerous-eval"},
			scoreDelta:    0,
		},
		{
			name: "pre-existing rule firing on a shifted line is not new",
			req: FixRequest{
				Original:     "password = 'hunter2'\nexec(cmd)\n",
				Fixed:        "# use a list\n\npassword = 'hunter2'\nexecFile(cmd, args)\n",
				TargetRuleID: "command-injection",
			},
			wasVulnerable: true,
			isNowSecure:   true,
			fixed:         true,
			newIssueRules: []string{},
			scoreDelta:    25,
		},
		{
			name: "original was not vulnerable",
			req: FixRequest{
				Original:     "execFile(cmd, args)",
				Fixed:        "execFile(cmd, [])",
				TargetRuleID: "command-injection",
			},
			wasVulnerable: false,
			isNowSecure:   true,
			fixed:         false,
			newIssueRules: []string{},
			scoreDelta:    0,
		},
		{
			name: "empty fix is a valid deletion",
			req: FixRequest{
				Original:     "exec(cmd)",
				Fixed:        "",
				TargetRuleID: "command-injection",
			},
			wasVulnerable: true,
			isNowSecure:   true,
			fixed:         true,
			newIssueRules: []string{},
			scoreDelta:    25,
		},
		{
			name: "language scoped rule applies to the synthetic path",
			req: FixRequest{
				Original:     "data = pickle.loads(blob)",
				Fixed:        "data = json.loads(blob)",
				TargetRuleID: "py-pickle",
				Language:     shared.LanguagePython,
			},
			wasVulnerable: true,
			isNowSecure:   true,
			fixed:         true,
			newIssueRules: []string{},
			scoreDelta:    5,
		},
		{
			name: "language scoped rule ignores other languages",
			req: FixRequest{
				Original:     "data = pickle.loads(blob)",
				Fixed:        "data = json.loads(blob)",
				TargetRuleID: "py-pickle",
				Path:         "loader.js",
			},
			wasVulnerable: false,
			isNowSecure:   true,
			fixed:         false,
			newIssueRules: []string{},
			scoreDelta:    0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			res, err := newTestService().ValidateFix(context.Background(), testCatalog(t), tt.req)
			require.NoError(t, err)

			assert.Equal(t, tt.req.TargetRuleID, res.RuleID)
			assert.Equal(t, tt.wasVulnerable, res.WasVulnerable, "wasVulnerable")
			assert.Equal(t, tt.isNowSecure, res.IsNowSecure, "isNowSecure")
			assert.Equal(t, tt.fixed, res.Fixed, "fixed")
			assert.Equal(t, tt.scoreDelta, res.ScoreDelta, "scoreDelta")
			assert.Equal(t, res.ScoreAfter-res.ScoreBefore, res.ScoreDelta)

			got := make([]string, 0, len(res.NewIssues))
			for _, f := range res.NewIssues {
				got = append(got, f.RuleID)
			}
			assert.Equal(t, tt.newIssueRules, got)
		})
	}
}

func TestValidateFixNewIssueDetails(t *testing.T) {
	t.Parallel()

	res, err := newTestService().ValidateFix(context.Background(), testCatalog(t), FixRequest{
		Original:     "exec(cmd)",
		Fixed:        "eval(cmd)",
		TargetRuleID: "command-injection",
		Language:     shared.LanguageJavaScript,
	})
	require.NoError(t, err)

	require.Len(t, res.NewIssues, 1)
	f := res.NewIssues[0]
	assert.Equal(t, rules.SeverityCritical, f.Severity)
	assert.Equal(t, "snippet.js", f.Path)
	assert.Equal(t, 1, f.Line)
	assert.Nil(t, res.Remaining)
}

func TestValidateFixRemaining(t *testing.T) {
	t.Parallel()

	res, err := newTestService().ValidateFix(context.Background(), testCatalog(t), FixRequest{
		Original:     "exec(a)\nexec(b)\n",
		Fixed:        "execFile(a)\nexec(b)\n",
		TargetRuleID: "command-injection",
	})
	require.NoError(t, err)
	assert.False(t, res.Fixed)
	require.Len(t, res.Remaining, 1)
	assert.Equal(t, 2, res.Remaining[0].Line)
}

func TestValidateFixErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		catalog func(t *testing.T) *rules.Catalog
		req     FixRequest
		wantErr error
	}{
		{
			name:    "unknown target rule",
			catalog: testCatalog,
			req:     FixRequest{Original: "exec(x)", TargetRuleID: "nope"},
			wantErr: rules.ErrUnknownRule,
		},
		{
			name:    "missing target rule",
			catalog: testCatalog,
			req:     FixRequest{Original: "exec(x)"},
			wantErr: domain.ErrInvalidArgument,
		},
		{
			name:    "empty original",
			catalog: testCatalog,
			req:     FixRequest{Original: "  \n", TargetRuleID: "command-injection"},
			wantErr: domain.ErrInvalidArgument,
		},
		{
			name:    "nil catalog",
			catalog: func(*testing.T) *rules.Catalog { return nil },
			req:     FixRequest{Original: "exec(x)", TargetRuleID: "command-injection"},
			wantErr: rules.ErrNoUsableRules,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			res, err := newTestService().ValidateFix(context.Background(), tt.catalog(t), tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, res)
		})
	}
}

func TestValidateFixCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestService().ValidateFix(ctx, testCatalog(t), FixRequest{
		Original:     "exec(cmd)",
		Fixed:        "execFile(cmd)",
		TargetRuleID: "command-injection",
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResolveFile(t *testing.T) {
	t.Parallel()

	tests := []struct {
		req      FixRequest
		wantLang shared.Language
		wantPath string
	}{
		{req: FixRequest{}, wantLang: shared.LanguageUnknown, wantPath: "snippet.txt"},
		{req: FixRequest{Language: shared.LanguageGo}, wantLang: shared.LanguageGo, wantPath: "snippet.go"},
		{req: FixRequest{Path: "app/views.py"}, wantLang: shared.LanguagePython, wantPath: "app/views.py"},
		{req: FixRequest{Path: "x.txt", Language: shared.LanguageRuby}, wantLang: shared.LanguageRuby, wantPath: "x.txt"},
	}
	for _, tt := range tests {
		lang, path := resolveFile(tt.req)
		assert.Equal(t, tt.wantLang, lang)
		assert.Equal(t, tt.wantPath, path)
	}
}
