package gitleaks

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	apprules "github.com/ahrav/vulnguard/internal/app/rules"
	"github.com/ahrav/vulnguard/internal/domain/rules"
	"github.com/ahrav/vulnguard/internal/infra/matchers"
	"github.com/ahrav/vulnguard/pkg/common/logger"
)

const testConfig = `
title = "test config"

[[rules]]
id = "test-token"
description = "Test service token"
regex = '''tok_[a-z0-9]{8}'''
keywords = ["tok_"]
tags = ["token"]

[[rules]]
id = "generic-secret"
description = "High entropy secret"
regex = '''secret\s*=\s*"([A-Za-z0-9]{16,})"'''
entropy = 3.5
secretGroup = 1

[[rules]]
id = "pem-file"
description = "Private key file"
path = '''\.pem$'''
`

var tracer = noop.NewTracerProvider().Tracer("test")

func TestSourceLoad(t *testing.T) {
	t.Parallel()

	src := NewSourceFromConfig(testConfig, logger.Noop(), tracer)
	assert.Equal(t, SourceName, src.Name())

	batch, err := src.Load(context.Background())
	require.NoError(t, err)

	require.Len(t, batch.Definitions, 2)
	secret, token := batch.Definitions[0], batch.Definitions[1]

	assert.Equal(t, "gitleaks.test-token", token.ID)
	assert.Equal(t, "Test Token", token.Name)
	assert.Equal(t, "secrets", token.Category)
	assert.Equal(t, "high", token.Severity)
	assert.Equal(t, []string{"gitleaks", "token", "keyword:tok_"}, token.Tags)
	require.Len(t, token.Patterns, 1)
	assert.Equal(t, "tok_[a-z0-9]{8}", token.Patterns[0].Expr)
	assert.InDelta(t, defaultConfidence, *token.Confidence, 1e-9)

	assert.Equal(t, "gitleaks.generic-secret", secret.ID)
	assert.InDelta(t, 0.5, *secret.Confidence, 1e-9)

	require.Len(t, batch.Rejected, 1)
	assert.Equal(t, "gitleaks.pem-file", batch.Rejected[0].RuleID)
}

func TestSourceInvalidConfig(t *testing.T) {
	t.Parallel()

	_, err := NewSourceFromConfig("[[rules]\nid = ", logger.Noop(), tracer).Load(context.Background())
	assert.Error(t, err)
}

func TestDefaultConfigCompiles(t *testing.T) {
	t.Parallel()

	loader := apprules.NewLoader(matchers.Default(), logger.Noop(), tracer)
	catalog, report, err := loader.Load(context.Background(), NewSource(logger.Noop(), tracer))
	require.NoError(t, err)
	assert.Greater(t, catalog.Len(), 100)

	for _, r := range catalog.Rules() {
		assert.Equal(t, "secrets", r.Category)
		assert.Equal(t, rules.SeverityHigh, r.Severity)
	}
	// Only path-only rules may be skipped.
	for _, m := range report.Malformed() {
		assert.Contains(t, m.Source, SourceName)
	}
}

func TestHumanize(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Github Pat", humanize("github-pat"))
	assert.Equal(t, "Aws Access Token", humanize("aws_access-token"))
	assert.Equal(t, "", humanize(""))
}
