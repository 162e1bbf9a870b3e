package disk

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/vulnguard/internal/domain/rules"
	"github.com/ahrav/vulnguard/internal/domain/scanning"
	"github.com/ahrav/vulnguard/internal/domain/shared"
	"github.com/ahrav/vulnguard/pkg/common/logger"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := New(t.TempDir(), logger.Noop(), noop.NewTracerProvider().Tracer("test"))
	require.NoError(t, err)
	return c
}

func testKey(content string) scanning.CacheKey {
	return scanning.CacheKey{
		ContentHash: scanning.ContentHash([]byte(content)),
		Fingerprint: scanning.ContentHash([]byte("catalog")),
		Language:    shared.LanguagePython,
	}
}

func sampleFindings() []scanning.Finding {
	return []scanning.Finding{
		{
			ID:             scanning.NewFindingID("sql-injection", "db.py", 3, 5),
			RuleID:         "sql-injection",
			RuleName:       "SQL Injection",
			Severity:       rules.SeverityCritical,
			Confidence:     0.85,
			Category:       "injection",
			Path:           "db.py",
			Line:           3,
			Column:         5,
			EndLine:        3,
			EndColumn:      40,
			StartOffset:    31,
			EndOffset:      66,
			Snippet:        "cursor.execute(\"SELECT * FROM users WHERE id=\" + uid)",
			Recommendation: "Use parameterized queries.",
			References:     []string{"https://owasp.org/Top10/A03_2021-Injection/"},
			CWE:            "CWE-89",
			Source:         rules.PatternKindTextual,
		},
	}
}

func TestCacheRoundTrip(t *testing.T) {
	t.Parallel()

	c := newTestCache(t)
	ctx := context.Background()
	key := testKey("print(1)")

	_, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Put(ctx, key, sampleFindings()))

	got, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, sampleFindings(), got)

	expected := filepath.Join(c.Dir(), key.Fingerprint[:2], key.Fingerprint, "python", key.ContentHash+".json")
	assert.FileExists(t, expected)
}

func TestCacheSurvivesReopen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ctx := context.Background()
	key := testKey("x = 1")
	tracer := noop.NewTracerProvider().Tracer("test")

	first, err := New(dir, logger.Noop(), tracer)
	require.NoError(t, err)
	require.NoError(t, first.Put(ctx, key, sampleFindings()))

	second, err := New(dir, logger.Noop(), tracer)
	require.NoError(t, err)
	got, ok, err := second.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, sampleFindings(), got)
}

func TestCacheEmptyFindings(t *testing.T) {
	t.Parallel()

	c := newTestCache(t)
	ctx := context.Background()
	key := testKey("clean")

	require.NoError(t, c.Put(ctx, key, nil))
	got, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestCacheOverwrite(t *testing.T) {
	t.Parallel()

	c := newTestCache(t)
	ctx := context.Background()
	key := testKey("dup")

	require.NoError(t, c.Put(ctx, key, sampleFindings()))
	require.NoError(t, c.Put(ctx, key, sampleFindings()))

	entries, err := os.ReadDir(filepath.Join(c.Dir(), key.Fingerprint[:2], key.Fingerprint, "python"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestCacheCorruptEntries(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
	}{
		{name: "not json", content: "{{{"},
		{name: "wrong version", content: `{"version":99,"findings":[]}`},
		{name: "old version", content: `{"version":1,"findings":[]}`},
		{name: "key mismatch", content: `{"version":2,"content_hash":"00","fingerprint":"00","language":"python","findings":[]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := newTestCache(t)
			key := testKey(tt.name)
			p, err := c.path(key)
			require.NoError(t, err)
			require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
			require.NoError(t, os.WriteFile(p, []byte(tt.content), 0o644))

			_, ok, err := c.Get(context.Background(), key)
			assert.False(t, ok)
			var corrupt *scanning.CacheCorruptionError
			require.True(t, errors.As(err, &corrupt))
			assert.Equal(t, key, corrupt.Key)
		})
	}
}

func TestCacheRejectsNonHexKeys(t *testing.T) {
	t.Parallel()

	c := newTestCache(t)
	key := scanning.CacheKey{ContentHash: "../../etc/passwd", Fingerprint: "abcd"}

	err := c.Put(context.Background(), key, nil)
	assert.ErrorIs(t, err, scanning.ErrInvalidArgument)
	_, _, err = c.Get(context.Background(), key)
	assert.ErrorIs(t, err, scanning.ErrInvalidArgument)
}

func TestCacheSeparatesLanguages(t *testing.T) {
	t.Parallel()

	c := newTestCache(t)
	ctx := context.Background()
	pyKey := testKey("os.system(cmd)")
	txtKey := pyKey
	txtKey.Language = shared.LanguageUnknown

	require.NoError(t, c.Put(ctx, pyKey, sampleFindings()))

	_, ok, err := c.Get(ctx, txtKey)
	require.NoError(t, err)
	assert.False(t, ok, "an entry for python must not serve the same bytes read as plain text")

	require.NoError(t, c.Put(ctx, txtKey, nil))
	assert.FileExists(t, filepath.Join(c.Dir(), txtKey.Fingerprint[:2], txtKey.Fingerprint, "unknown", txtKey.ContentHash+".json"))

	got, ok, err := c.Get(ctx, pyKey)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, sampleFindings(), got)
}

func TestCacheRejectsUnknownLanguage(t *testing.T) {
	t.Parallel()

	c := newTestCache(t)
	key := testKey("x")
	key.Language = "../../tmp"

	err := c.Put(context.Background(), key, nil)
	assert.ErrorIs(t, err, scanning.ErrInvalidArgument)
}

func TestNewRequiresDirectory(t *testing.T) {
	t.Parallel()

	_, err := New("", logger.Noop(), noop.NewTracerProvider().Tracer("test"))
	assert.ErrorIs(t, err, scanning.ErrInvalidArgument)
}
