package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/vulnguard/internal/domain/rules"
	"github.com/ahrav/vulnguard/internal/domain/scanning"
)

func sampleFindings() []scanning.Finding {
	return []scanning.Finding{{
		ID:         scanning.NewFindingID("command-injection", "a.js", 1, 1),
		RuleID:     "command-injection",
		Severity:   rules.SeverityCritical,
		Path:       "a.js",
		Line:       1,
		Column:     1,
		References: []string{"https://example.com/cwe-78"},
	}}
}

func TestCacheRoundTrip(t *testing.T) {
	t.Parallel()

	c := New()
	ctx := context.Background()
	key := scanning.CacheKey{ContentHash: "abc", Fingerprint: "fp1"}

	_, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Put(ctx, key, sampleFindings()))

	got, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, sampleFindings(), got)

	_, ok, err = c.Get(ctx, scanning.CacheKey{ContentHash: "abc", Fingerprint: "fp2"})
	require.NoError(t, err)
	assert.False(t, ok, "a different fingerprint is a different key")
}

func TestCacheEmptyEntryIsHit(t *testing.T) {
	t.Parallel()

	c := New()
	ctx := context.Background()
	key := scanning.CacheKey{ContentHash: "clean", Fingerprint: "fp"}

	require.NoError(t, c.Put(ctx, key, nil))
	got, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestCacheCopiesValues(t *testing.T) {
	t.Parallel()

	c := New()
	ctx := context.Background()
	key := scanning.CacheKey{ContentHash: "h", Fingerprint: "f"}

	in := sampleFindings()
	require.NoError(t, c.Put(ctx, key, in))
	in[0].Line = 99
	in[0].References[0] = "mutated"

	out, _, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 1, out[0].Line)
	assert.Equal(t, "https://example.com/cwe-78", out[0].References[0])

	out[0].References[0] = "mutated again"
	again, _, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/cwe-78", again[0].References[0])
}

func TestCacheConcurrentAccess(t *testing.T) {
	t.Parallel()

	c := New()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key := scanning.CacheKey{ContentHash: fmt.Sprintf("h%d", i%10), Fingerprint: "fp"}
			assert.NoError(t, c.Put(ctx, key, sampleFindings()))
			_, ok, err := c.Get(ctx, key)
			assert.NoError(t, err)
			assert.True(t, ok)
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, c.Len())
}

func TestCacheCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := New()
	assert.ErrorIs(t, c.Put(ctx, scanning.CacheKey{}, nil), context.Canceled)
	_, _, err := c.Get(ctx, scanning.CacheKey{})
	assert.ErrorIs(t, err, context.Canceled)
}
