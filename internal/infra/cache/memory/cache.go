// Package memory provides a process-local FindingCache.
package memory

import (
	"context"
	"sync"

	"github.com/ahrav/vulnguard/internal/domain/scanning"
)

var _ scanning.FindingCache = (*Cache)(nil)

// Cache stores findings in a sync.Map. Reads take no locks and every value is
// copied on the way in and out, so callers can never alias cached findings.
type Cache struct {
	entries sync.Map // scanning.CacheKey -> []scanning.Finding
}

// New returns an empty Cache.
func New() *Cache { return new(Cache) }

// Get implements scanning.FindingCache.
func (c *Cache) Get(ctx context.Context, key scanning.CacheKey) ([]scanning.Finding, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	v, ok := c.entries.Load(key)
	if !ok {
		return nil, false, nil
	}
	return cloneNonNil(v.([]scanning.Finding)), true, nil
}

// Put implements scanning.FindingCache. Writing an existing key replaces the
// entry; since entries are pure functions of their key the value is the same.
func (c *Cache) Put(ctx context.Context, key scanning.CacheKey, findings []scanning.Finding) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.entries.Store(key, cloneNonNil(findings))
	return nil
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	n := 0
	c.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// cloneNonNil keeps the distinction between "no findings" and "not cached"
// visible to callers by never handing out a nil slice.
func cloneNonNil(fs []scanning.Finding) []scanning.Finding {
	if fs == nil {
		return []scanning.Finding{}
	}
	return scanning.CloneFindings(fs)
}
