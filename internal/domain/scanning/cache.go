package scanning

import (
	"context"
	"fmt"

	"github.com/ahrav/vulnguard/internal/domain/shared"
)

// CacheKey identifies the findings of one file content, read as one language,
// under one catalog. The language is part of the key because it decides which
// rules of the catalog apply.
type CacheKey struct {
	ContentHash string
	Fingerprint string
	Language    shared.Language
}

// NewCacheKey returns the key of file under the catalog with fingerprint.
func NewCacheKey(file SourceFile, fingerprint string) CacheKey {
	return CacheKey{ContentHash: file.ContentHash(), Fingerprint: fingerprint, Language: file.Language}
}

// LanguageName returns the language component of the key, "unknown" for
// files without a recognized language.
func (k CacheKey) LanguageName() string {
	if k.Language == shared.LanguageUnknown {
		return "unknown"
	}
	return string(k.Language)
}

// String returns a compact form of the key for logs.
func (k CacheKey) String() string {
	return fmt.Sprintf("%s/%s@%s", short(k.ContentHash), k.LanguageName(), short(k.Fingerprint))
}

func short(s string) string {
	if len(s) > 12 {
		return s[:12]
	}
	return s
}

// FindingCache stores findings keyed by content hash, language and catalog
// fingerprint. Entries never expire: a key fully determines its value up to
// the path of the file, which callers rebind on every hit.
// Implementations must be safe for concurrent use and Put must be idempotent.
type FindingCache interface {
	// Get returns the cached findings and whether the key was present.
	Get(ctx context.Context, key CacheKey) ([]Finding, bool, error)
	// Put stores findings under key, replacing any existing entry.
	Put(ctx context.Context, key CacheKey, findings []Finding) error
}

// ChangeSelector narrows a file set to the files that changed relative to a
// revision reference.
type ChangeSelector interface {
	// SelectChanged returns the subset of files changed since ref, preserving
	// input order. An empty ref selects every file.
	SelectChanged(ctx context.Context, files []string, ref string) ([]string, error)
}
