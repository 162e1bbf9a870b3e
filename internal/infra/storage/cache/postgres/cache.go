// Package postgres provides a FindingCache shared between scanner processes
// through a PostgreSQL table.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/vulnguard/internal/domain/scanning"
	"github.com/ahrav/vulnguard/internal/infra/storage"
)

var _ scanning.FindingCache = (*cacheStore)(nil)

// cacheStore implements scanning.FindingCache on the finding_cache table. The
// table is keyed by (fingerprint, language, content_hash) and rows are upserted, so two
// scanners racing on the same key both succeed with identical values.
type cacheStore struct {
	db      *pgxpool.Pool
	tracer  trace.Tracer
	timeout time.Duration
}

// NewCacheStore creates a PostgreSQL-backed finding cache. The schema is
// expected to be migrated already (see db.Migrate).
func NewCacheStore(pool *pgxpool.Pool, tracer trace.Tracer) *cacheStore {
	return &cacheStore{db: pool, tracer: tracer, timeout: 3 * time.Second}
}

// defaultDBAttributes defines standard OpenTelemetry attributes for database operations.
var defaultDBAttributes = []attribute.KeyValue{
	attribute.String("db.system", "postgresql"),
}

const (
	getFindingsQuery = `
SELECT findings FROM finding_cache
WHERE fingerprint = $1 AND language = $2 AND content_hash = $3`

	upsertFindingsQuery = `
INSERT INTO finding_cache (fingerprint, language, content_hash, findings)
VALUES ($1, $2, $3, $4)
ON CONFLICT (fingerprint, language, content_hash)
DO UPDATE SET findings = EXCLUDED.findings, updated_at = NOW()`
)

// Get implements scanning.FindingCache.
func (s *cacheStore) Get(ctx context.Context, key scanning.CacheKey) ([]scanning.Finding, bool, error) {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("content_hash", key.ContentHash),
		attribute.String("fingerprint", key.Fingerprint),
		attribute.String("language", key.LanguageName()),
	)

	var (
		findings []scanning.Finding
		found    bool
	)
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.get_cached_findings", dbAttrs, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		var raw []byte
		err := s.db.QueryRow(ctx, getFindingsQuery, key.Fingerprint, key.LanguageName(), key.ContentHash).Scan(&raw)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("query cached findings: %w", err)
		}

		if err := json.Unmarshal(raw, &findings); err != nil {
			return scanning.NewCacheCorruptionError(key, err)
		}
		if findings == nil {
			findings = []scanning.Finding{}
		}
		found = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return findings, found, nil
}

// Put implements scanning.FindingCache.
func (s *cacheStore) Put(ctx context.Context, key scanning.CacheKey, findings []scanning.Finding) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("content_hash", key.ContentHash),
		attribute.String("fingerprint", key.Fingerprint),
		attribute.String("language", key.LanguageName()),
		attribute.Int("findings", len(findings)),
	)

	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.put_cached_findings", dbAttrs, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		if findings == nil {
			findings = []scanning.Finding{}
		}
		raw, err := json.Marshal(findings)
		if err != nil {
			return fmt.Errorf("encode findings: %w", err)
		}

		if _, err := s.db.Exec(ctx, upsertFindingsQuery, key.Fingerprint, key.LanguageName(), key.ContentHash, raw); err != nil {
			return fmt.Errorf("upsert cached findings: %w", err)
		}
		return nil
	})
}
