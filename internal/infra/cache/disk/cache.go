// Package disk persists finding cache entries as JSON files so that
// incremental scans survive process restarts.
package disk

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/vulnguard/internal/domain/scanning"
	"github.com/ahrav/vulnguard/pkg/common/logger"
)

var _ scanning.FindingCache = (*Cache)(nil)

const entryVersion = 2

// entry is the on-disk record. The key is stored alongside the findings so a
// file that ended up at the wrong path is detected instead of trusted.
type entry struct {
	Version     int                `json:"version"`
	ContentHash string             `json:"content_hash"`
	Fingerprint string             `json:"fingerprint"`
	Language    string             `json:"language"`
	Findings    []scanning.Finding `json:"findings"`
}

// Cache stores one file per key under
// <dir>/<fingerprint[:2]>/<fingerprint>/<language>/<content hash>.json. A catalog change
// produces a new fingerprint directory, old entries are simply never read.
type Cache struct {
	dir    string
	logger *logger.Logger
	tracer trace.Tracer
}

// New creates a Cache rooted at dir, creating the directory if needed.
func New(dir string, log *logger.Logger, tracer trace.Tracer) (*Cache, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: empty cache directory", scanning.ErrInvalidArgument)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	return &Cache{
		dir:    dir,
		logger: log.With("component", "disk_cache", "dir", dir),
		tracer: tracer,
	}, nil
}

// Dir returns the cache root.
func (c *Cache) Dir() string { return c.dir }

func (c *Cache) path(key scanning.CacheKey) (string, error) {
	if !isHex(key.ContentHash) || !isHex(key.Fingerprint) || len(key.Fingerprint) < 2 {
		return "", fmt.Errorf("%w: cache key %s is not hex encoded", scanning.ErrInvalidArgument, key)
	}
	if !key.Language.IsValid() {
		return "", fmt.Errorf("%w: cache key %s has an unknown language", scanning.ErrInvalidArgument, key)
	}
	return filepath.Join(c.dir, key.Fingerprint[:2], key.Fingerprint, key.LanguageName(), key.ContentHash+".json"), nil
}

// Get implements scanning.FindingCache. Unreadable or undecodable entries
// return a *scanning.CacheCorruptionError.
func (c *Cache) Get(ctx context.Context, key scanning.CacheKey) ([]scanning.Finding, bool, error) {
	_, span := c.tracer.Start(ctx, "disk_cache.get",
		trace.WithAttributes(attribute.String("key", key.String())))
	defer span.End()

	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	p, err := c.path(key)
	if err != nil {
		return nil, false, err
	}

	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		span.SetAttributes(attribute.Bool("hit", false))
		return nil, false, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read failed")
		return nil, false, scanning.NewCacheCorruptionError(key, err)
	}

	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "decode failed")
		return nil, false, scanning.NewCacheCorruptionError(key, err)
	}
	if e.Version != entryVersion || e.ContentHash != key.ContentHash || e.Fingerprint != key.Fingerprint ||
		e.Language != key.LanguageName() {
		err := fmt.Errorf("entry header mismatch (version %d)", e.Version)
		span.RecordError(err)
		return nil, false, scanning.NewCacheCorruptionError(key, err)
	}
	if e.Findings == nil {
		e.Findings = []scanning.Finding{}
	}

	span.SetAttributes(attribute.Bool("hit", true), attribute.Int("findings", len(e.Findings)))
	return e.Findings, true, nil
}

// Put implements scanning.FindingCache. The entry is written to a temporary
// file in the destination directory and renamed into place so readers see
// either the old entry or the complete new one.
func (c *Cache) Put(ctx context.Context, key scanning.CacheKey, findings []scanning.Finding) error {
	ctx, span := c.tracer.Start(ctx, "disk_cache.put",
		trace.WithAttributes(
			attribute.String("key", key.String()),
			attribute.Int("findings", len(findings)),
		))
	defer span.End()

	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := c.path(key)
	if err != nil {
		return err
	}

	if findings == nil {
		findings = []scanning.Finding{}
	}
	data, err := json.Marshal(entry{
		Version:     entryVersion,
		ContentHash: key.ContentHash,
		Fingerprint: key.Fingerprint,
		Language:    key.LanguageName(),
		Findings:    findings,
	})
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}

	if err := writeAtomic(p, data); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "write failed")
		c.logger.Warn(ctx, "Failed to write cache entry", "key", key.String(), "error", err)
		return err
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create entry directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".entry-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp entry: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp entry: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename entry: %w", err)
	}
	return nil
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
