package scanning

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/ahrav/vulnguard/internal/domain/scanning"
)

// ScanMetrics defines metrics operations needed by the orchestrator.
type ScanMetrics interface {
	// File metrics
	IncFilesScanned(ctx context.Context)
	IncCacheHits(ctx context.Context)
	IncCacheMisses(ctx context.Context)
	IncFileErrors(ctx context.Context, kind domain.FileErrorKind)

	// Scan metrics
	ObserveFindings(ctx context.Context, findings []domain.Finding)
	ObserveScanDuration(ctx context.Context, d time.Duration, partial bool)
}

// scanMetrics implements ScanMetrics
type scanMetrics struct {
	filesScanned metric.Int64Counter
	cacheHits    metric.Int64Counter
	cacheMisses  metric.Int64Counter
	fileErrors   metric.Int64Counter

	findings     metric.Int64Counter
	scanDuration metric.Float64Histogram
}

const namespace = "vulnguard.scanner"

// NewScanMetrics creates the orchestrator metrics on mp.
func NewScanMetrics(mp metric.MeterProvider) (ScanMetrics, error) {
	meter := mp.Meter(namespace, metric.WithInstrumentationVersion("v0.1.0"))

	m := new(scanMetrics)
	var err error

	if m.filesScanned, err = meter.Int64Counter(
		"files_scanned_total",
		metric.WithDescription("Total number of files that reached a terminal state"),
	); err != nil {
		return nil, err
	}

	if m.cacheHits, err = meter.Int64Counter(
		"cache_hits_total",
		metric.WithDescription("Total number of files served from the finding cache"),
	); err != nil {
		return nil, err
	}

	if m.cacheMisses, err = meter.Int64Counter(
		"cache_misses_total",
		metric.WithDescription("Total number of files that had to be matched"),
	); err != nil {
		return nil, err
	}

	if m.fileErrors, err = meter.Int64Counter(
		"file_errors_total",
		metric.WithDescription("Total number of per-file errors recorded during scans"),
	); err != nil {
		return nil, err
	}

	if m.findings, err = meter.Int64Counter(
		"findings_total",
		metric.WithDescription("Total number of findings reported, by severity"),
	); err != nil {
		return nil, err
	}

	if m.scanDuration, err = meter.Float64Histogram(
		"scan_duration_seconds",
		metric.WithDescription("Time taken to complete a scan"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *scanMetrics) IncFilesScanned(ctx context.Context) { m.filesScanned.Add(ctx, 1) }

func (m *scanMetrics) IncCacheHits(ctx context.Context) { m.cacheHits.Add(ctx, 1) }

func (m *scanMetrics) IncCacheMisses(ctx context.Context) { m.cacheMisses.Add(ctx, 1) }

func (m *scanMetrics) IncFileErrors(ctx context.Context, kind domain.FileErrorKind) {
	m.fileErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(kind))))
}

func (m *scanMetrics) ObserveFindings(ctx context.Context, findings []domain.Finding) {
	for sev, n := range domain.Summarize(findings).BySeverity {
		if n == 0 {
			continue
		}
		m.findings.Add(ctx, int64(n), metric.WithAttributes(attribute.String("severity", string(sev))))
	}
}

func (m *scanMetrics) ObserveScanDuration(ctx context.Context, d time.Duration, partial bool) {
	m.scanDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.Bool("partial", partial)))
}
