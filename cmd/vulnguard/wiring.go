package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/vulnguard/db"
	"github.com/ahrav/vulnguard/internal/app/engine"
	"github.com/ahrav/vulnguard/internal/app/fixvalidation"
	rulesapp "github.com/ahrav/vulnguard/internal/app/rules"
	scanapp "github.com/ahrav/vulnguard/internal/app/scanning"
	"github.com/ahrav/vulnguard/internal/config"
	"github.com/ahrav/vulnguard/internal/domain/rules"
	domain "github.com/ahrav/vulnguard/internal/domain/scanning"
	"github.com/ahrav/vulnguard/internal/infra/cache/disk"
	memcache "github.com/ahrav/vulnguard/internal/infra/cache/memory"
	"github.com/ahrav/vulnguard/internal/infra/eventbus/memory"
	"github.com/ahrav/vulnguard/internal/infra/files"
	"github.com/ahrav/vulnguard/internal/infra/matchers"
	"github.com/ahrav/vulnguard/internal/infra/revision/git"
	"github.com/ahrav/vulnguard/internal/infra/rules/gitleaks"
	"github.com/ahrav/vulnguard/internal/infra/rules/yaml"
	pgcache "github.com/ahrav/vulnguard/internal/infra/storage/cache/postgres"
	"github.com/ahrav/vulnguard/pkg/common"
	"github.com/ahrav/vulnguard/pkg/common/logger"
	"github.com/ahrav/vulnguard/pkg/common/otel"
)

const postgresConnectTimeout = 30 * time.Second

// app holds the wired components of one invocation.
type app struct {
	cfg       *config.Config
	log       *logger.Logger
	providers otel.Providers
	tracer    trace.Tracer
	bus       *memory.Broker
	tree      *files.Provider
	engine    *engine.Engine

	closers []func(ctx context.Context)
}

func loadConfig(ctx context.Context, path string, overrides map[string]any) (*config.Config, error) {
	l := config.NewViperLoader(path)
	for k, v := range overrides {
		l.Set(k, v)
	}
	return l.Load(ctx)
}

func newLogger(cfg *config.Config, stderr io.Writer) *logger.Logger {
	traceIDFn := func(ctx context.Context) string {
		return otel.GetTraceID(ctx)
	}
	if cfg.Log.OTel {
		return logger.NewOTel(cfg.Telemetry.ServiceName, traceIDFn)
	}

	hostname, _ := os.Hostname()
	metadata := map[string]string{
		"hostname": hostname,
		"app":      serviceType,
	}
	return logger.NewWithMetadata(stderr, logger.ParseLevel(cfg.Log.Level), cfg.Telemetry.ServiceName,
		traceIDFn, logger.Events{}, metadata)
}

// newApp wires the scanner for the tree rooted at root and loads the rule
// catalog.
func newApp(ctx context.Context, cfg *config.Config, root string, stderr io.Writer) (_ *app, err error) {
	a := &app{cfg: cfg, log: newLogger(cfg, stderr), bus: memory.NewBroker()}
	defer func() {
		if err != nil {
			a.Close(ctx)
		}
	}()

	providers := otel.NoopProviders()
	if cfg.Telemetry.Enabled {
		var teardown func(context.Context)
		providers, teardown, err = otel.InitTelemetry(a.log, otel.Config{
			ServiceName:      cfg.Telemetry.ServiceName,
			ExporterEndpoint: cfg.Telemetry.Endpoint,
			Probability:      cfg.Telemetry.SampleRatio,
			ResourceAttributes: map[string]string{
				"library.language": "go",
			},
			InsecureExporter: cfg.Telemetry.Insecure,
		})
		if err != nil {
			return nil, fmt.Errorf("initialize telemetry: %w", err)
		}
		a.closers = append(a.closers, teardown)
	}
	a.providers = providers
	a.tracer = providers.Tracer.Tracer(cfg.Telemetry.ServiceName)

	registry := matchers.Default()
	rulesSvc := rulesapp.NewService(
		rulesapp.NewLoader(registry, a.log, a.tracer),
		ruleSources(cfg, a.log, a.tracer),
		a.bus,
		a.log,
		a.tracer,
	)

	cache, err := a.newCache(ctx)
	if err != nil {
		return nil, err
	}

	scanMetrics, err := scanapp.NewScanMetrics(providers.Meter)
	if err != nil {
		return nil, fmt.Errorf("create scan metrics: %w", err)
	}

	opts := []scanapp.Option{
		scanapp.WithConcurrency(cfg.Scan.Concurrency),
		scanapp.WithSynthesizer(scanapp.NewSynthesizer(
			scanapp.WithContextLines(cfg.Scan.ContextLines),
			scanapp.WithSnippetBudget(cfg.Scan.SnippetBudget),
		)),
		scanapp.WithMetrics(scanMetrics),
		scanapp.WithPublisher(a.bus),
	}
	if cache != nil {
		opts = append(opts, scanapp.WithCache(cache))
	}
	orch := scanapp.NewOrchestrator(registry, a.log, a.tracer, opts...)

	var engineOpts []engine.Option
	if root != "" {
		a.tree = files.NewProvider(root,
			files.WithMaxFileBytes(cfg.Scan.MaxFileBytes),
			files.WithExcludedDirs(cfg.Scan.ExcludeDirs...),
		)
		engineOpts = append(engineOpts, engine.WithChangeSelector(git.NewSelector(root, a.log, a.tracer)))
	}
	a.engine = engine.New(rulesSvc, orch, fixvalidation.NewService(orch, a.log, a.tracer), a.log, a.tracer, engineOpts...)

	report, err := a.engine.Reload(ctx)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	for _, w := range report.Warnings {
		a.log.Warn(ctx, "Rule skipped", "error", w)
	}
	a.log.Debug(ctx, "Rule catalog loaded", "rules", report.Rules, "enabled", report.Enabled, "warnings", len(report.Warnings))

	return a, nil
}

func ruleSources(cfg *config.Config, log *logger.Logger, tracer trace.Tracer) []rules.Source {
	var sources []rules.Source
	if cfg.Rules.Builtin {
		sources = append(sources, yaml.NewEmbeddedSource())
	}
	if cfg.Rules.Gitleaks {
		sources = append(sources, gitleaks.NewSource(log, tracer))
	}
	for _, dir := range cfg.Rules.Dirs {
		sources = append(sources, yaml.NewDirSource(dir))
	}
	return sources
}

func (a *app) newCache(ctx context.Context) (domain.FindingCache, error) {
	switch a.cfg.Cache.Backend {
	case config.CacheBackendMemory:
		return memcache.New(), nil

	case config.CacheBackendDisk:
		c, err := disk.New(a.cfg.Cache.Dir, a.log, a.tracer)
		if err != nil {
			return nil, fmt.Errorf("open disk cache: %w", err)
		}
		return c, nil

	case config.CacheBackendPostgres:
		pool, err := common.ConnectPostgresWithRetry(ctx, a.log, a.cfg.Cache.PostgresDSN, postgresConnectTimeout)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) { pool.Close() })

		if err := db.Migrate(pool); err != nil {
			return nil, fmt.Errorf("migrate cache schema: %w", err)
		}
		a.log.Debug(ctx, "Postgres cache ready")
		return pgcache.NewCacheStore(pool, a.tracer), nil

	default:
		return nil, nil
	}
}

// Close releases every resource opened by newApp, newest first.
func (a *app) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i](ctx)
	}
	_ = a.bus.Close()
}
