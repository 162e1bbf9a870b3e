package rules

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/vulnguard/internal/domain/events"
	"github.com/ahrav/vulnguard/internal/domain/rules"
	"github.com/ahrav/vulnguard/pkg/common/logger"
)

// mutableSource lets tests change definitions between reloads.
type mutableSource struct {
	mu   sync.Mutex
	defs []rules.Definition
}

func (s *mutableSource) Name() string { return "mutable" }

func (s *mutableSource) Load(context.Context) (rules.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return rules.Batch{Definitions: append([]rules.Definition(nil), s.defs...)}, nil
}

func (s *mutableSource) set(defs ...rules.Definition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defs = defs
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.DomainEvent
}

func (p *recordingPublisher) PublishDomainEvent(_ context.Context, evt events.DomainEvent, _ ...events.PublishOption) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func newTestService(src rules.Source, pub events.DomainEventPublisher) *Service {
	return NewService(newTestLoader(), []rules.Source{src}, pub, logger.Noop(), noop.NewTracerProvider().Tracer("test"))
}

func TestServiceReloadSwapsCatalog(t *testing.T) {
	t.Parallel()

	src := &mutableSource{}
	src.set(def("a", "high", `a`))
	pub := new(recordingPublisher)
	svc := newTestService(src, pub)

	_, err := svc.Current()
	assert.ErrorIs(t, err, ErrCatalogNotLoaded)

	first, _, err := svc.Reload(context.Background())
	require.NoError(t, err)
	current, err := svc.Current()
	require.NoError(t, err)
	assert.Same(t, first, current)

	src.set(def("a", "high", `a`), def("b", "low", `b`))
	second, _, err := svc.Reload(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, first.Fingerprint(), second.Fingerprint())

	// A snapshot taken before the reload is unaffected.
	assert.Equal(t, 1, first.Len())

	require.Len(t, pub.events, 2)
	evt := pub.events[1].(rules.CatalogReloadedEvent)
	assert.Equal(t, second.Fingerprint(), evt.Fingerprint)
	assert.Equal(t, first.Fingerprint(), evt.PreviousFingerprint)
	assert.True(t, evt.Changed())
}

func TestServiceFailedReloadKeepsPrevious(t *testing.T) {
	t.Parallel()

	src := &mutableSource{}
	src.set(def("a", "high", `a`))
	svc := newTestService(src, nil)

	first, _, err := svc.Reload(context.Background())
	require.NoError(t, err)

	src.set(def("a", "nonsense", `a`))
	_, report, err := svc.Reload(context.Background())
	assert.ErrorIs(t, err, rules.ErrNoUsableRules)
	assert.Len(t, report.Malformed(), 1)
	assert.Same(t, report, svc.LastReport())

	current, err := svc.Current()
	require.NoError(t, err)
	assert.Same(t, first, current)
}

func TestServiceListRulesAndRule(t *testing.T) {
	t.Parallel()

	src := &mutableSource{}
	secrets := def("aws-key", "critical", `AKIA[0-9A-Z]{16}`)
	secrets.Category = "secrets"
	src.set(def("debug", "medium", `DEBUG`), secrets)
	svc := newTestService(src, nil)

	_, err := svc.ListRules(rules.Filter{})
	assert.ErrorIs(t, err, ErrCatalogNotLoaded)

	_, _, err = svc.Reload(context.Background())
	require.NoError(t, err)

	list, err := svc.ListRules(rules.Filter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"aws-key", "debug"}, ruleIDs(list))

	list, err = svc.ListRules(rules.Filter{Category: "secrets"})
	require.NoError(t, err)
	assert.Equal(t, []string{"aws-key"}, ruleIDs(list))

	r, err := svc.Rule("debug")
	require.NoError(t, err)
	assert.Equal(t, rules.SeverityMedium, r.Severity)

	_, err = svc.Rule("missing")
	assert.ErrorIs(t, err, rules.ErrUnknownRule)
}

func TestServiceInstall(t *testing.T) {
	t.Parallel()

	svc := newTestService(&mutableSource{}, nil)
	assert.ErrorIs(t, svc.Install(nil), rules.ErrNoUsableRules)

	catalog, err := rules.NewCatalog([]rules.Rule{{ID: "x", Enabled: true, Severity: rules.SeverityLow}})
	require.NoError(t, err)
	require.NoError(t, svc.Install(catalog))

	current, err := svc.Current()
	require.NoError(t, err)
	assert.Same(t, catalog, current)
}
