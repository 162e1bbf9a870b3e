package matchers

import (
	"context"
	"fmt"

	"github.com/ahrav/vulnguard/internal/domain/rules"
	"github.com/ahrav/vulnguard/internal/domain/scanning"
)

// Registry maps pattern kinds to matchers. It compiles patterns when a catalog
// is built and opens per-file match sessions during scans. A Registry is
// immutable after construction and safe for concurrent use.
type Registry struct {
	matchers map[rules.PatternKind]Matcher
}

var (
	_ rules.PatternCompiler = (*Registry)(nil)
	_ scanning.MatchEngine  = (*Registry)(nil)
)

// NewRegistry creates a registry from ms. Later matchers replace earlier ones
// of the same kind.
func NewRegistry(ms ...Matcher) *Registry {
	r := &Registry{matchers: make(map[rules.PatternKind]Matcher, len(ms))}
	for _, m := range ms {
		r.matchers[m.Kind()] = m
	}
	return r
}

// Default returns a registry with the textual and structural matchers.
func Default() *Registry {
	return NewRegistry(NewTextual(), NewStructural())
}

// Matcher returns the matcher for kind.
func (r *Registry) Matcher(kind rules.PatternKind) (Matcher, bool) {
	m, ok := r.matchers[kind]
	return m, ok
}

// Compile implements rules.PatternCompiler.
func (r *Registry) Compile(p rules.Pattern) (rules.CompiledPattern, error) {
	m, ok := r.matchers[p.Kind]
	if !ok {
		return nil, fmt.Errorf("no matcher registered for pattern kind %q", p.Kind)
	}
	return m.Compile(p.Expr, p.Languages)
}

// Open implements scanning.MatchEngine.
func (r *Registry) Open(file scanning.SourceFile) scanning.MatchSession {
	return &session{registry: r, doc: NewDocument(file)}
}

// session evaluates patterns against one file. It is used by a single worker.
type session struct {
	registry *Registry
	doc      *Document
}

// Match implements scanning.MatchSession.
func (s *session) Match(ctx context.Context, ruleID string, index int, p rules.Pattern) ([]scanning.RawMatch, error) {
	m, ok := s.registry.matchers[p.Kind]
	if !ok {
		return nil, fmt.Errorf("no matcher registered for pattern kind %q", p.Kind)
	}

	compiled := p.Compiled
	if compiled == nil {
		var err error
		if compiled, err = m.Compile(p.Expr, p.Languages); err != nil {
			return nil, fmt.Errorf("rule %s pattern %d: %w", ruleID, index, err)
		}
	}

	spans, err := m.Match(ctx, s.doc, compiled)
	if err != nil {
		return nil, err
	}

	content := s.doc.Content()
	out := make([]scanning.RawMatch, 0, len(spans))
	for _, sp := range spans {
		out = append(out, scanning.RawMatch{
			RuleID:       ruleID,
			PatternIndex: index,
			Kind:         p.Kind,
			Start:        sp.Start,
			End:          sp.End,
			Text:         string(content[sp.Start:sp.End]),
		})
	}
	return out, nil
}

// Close implements scanning.MatchSession.
func (s *session) Close() { s.doc.Close() }
