package matchers

import (
	"context"
	"fmt"
	"slices"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/ahrav/vulnguard/internal/domain/rules"
	"github.com/ahrav/vulnguard/internal/domain/shared"
)

// matchCapture is the capture name whose node defines the reported span.
// Queries without it report their first capture.
const matchCapture = "match"

// structuralPattern holds a tree-sitter query compiled for each supported
// language of the pattern. Compiled queries are read-only and shared by
// concurrent cursors.
type structuralPattern struct {
	expr    string
	queries map[shared.Language]*sitter.Query
}

func (structuralPattern) Kind() rules.PatternKind { return rules.PatternKindStructural }

// String returns the source query.
func (p structuralPattern) String() string { return p.expr }

// Structural matches tree-sitter S-expression queries against parsed syntax
// trees.
type Structural struct{}

var _ Matcher = Structural{}

// NewStructural creates a structural matcher.
func NewStructural() Structural { return Structural{} }

// Kind implements Matcher.
func (Structural) Kind() rules.PatternKind { return rules.PatternKindStructural }

// Compile implements Matcher. The query must compile for every listed language
// that has a grammar. With no language list it is compiled for every grammar
// and kept for the ones that accept it.
func (Structural) Compile(expr string, langs []shared.Language) (rules.CompiledPattern, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, fmt.Errorf("empty structural query")
	}

	p := structuralPattern{expr: expr, queries: make(map[shared.Language]*sitter.Query)}

	if len(langs) == 0 {
		var lastErr error
		for _, lang := range StructuralLanguages() {
			q, err := sitter.NewQuery([]byte(expr), grammars[lang])
			if err != nil {
				lastErr = err
				continue
			}
			p.queries[lang] = q
		}
		if len(p.queries) == 0 {
			return nil, fmt.Errorf("query does not compile for any supported language: %w", lastErr)
		}
		return p, nil
	}

	for _, lang := range langs {
		grammar, ok := grammarFor(lang)
		if !ok {
			continue
		}
		q, err := sitter.NewQuery([]byte(expr), grammar)
		if err != nil {
			return nil, fmt.Errorf("compile query for %s: %w", lang, err)
		}
		p.queries[lang] = q
	}
	if len(p.queries) == 0 {
		return nil, fmt.Errorf("no structural grammar for languages %v", langs)
	}
	return p, nil
}

// Match implements Matcher. The document is parsed at most once; a document
// that fails to parse yields no spans and a *scanning.ParseError.
func (Structural) Match(ctx context.Context, doc *Document, compiled rules.CompiledPattern) ([]Span, error) {
	p, ok := compiled.(structuralPattern)
	if !ok {
		return nil, fmt.Errorf("structural matcher cannot evaluate %T", compiled)
	}

	q, ok := p.queries[doc.Language()]
	if !ok {
		// The pattern has no query for this language so it cannot fire.
		return nil, nil
	}

	tree, err := doc.Tree(ctx)
	if err != nil {
		return nil, err
	}

	content := doc.Content()
	qc := sitter.NewQueryCursor()
	defer qc.Close()
	qc.Exec(q, tree.RootNode())

	var spans []Span
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		m, ok := qc.NextMatch()
		if !ok {
			break
		}
		m = qc.FilterPredicates(m, content)
		if len(m.Captures) == 0 {
			continue
		}
		node := m.Captures[0].Node
		for _, c := range m.Captures {
			if q.CaptureNameForId(c.Index) == matchCapture {
				node = c.Node
				break
			}
		}
		spans = append(spans, Span{Start: int(node.StartByte()), End: int(node.EndByte())})
	}

	slices.SortFunc(spans, func(a, b Span) int {
		if a.Start != b.Start {
			return a.Start - b.Start
		}
		return a.End - b.End
	})
	return slices.Compact(spans), nil
}
