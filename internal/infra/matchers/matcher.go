// Package matchers provides the pattern matching strategies used by the
// scanner: RE2 based textual matching and tree-sitter based structural
// matching. A Registry dispatches patterns to the matcher for their kind.
package matchers

import (
	"context"

	"github.com/ahrav/vulnguard/internal/domain/rules"
	"github.com/ahrav/vulnguard/internal/domain/shared"
)

// Span is a half-open byte range [Start, End) within a file.
type Span struct {
	Start int
	End   int
}

// Matcher evaluates one kind of pattern.
type Matcher interface {
	// Kind is the pattern kind this matcher handles.
	Kind() rules.PatternKind
	// Compile validates expr and returns its executable form. langs is the
	// effective language set of the pattern; empty means any language.
	Compile(expr string, langs []shared.Language) (rules.CompiledPattern, error)
	// Match returns every span of compiled within doc in textual order.
	Match(ctx context.Context, doc *Document, compiled rules.CompiledPattern) ([]Span, error)
}
