package matchers

import (
	"context"
	"fmt"

	regexp "github.com/wasilibs/go-re2"

	"github.com/ahrav/vulnguard/internal/domain/rules"
	"github.com/ahrav/vulnguard/internal/domain/shared"
)

// matchGroup names the capture group that, when present, delimits the
// reported span instead of the whole match. It plays the role of the @match
// capture of structural queries and lets an expression require context, such
// as a preceding character, without reporting it.
const matchGroup = "match"

// textualPattern is a compiled RE2 expression.
type textualPattern struct {
	re    *regexp.Regexp
	group int // index of the match group, 0 for the whole match
}

func (textualPattern) Kind() rules.PatternKind { return rules.PatternKindTextual }

// String returns the source expression.
func (p textualPattern) String() string { return p.re.String() }

// Textual matches RE2 regular expressions against raw file content. It is
// pure: the same content and pattern always produce the same spans.
type Textual struct{}

var _ Matcher = Textual{}

// NewTextual creates a textual matcher.
func NewTextual() Textual { return Textual{} }

// Kind implements Matcher.
func (Textual) Kind() rules.PatternKind { return rules.PatternKindTextual }

// Compile implements Matcher. Inline flags such as (?m), (?s) and (?i) are
// honored; constructs outside RE2 (backreferences, lookaround) are rejected.
func (Textual) Compile(expr string, _ []shared.Language) (rules.CompiledPattern, error) {
	if expr == "" {
		return nil, fmt.Errorf("empty regular expression")
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("compile regex: %w", err)
	}
	group := re.SubexpIndex(matchGroup)
	if group < 0 {
		group = 0
	}
	return textualPattern{re: re, group: group}, nil
}

// Match implements Matcher. It returns every non-overlapping leftmost match,
// which may span multiple lines. Matches where the match group did not
// participate are skipped.
func (Textual) Match(ctx context.Context, doc *Document, compiled rules.CompiledPattern) ([]Span, error) {
	p, ok := compiled.(textualPattern)
	if !ok {
		return nil, fmt.Errorf("textual matcher cannot evaluate %T", compiled)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	locs := p.re.FindAllSubmatchIndex(doc.Content(), -1)
	spans := make([]Span, 0, len(locs))
	for _, loc := range locs {
		start, end := loc[2*p.group], loc[2*p.group+1]
		if start < 0 {
			continue
		}
		spans = append(spans, Span{Start: start, End: end})
	}
	return spans, nil
}
