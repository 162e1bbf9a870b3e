package scanning

import (
	"cmp"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/ahrav/vulnguard/internal/domain/rules"
	domain "github.com/ahrav/vulnguard/internal/domain/scanning"
)

const (
	// DefaultContextLines is the number of lines shown above and below the
	// matched lines in a finding snippet.
	DefaultContextLines = 2
	// DefaultSnippetBudget caps the snippet length in characters.
	DefaultSnippetBudget = 500

	truncationMarker = "…"
)

// Synthesizer turns the raw matches of one rule in one file into findings.
// It is stateless apart from its configuration and safe for concurrent use.
type Synthesizer struct {
	contextLines  int
	snippetBudget int
}

// SynthesizerOption configures a Synthesizer.
type SynthesizerOption func(*Synthesizer)

// WithContextLines sets how many lines of context surround the match.
func WithContextLines(n int) SynthesizerOption {
	return func(s *Synthesizer) {
		if n >= 0 {
			s.contextLines = n
		}
	}
}

// WithSnippetBudget sets the maximum snippet length in characters.
func WithSnippetBudget(n int) SynthesizerOption {
	return func(s *Synthesizer) {
		if n > 0 {
			s.snippetBudget = n
		}
	}
}

// NewSynthesizer creates a Synthesizer with the default snippet shape.
func NewSynthesizer(opts ...SynthesizerOption) *Synthesizer {
	s := &Synthesizer{contextLines: DefaultContextLines, snippetBudget: DefaultSnippetBudget}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Synthesize converts the matches produced by rule's patterns for file into
// findings. Zero-length matches are dropped and overlapping matches of the
// rule collapse to the longest span (earlier offset on ties). idx must index
// file.Content.
func (s *Synthesizer) Synthesize(
	file domain.SourceFile,
	idx *domain.LineIndex,
	rule rules.Rule,
	matches []domain.RawMatch,
) []domain.Finding {
	kept := Dedup(matches)
	if len(kept) == 0 {
		return nil
	}

	findings := make([]domain.Finding, 0, len(kept))
	for _, m := range kept {
		line, col := idx.Position(m.Start)
		// End is exclusive, the last matched byte gives the closing position.
		endLine, endCol := idx.Position(m.End - 1)

		findings = append(findings, domain.Finding{
			ID:             domain.NewFindingID(rule.ID, file.Path, line, col),
			RuleID:         rule.ID,
			RuleName:       rule.Name,
			Severity:       rule.Severity,
			Confidence:     rule.Confidence,
			Category:       rule.Category,
			Path:           file.Path,
			Line:           line,
			Column:         col,
			EndLine:        endLine,
			EndColumn:      endCol + 1,
			StartOffset:    m.Start,
			EndOffset:      m.End,
			Snippet:        s.snippet(file.Content, idx, line, endLine),
			Recommendation: rule.Fix.Recommendation,
			References:     slices.Clone(rule.Fix.References),
			CWE:            rule.CWE,
			Source:         m.Kind,
		})
	}
	return findings
}

// Dedup removes zero-length matches and resolves overlaps between the
// remaining ones: a longer span beats a shorter one it overlaps, and between
// equally long spans the earlier one wins. The result is ordered by offset.
func Dedup(matches []domain.RawMatch) []domain.RawMatch {
	candidates := make([]domain.RawMatch, 0, len(matches))
	for _, m := range matches {
		if m.Len() > 0 {
			candidates = append(candidates, m)
		}
	}
	slices.SortFunc(candidates, func(a, b domain.RawMatch) int {
		if c := cmp.Compare(b.Len(), a.Len()); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Start, b.Start); c != 0 {
			return c
		}
		return cmp.Compare(a.PatternIndex, b.PatternIndex)
	})

	kept := make([]domain.RawMatch, 0, len(candidates))
	for _, m := range candidates {
		if !slices.ContainsFunc(kept, m.Overlaps) {
			kept = append(kept, m)
		}
	}
	slices.SortFunc(kept, func(a, b domain.RawMatch) int { return cmp.Compare(a.Start, b.Start) })
	return kept
}

func (s *Synthesizer) snippet(content []byte, idx *domain.LineIndex, firstLine, lastLine int) string {
	from := max(firstLine-s.contextLines, 1)
	to := min(lastLine+s.contextLines, idx.LineCount())

	start, _ := idx.LineBounds(from)
	_, end := idx.LineBounds(to)
	text := strings.ToValidUTF8(string(content[start:end]), "�")

	return truncate(text, s.snippetBudget)
}

// truncate caps text at budget characters including the marker.
func truncate(text string, budget int) string {
	if utf8.RuneCountInString(text) <= budget {
		return text
	}
	keep := budget - utf8.RuneCountInString(truncationMarker)
	if keep < 0 {
		keep = 0
	}
	var b strings.Builder
	b.Grow(keep + len(truncationMarker))
	n := 0
	for _, r := range text {
		if n == keep {
			break
		}
		b.WriteRune(r)
		n++
	}
	b.WriteString(truncationMarker)
	return b.String()
}
