// Package rules provides the domain model for declarative vulnerability
// detection rules: rules, their match patterns and the immutable catalog
// the scanner evaluates.
package rules

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"

	"github.com/ahrav/vulnguard/internal/domain/shared"
)

// Severity is the ordinal risk level of a rule. It drives both result
// ordering and the security score deduction.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// AllSeverities lists severities from most to least severe.
var AllSeverities = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow}

// ParseSeverity converts a case-insensitive severity name into a Severity.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical":
		return SeverityCritical, nil
	case "high":
		return SeverityHigh, nil
	case "medium", "moderate":
		return SeverityMedium, nil
	case "low":
		return SeverityLow, nil
	default:
		return "", fmt.Errorf("invalid severity: %q", s)
	}
}

func (s Severity) String() string { return string(s) }

// Rank orders severities; higher is more severe. Unknown severities rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// Weight is the number of points a single finding of this severity deducts
// from the security score.
func (s Severity) Weight() int {
	switch s {
	case SeverityCritical:
		return 25
	case SeverityHigh:
		return 10
	case SeverityMedium:
		return 5
	case SeverityLow:
		return 2
	default:
		return 0
	}
}

// PatternKind selects the matcher strategy used to evaluate a pattern.
type PatternKind string

const (
	// PatternKindTextual patterns are RE2 regular expressions evaluated
	// against raw file content.
	PatternKindTextual PatternKind = "textual"
	// PatternKindStructural patterns are syntax-tree queries evaluated
	// against the parsed file.
	PatternKindStructural PatternKind = "structural"
)

// ParsePatternKind converts a pattern kind name into a PatternKind. An empty
// name defaults to textual; "regex" and "query" are accepted aliases.
func ParsePatternKind(s string) (PatternKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "textual", "regex":
		return PatternKindTextual, nil
	case "structural", "query", "ast":
		return PatternKindStructural, nil
	default:
		return "", fmt.Errorf("invalid pattern kind: %q", s)
	}
}

// CompiledPattern is the matcher-specific, ready to execute form of a
// Pattern. It is produced once when the catalog is built.
type CompiledPattern interface {
	Kind() PatternKind
}

// Pattern is one concrete match expression belonging to a rule. Multiple
// patterns of a rule are combined with logical OR.
type Pattern struct {
	Kind PatternKind `json:"kind"`
	// Expr is an RE2 expression for textual patterns or a tree-sitter query
	// for structural ones.
	Expr string `json:"expr"`
	// Languages optionally narrows the pattern to a subset of the rule's
	// languages. Empty means every language the rule applies to.
	Languages []shared.Language `json:"languages,omitempty"`

	Compiled CompiledPattern `json:"-"`
}

// AppliesTo reports whether the pattern should run against a file of the
// given language.
func (p Pattern) AppliesTo(lang shared.Language) bool {
	return languageAllowed(p.Languages, lang)
}

// FixTemplate is the remediation guidance attached to a rule.
type FixTemplate struct {
	Recommendation string   `json:"recommendation"`
	Before         string   `json:"before,omitempty"`
	After          string   `json:"after,omitempty"`
	References     []string `json:"references,omitempty"`
}

// Rule is a named detection definition. Rules are created by the loader and
// must be treated as immutable; a refresh builds a new catalog instead.
type Rule struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Severity    Severity          `json:"severity"`
	Category    string            `json:"category"`
	Patterns    []Pattern         `json:"patterns"`
	Confidence  float64           `json:"confidence"`
	Fix         FixTemplate       `json:"fix"`
	Languages   []shared.Language `json:"languages,omitempty"`
	Enabled     bool              `json:"enabled"`
	Tags        []string          `json:"tags,omitempty"`
	CWE         string            `json:"cwe,omitempty"`
	OWASP       string            `json:"owasp,omitempty"`
}

// AppliesTo reports whether the rule targets files of the given language. A
// rule without a language set applies to every file.
func (r Rule) AppliesTo(lang shared.Language) bool {
	return languageAllowed(r.Languages, lang)
}

func languageAllowed(set []shared.Language, lang shared.Language) bool {
	if len(set) == 0 {
		return true
	}
	return slices.Contains(set, lang)
}

// GenerateHash generates a deterministic MD5 hash of the essential rule content.
func (r Rule) GenerateHash() string {
	h := md5.New()

	// Fields are NUL separated so that adjacent values cannot be shifted into
	// each other without changing the digest.
	write := func(s string) {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}

	write(r.ID)
	write(r.Name)
	write(r.Description)
	write(string(r.Severity))
	write(r.Category)
	write(fmt.Sprintf("%f", r.Confidence))
	write(fmt.Sprintf("%t", r.Enabled))
	write(r.CWE)
	write(r.OWASP)

	for _, lang := range r.Languages {
		write(string(lang))
	}
	write("|tags")
	for _, tag := range r.Tags {
		write(tag)
	}

	// Include patterns so that a changed expression or language restriction
	// invalidates every cache entry keyed on the catalog fingerprint.
	for _, p := range r.Patterns {
		write("|pattern")
		write(string(p.Kind))
		write(p.Expr)
		for _, lang := range p.Languages {
			write(string(lang))
		}
	}

	write("|fix")
	write(r.Fix.Recommendation)
	write(r.Fix.Before)
	write(r.Fix.After)
	for _, ref := range r.Fix.References {
		write(ref)
	}

	return hex.EncodeToString(h.Sum(nil))
}

// ByPriority orders rules by severity (desc), confidence (desc) and id so
// that the highest value findings surface first.
func ByPriority(a, b Rule) int {
	if a.Severity.Rank() != b.Severity.Rank() {
		return b.Severity.Rank() - a.Severity.Rank()
	}
	if a.Confidence != b.Confidence {
		if a.Confidence > b.Confidence {
			return -1
		}
		return 1
	}
	return strings.Compare(a.ID, b.ID)
}
