package scanning

import (
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/ahrav/vulnguard/internal/domain/rules"
)

// findingNamespace scopes deterministic finding ids.
var findingNamespace = uuid.MustParse("7d8f0c1e-5b0a-4c8e-9a57-2f4c6d3e1b90")

// NewFindingID returns the deterministic id of a finding of ruleID at the
// given location. Identical inputs always produce the same id.
func NewFindingID(ruleID, path string, line, column int) uuid.UUID {
	name := fmt.Sprintf("%s\x00%s\x00%d\x00%d", ruleID, path, line, column)
	return uuid.NewSHA1(findingNamespace, []byte(name))
}

// Finding is a located, scored instance of a rule firing against a file.
type Finding struct {
	ID             uuid.UUID         `json:"id"`
	RuleID         string            `json:"rule_id"`
	RuleName       string            `json:"rule_name"`
	Severity       rules.Severity    `json:"severity"`
	Confidence     float64           `json:"confidence"`
	Category       string            `json:"category"`
	Path           string            `json:"path"`
	Line           int               `json:"line"`
	Column         int               `json:"column"`
	EndLine        int               `json:"end_line"`
	EndColumn      int               `json:"end_column"`
	StartOffset    int               `json:"start_offset"`
	EndOffset      int               `json:"end_offset"`
	Snippet        string            `json:"snippet"`
	Recommendation string            `json:"recommendation"`
	References     []string          `json:"references,omitempty"`
	CWE            string            `json:"cwe,omitempty"`
	Source         rules.PatternKind `json:"source"`
}

// Clone returns a deep copy of the finding.
func (f Finding) Clone() Finding {
	f.References = slices.Clone(f.References)
	return f
}

// CloneFindings deep copies a slice of findings. A nil slice stays nil.
func CloneFindings(in []Finding) []Finding {
	if in == nil {
		return nil
	}
	out := make([]Finding, len(in))
	for i, f := range in {
		out[i] = f.Clone()
	}
	return out
}

// CompareFindings orders findings by severity (desc), path, line, column and
// rule id. The order is total over distinct findings so results are
// reproducible regardless of scheduling.
func CompareFindings(a, b Finding) int {
	if a.Severity.Rank() != b.Severity.Rank() {
		return b.Severity.Rank() - a.Severity.Rank()
	}
	if c := strings.Compare(a.Path, b.Path); c != 0 {
		return c
	}
	if a.Line != b.Line {
		return a.Line - b.Line
	}
	if a.Column != b.Column {
		return a.Column - b.Column
	}
	if c := strings.Compare(a.RuleID, b.RuleID); c != 0 {
		return c
	}
	return a.EndOffset - b.EndOffset
}

// SortFindings sorts findings in place using CompareFindings.
func SortFindings(fs []Finding) { slices.SortFunc(fs, CompareFindings) }

// RebindFindings returns copies of findings located in the file at path.
// Cached findings are a function of content alone, so the path and the
// path-derived id are reassigned for the file they are served to.
func RebindFindings(findings []Finding, path string) []Finding {
	out := make([]Finding, len(findings))
	for i, f := range findings {
		f = f.Clone()
		f.Path = path
		f.ID = NewFindingID(f.RuleID, path, f.Line, f.Column)
		out[i] = f
	}
	return out
}
