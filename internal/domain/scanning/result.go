package scanning

import (
	"time"

	"github.com/google/uuid"

	"github.com/ahrav/vulnguard/internal/domain/rules"
)

// MaxScore is the score of a result without findings.
const MaxScore = 100

// ComputeScore returns MaxScore minus the severity weight of every finding,
// floored at zero. It depends only on the multiset of severities.
func ComputeScore(findings []Finding) int {
	score := MaxScore
	for _, f := range findings {
		score -= f.Severity.Weight()
	}
	if score < 0 {
		return 0
	}
	return score
}

// Summary aggregates the findings of a scan.
type Summary struct {
	Total      int                    `json:"total"`
	BySeverity map[rules.Severity]int `json:"by_severity"`
	ByCategory map[string]int         `json:"by_category"`
}

// Summarize counts findings by severity and category.
func Summarize(findings []Finding) Summary {
	s := Summary{
		Total:      len(findings),
		BySeverity: make(map[rules.Severity]int, len(rules.AllSeverities)),
		ByCategory: make(map[string]int),
	}
	for _, sev := range rules.AllSeverities {
		s.BySeverity[sev] = 0
	}
	for _, f := range findings {
		s.BySeverity[f.Severity]++
		s.ByCategory[f.Category]++
	}
	return s
}

// FileErrorKind classifies a per-file diagnostic.
type FileErrorKind string

const (
	FileErrorAccess FileErrorKind = "access"
	FileErrorParse  FileErrorKind = "parse"
	FileErrorMatch  FileErrorKind = "match"
)

// FileError is a non-fatal per-file diagnostic recorded on a ScanResult.
type FileError struct {
	Path    string        `json:"path"`
	Kind    FileErrorKind `json:"kind"`
	Message string        `json:"message"`
}

// ScanResult is the outcome of one scan.
type ScanResult struct {
	ScanID             uuid.UUID     `json:"scan_id"`
	Findings           []Finding     `json:"findings"`
	Summary            Summary       `json:"summary"`
	FilesScanned       int           `json:"files_scanned"`
	FilesFromCache     int           `json:"files_from_cache"`
	Duration           time.Duration `json:"duration_ns"`
	Score              int           `json:"score"`
	CatalogFingerprint string        `json:"catalog_fingerprint"`
	Errors             []FileError   `json:"errors,omitempty"`
	// Partial is set when the scan was cancelled before every file ran.
	Partial   bool     `json:"partial"`
	Unscanned []string `json:"unscanned,omitempty"`
}

// FindingsForRule returns the findings produced by ruleID.
func (r *ScanResult) FindingsForRule(ruleID string) []Finding {
	var out []Finding
	for _, f := range r.Findings {
		if f.RuleID == ruleID {
			out = append(out, f)
		}
	}
	return out
}

// RuleIDs returns the set of rule ids that produced at least one finding.
func (r *ScanResult) RuleIDs() map[string]struct{} {
	set := make(map[string]struct{}, len(r.Findings))
	for _, f := range r.Findings {
		set[f.RuleID] = struct{}{}
	}
	return set
}
