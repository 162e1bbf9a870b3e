package scanning

// ValidationResult is the verdict of validating a proposed fix against a
// target rule.
type ValidationResult struct {
	RuleID        string    `json:"rule_id"`
	WasVulnerable bool      `json:"was_vulnerable"`
	IsNowSecure   bool      `json:"is_now_secure"`
	Fixed         bool      `json:"fixed"`
	NewIssues     []Finding `json:"new_issues"`
	ScoreBefore   int       `json:"score_before"`
	ScoreAfter    int       `json:"score_after"`
	ScoreDelta    int       `json:"score_delta"`
	// Remaining holds target rule findings still present after the fix.
	Remaining []Finding `json:"remaining,omitempty"`
}
