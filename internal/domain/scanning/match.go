package scanning

import "github.com/ahrav/vulnguard/internal/domain/rules"

// RawMatch is a single pattern hit before synthesis. Offsets are byte
// positions into the file content, End is exclusive.
type RawMatch struct {
	RuleID       string
	PatternIndex int
	Kind         rules.PatternKind
	Start        int
	End          int
	Text         string
}

// Len returns the number of bytes the match spans.
func (m RawMatch) Len() int { return m.End - m.Start }

// Overlaps reports whether the two half-open spans share at least one byte.
func (m RawMatch) Overlaps(o RawMatch) bool {
	return m.Start < o.End && o.Start < m.End
}
