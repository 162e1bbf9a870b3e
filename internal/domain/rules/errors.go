package rules

import (
	"errors"
	"fmt"
)

var (
	// ErrNoUsableRules is returned when a catalog would contain no enabled rule.
	// It is the only rule-loading condition fatal to a scan.
	ErrNoUsableRules = errors.New("rule catalog has no usable rules")

	// ErrUnknownRule is returned when a rule id is not present in the catalog.
	ErrUnknownRule = errors.New("unknown rule")
)

// MalformedRuleError reports a single rule definition that could not be turned
// into a Rule. It is non-fatal: the loader records it and skips the rule.
type MalformedRuleError struct {
	Source string
	RuleID string
	// Index is the position of the definition within its source.
	Index  int
	Reason string
	Err    error
}

// NewMalformedRuleError creates a new MalformedRuleError.
func NewMalformedRuleError(source, ruleID string, index int, reason string, err error) *MalformedRuleError {
	return &MalformedRuleError{
		Source: source,
		RuleID: ruleID,
		Index:  index,
		Reason: reason,
		Err:    err,
	}
}

// Error returns a string representation of the error.
func (e *MalformedRuleError) Error() string {
	id := e.RuleID
	if id == "" {
		id = "<missing id>"
	}
	if e.Err != nil {
		return fmt.Sprintf("malformed rule %s (%s #%d): %s: %v", id, e.Source, e.Index, e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed rule %s (%s #%d): %s", id, e.Source, e.Index, e.Reason)
}

// Unwrap returns the underlying cause.
func (e *MalformedRuleError) Unwrap() error { return e.Err }

// DuplicateRuleError records that a later definition replaced an earlier one
// with the same id.
type DuplicateRuleError struct {
	RuleID   string
	Previous string
	Current  string
}

// NewDuplicateRuleError creates a new DuplicateRuleError.
func NewDuplicateRuleError(ruleID, previous, current string) *DuplicateRuleError {
	return &DuplicateRuleError{RuleID: ruleID, Previous: previous, Current: current}
}

// Error returns a string representation of the error.
func (e *DuplicateRuleError) Error() string {
	return fmt.Sprintf("duplicate rule %s: definition from %s replaces %s", e.RuleID, e.Current, e.Previous)
}
