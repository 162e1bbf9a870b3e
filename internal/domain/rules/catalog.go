package rules

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"

	"github.com/ahrav/vulnguard/internal/domain/shared"
)

// Catalog is an immutable, versioned collection of rules. Every scan is handed
// a catalog explicitly; refreshing rules builds a new Catalog rather than
// mutating an existing one.
type Catalog struct {
	rules       []Rule // sorted by id
	byID        map[string]int
	hashes      map[string]string
	fingerprint string
}

// NewCatalog builds a catalog from rules. Rule ids must be unique.
func NewCatalog(rs []Rule) (*Catalog, error) {
	sorted := slices.Clone(rs)
	slices.SortFunc(sorted, func(a, b Rule) int { return strings.Compare(a.ID, b.ID) })

	c := &Catalog{
		rules:  sorted,
		byID:   make(map[string]int, len(sorted)),
		hashes: make(map[string]string, len(sorted)),
	}
	for i, r := range sorted {
		if _, exists := c.byID[r.ID]; exists {
			return nil, fmt.Errorf("duplicate rule id %q", r.ID)
		}
		c.byID[r.ID] = i
		c.hashes[r.ID] = r.GenerateHash()
	}
	c.fingerprint = c.computeFingerprint()

	return c, nil
}

// computeFingerprint hashes the sorted (id, content hash) pairs. Since rules
// are kept sorted by id the result does not depend on load order.
func (c *Catalog) computeFingerprint() string {
	h := sha256.New()
	for _, r := range c.rules {
		h.Write([]byte(r.ID))
		h.Write([]byte{0})
		h.Write([]byte(c.hashes[r.ID]))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Fingerprint returns a stable digest of the catalog's membership and rule
// content. It changes iff a rule is added, removed or modified.
func (c *Catalog) Fingerprint() string { return c.fingerprint }

// Len returns the number of rules in the catalog, including disabled ones.
func (c *Catalog) Len() int { return len(c.rules) }

// Usable returns the number of enabled rules.
func (c *Catalog) Usable() int {
	n := 0
	for _, r := range c.rules {
		if r.Enabled {
			n++
		}
	}
	return n
}

// Rule returns the rule with the given id.
func (c *Catalog) Rule(id string) (Rule, bool) {
	idx, ok := c.byID[id]
	if !ok {
		return Rule{}, false
	}
	return c.rules[idx], true
}

// RuleHash returns the content hash of the rule with the given id.
func (c *Catalog) RuleHash(id string) string { return c.hashes[id] }

// Rules returns every rule sorted by id.
func (c *Catalog) Rules() []Rule { return slices.Clone(c.rules) }

// Applicable returns the enabled rules that apply to files of lang, in
// priority order.
func (c *Catalog) Applicable(lang shared.Language) []Rule {
	return c.Lookup(Filter{Language: lang})
}

// Filter narrows a catalog lookup. Zero-valued fields do not constrain.
type Filter struct {
	Category string
	Severity Severity
	Language shared.Language
	// Text matches case-insensitively against id, name, description and tags.
	Text string
	// IDs restricts the lookup to the listed rule ids.
	IDs []string
	// IncludeDisabled also returns rules whose Enabled flag is false.
	IncludeDisabled bool
}

// IsZero reports whether the filter places no constraint on enabled rules.
func (f Filter) IsZero() bool {
	return f.Category == "" && f.Severity == "" && f.Language == shared.LanguageUnknown &&
		f.Text == "" && len(f.IDs) == 0
}

// Matches reports whether r satisfies the filter.
func (f Filter) Matches(r Rule) bool {
	if !r.Enabled && !f.IncludeDisabled {
		return false
	}
	if f.Category != "" && !strings.EqualFold(f.Category, r.Category) {
		return false
	}
	if f.Severity != "" && f.Severity != r.Severity {
		return false
	}
	if f.Language != shared.LanguageUnknown && !r.AppliesTo(f.Language) {
		return false
	}
	if len(f.IDs) > 0 && !slices.Contains(f.IDs, r.ID) {
		return false
	}
	if f.Text != "" && !matchesText(r, strings.ToLower(f.Text)) {
		return false
	}
	return true
}

func matchesText(r Rule, needle string) bool {
	if strings.Contains(strings.ToLower(r.ID), needle) ||
		strings.Contains(strings.ToLower(r.Name), needle) ||
		strings.Contains(strings.ToLower(r.Description), needle) {
		return true
	}
	for _, tag := range r.Tags {
		if strings.Contains(strings.ToLower(tag), needle) {
			return true
		}
	}
	return false
}

// Lookup returns the rules satisfying f sorted by severity (desc),
// confidence (desc) and id.
func (c *Catalog) Lookup(f Filter) []Rule {
	out := make([]Rule, 0, len(c.rules))
	for _, r := range c.rules {
		if f.Matches(r) {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, ByPriority)
	return out
}

// Subset returns a new catalog restricted to the given rule ids. Unknown ids
// produce an error wrapping ErrUnknownRule. The subset carries its own
// fingerprint so cache entries never mix catalog scopes.
func (c *Catalog) Subset(ids ...string) (*Catalog, error) {
	picked := make([]Rule, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		r, ok := c.Rule(id)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownRule, id)
		}
		picked = append(picked, r)
	}
	return NewCatalog(picked)
}

// Narrow returns a catalog holding only the rules matching f. A zero filter
// returns the receiver unchanged.
func (c *Catalog) Narrow(f Filter) (*Catalog, error) {
	if f.IsZero() {
		return c, nil
	}
	for _, id := range f.IDs {
		if _, ok := c.byID[id]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownRule, id)
		}
	}
	return NewCatalog(c.Lookup(f))
}

// Categories returns the distinct rule categories in sorted order.
func (c *Catalog) Categories() []string {
	set := make(map[string]struct{})
	for _, r := range c.rules {
		set[r.Category] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for cat := range set {
		out = append(out, cat)
	}
	slices.Sort(out)
	return out
}
