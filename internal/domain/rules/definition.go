package rules

// Definition is the declarative, serialized form of a rule as supplied by a
// rule source. Definitions are validated and compiled into Rules by the
// loader; nothing else should consume them.
type Definition struct {
	ID          string              `yaml:"id" validate:"required"`
	Name        string              `yaml:"name"`
	Description string              `yaml:"description"`
	Severity    string              `yaml:"severity" validate:"required"`
	Category    string              `yaml:"category" validate:"required"`
	Confidence  *float64            `yaml:"confidence" validate:"omitempty,gte=0,lte=1"`
	Languages   []string            `yaml:"languages"`
	Enabled     *bool               `yaml:"enabled"`
	Tags        []string            `yaml:"tags"`
	CWE         string              `yaml:"cwe"`
	OWASP       string              `yaml:"owasp"`
	Patterns    []PatternDefinition `yaml:"patterns" validate:"required,min=1,dive"`
	Fix         FixDefinition       `yaml:"fix"`

	// Origin locates the definition within its source, e.g. a file path.
	Origin string `yaml:"-"`
}

// PatternDefinition is the serialized form of a Pattern.
type PatternDefinition struct {
	Kind      string   `yaml:"kind"`
	Expr      string   `yaml:"expr" validate:"required"`
	Languages []string `yaml:"languages"`
}

// FixDefinition is the serialized form of a FixTemplate.
type FixDefinition struct {
	Recommendation string   `yaml:"recommendation"`
	Before         string   `yaml:"before"`
	After          string   `yaml:"after"`
	References     []string `yaml:"references"`
}
