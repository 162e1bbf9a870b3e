package rules

import "context"

// Batch is what a Source yields for one load: the definitions it could decode
// and the ones it had to reject.
type Batch struct {
	Definitions []Definition
	Rejected    []*MalformedRuleError
}

// Source supplies materialized rule definitions. How a source fetches or
// updates its rules is its own concern.
type Source interface {
	// Name identifies the source in load reports and logs.
	Name() string
	// Load returns the source's current definitions. An error means the whole
	// source was unusable; individual bad rules belong in Batch.Rejected.
	Load(ctx context.Context) (Batch, error)
}

// PatternCompiler turns a declarative pattern into its executable form.
// Compilation errors make the owning rule malformed.
type PatternCompiler interface {
	Compile(p Pattern) (CompiledPattern, error)
}

// StaticSource serves a fixed set of definitions.
type StaticSource struct {
	SourceName  string
	Definitions []Definition
}

// Name implements Source.
func (s StaticSource) Name() string { return s.SourceName }

// Load implements Source.
func (s StaticSource) Load(ctx context.Context) (Batch, error) {
	if err := ctx.Err(); err != nil {
		return Batch{}, err
	}
	return Batch{Definitions: s.Definitions}, nil
}
