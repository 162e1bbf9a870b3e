package scanning

import (
	"context"

	"github.com/ahrav/vulnguard/internal/domain/rules"
)

// MatchEngine evaluates compiled patterns against files. It opens one session
// per file so that per-file work such as parsing happens at most once.
type MatchEngine interface {
	Open(file SourceFile) MatchSession
}

// MatchSession evaluates patterns against a single file.
type MatchSession interface {
	// Match runs pattern and returns its matches in textual order. A file
	// that cannot be parsed yields no structural matches and a *ParseError;
	// callers record it and continue with other patterns.
	Match(ctx context.Context, ruleID string, index int, pattern rules.Pattern) ([]RawMatch, error)
	// Close releases per-file resources such as parsed trees.
	Close()
}

// FileReader loads file content on demand. Implementations return a
// *FileAccessError when the file cannot be read.
type FileReader interface {
	ReadFile(ctx context.Context, path string) (SourceFile, error)
}
