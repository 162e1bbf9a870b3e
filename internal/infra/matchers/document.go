package matchers

import (
	"context"
	"fmt"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/ahrav/vulnguard/internal/domain/scanning"
	"github.com/ahrav/vulnguard/internal/domain/shared"
)

// Document is a file opened for matching. It lazily parses the file the first
// time a structural pattern needs the syntax tree and keeps the tree until
// Close.
type Document struct {
	file scanning.SourceFile

	once     sync.Once
	tree     *sitter.Tree
	parseErr error
}

// NewDocument opens file for matching.
func NewDocument(file scanning.SourceFile) *Document {
	return &Document{file: file}
}

// Content returns the raw file content.
func (d *Document) Content() []byte { return d.file.Content }

// Language returns the file's language.
func (d *Document) Language() shared.Language { return d.file.Language }

// Path returns the file path.
func (d *Document) Path() string { return d.file.Path }

// Tree returns the parsed syntax tree, parsing on first use. Parse failures
// are sticky so a broken file is only parsed once.
func (d *Document) Tree(ctx context.Context) (*sitter.Tree, error) {
	d.once.Do(func() { d.tree, d.parseErr = d.parse(ctx) })
	return d.tree, d.parseErr
}

func (d *Document) parse(ctx context.Context) (*sitter.Tree, error) {
	grammar, ok := grammarFor(d.file.Language)
	if !ok {
		return nil, scanning.NewParseError(d.file.Path, d.file.Language, "no grammar for language")
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(grammar)

	tree, err := parser.ParseCtx(ctx, nil, d.file.Content)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, scanning.NewParseError(d.file.Path, d.file.Language, fmt.Sprintf("parser failed: %v", err))
	}
	if tree.RootNode().HasError() {
		tree.Close()
		return nil, scanning.NewParseError(d.file.Path, d.file.Language, "syntax errors in file")
	}
	return tree, nil
}

// Close releases the parsed tree, if any.
func (d *Document) Close() {
	if d.tree != nil {
		d.tree.Close()
		d.tree = nil
	}
}
