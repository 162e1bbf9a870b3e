package matchers

import (
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/ahrav/vulnguard/internal/domain/shared"
)

var grammars = map[shared.Language]*sitter.Language{
	shared.LanguagePython:     python.GetLanguage(),
	shared.LanguageJavaScript: javascript.GetLanguage(),
	shared.LanguageTypeScript: typescript.GetLanguage(),
	shared.LanguageGo:         golang.GetLanguage(),
}

// grammarFor returns the tree-sitter grammar of lang.
func grammarFor(lang shared.Language) (*sitter.Language, bool) {
	g, ok := grammars[lang]
	return g, ok
}

// StructuralLanguages lists the languages that support structural patterns.
func StructuralLanguages() []shared.Language {
	return []shared.Language{
		shared.LanguageGo,
		shared.LanguageJavaScript,
		shared.LanguagePython,
		shared.LanguageTypeScript,
	}
}
