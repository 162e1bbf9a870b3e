// Package shared provides core domain types used by both the rules and the
// scanning domains.
package shared

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"
)

// Language identifies the programming language of a source file. Rules declare
// the languages they apply to and the scanner uses the language of a file to
// pick applicable patterns and the grammar used for structural matching.
type Language string

const (
	// LanguageUnknown is assigned to files whose extension is not recognized.
	// Only language-agnostic rules apply to them.
	LanguageUnknown Language = ""

	LanguagePython     Language = "python"
	LanguageJavaScript Language = "javascript"
	LanguageTypeScript Language = "typescript"
	LanguageGo         Language = "go"
	LanguageJava       Language = "java"
	LanguageRuby       Language = "ruby"
	LanguagePHP        Language = "php"
	LanguageShell      Language = "shell"
	LanguageYAML       Language = "yaml"
	LanguageJSON       Language = "json"
)

// LanguageError is returned when a language name is not recognized.
type LanguageError struct {
	Language string
}

func (e *LanguageError) Error() string {
	return fmt.Sprintf("invalid language: %q", e.Language)
}

var allLanguages = []Language{
	LanguagePython,
	LanguageJavaScript,
	LanguageTypeScript,
	LanguageGo,
	LanguageJava,
	LanguageRuby,
	LanguagePHP,
	LanguageShell,
	LanguageYAML,
	LanguageJSON,
}

var languageAliases = map[string]Language{
	"py":         LanguagePython,
	"js":         LanguageJavaScript,
	"node":       LanguageJavaScript,
	"ts":         LanguageTypeScript,
	"golang":     LanguageGo,
	"rb":         LanguageRuby,
	"sh":         LanguageShell,
	"bash":       LanguageShell,
	"yml":        LanguageYAML,
	"typescript": LanguageTypeScript,
}

// ParseLanguage converts a language name or common alias into a Language.
func ParseLanguage(s string) (Language, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for _, l := range allLanguages {
		if string(l) == name {
			return l, nil
		}
	}
	if l, ok := languageAliases[name]; ok {
		return l, nil
	}
	return LanguageUnknown, &LanguageError{Language: s}
}

// String returns the string representation of a Language.
func (l Language) String() string { return string(l) }

// IsValid reports whether l is LanguageUnknown or one of the known languages.
func (l Language) IsValid() bool {
	return l == LanguageUnknown || slices.Contains(allLanguages, l)
}

var extensionLanguages = map[string]Language{
	".py":   LanguagePython,
	".pyw":  LanguagePython,
	".js":   LanguageJavaScript,
	".jsx":  LanguageJavaScript,
	".mjs":  LanguageJavaScript,
	".cjs":  LanguageJavaScript,
	".ts":   LanguageTypeScript,
	".tsx":  LanguageTypeScript,
	".mts":  LanguageTypeScript,
	".go":   LanguageGo,
	".java": LanguageJava,
	".rb":   LanguageRuby,
	".php":  LanguagePHP,
	".sh":   LanguageShell,
	".bash": LanguageShell,
	".yaml": LanguageYAML,
	".yml":  LanguageYAML,
	".json": LanguageJSON,
}

// DetectLanguage infers the language of a file from its extension.
func DetectLanguage(path string) Language {
	return extensionLanguages[strings.ToLower(filepath.Ext(path))]
}

// Extension returns the canonical file extension for the language, including
// the leading dot. Unknown languages map to ".txt".
func (l Language) Extension() string {
	switch l {
	case LanguagePython:
		return ".py"
	case LanguageJavaScript:
		return ".js"
	case LanguageTypeScript:
		return ".ts"
	case LanguageGo:
		return ".go"
	case LanguageJava:
		return ".java"
	case LanguageRuby:
		return ".rb"
	case LanguagePHP:
		return ".php"
	case LanguageShell:
		return ".sh"
	case LanguageYAML:
		return ".yaml"
	case LanguageJSON:
		return ".json"
	default:
		return ".txt"
	}
}
