// Package scanning provides the domain model of a scan: source files, the raw
// matches produced by matchers, the findings synthesized from them, scan and
// validation results and the cache ports used for incremental scanning.
package scanning

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/ahrav/vulnguard/internal/domain/shared"
)

// SourceFile is a unit of scan input: a path, its detected language and its
// full content. The content is never mutated once the file is created.
type SourceFile struct {
	Path     string
	Language shared.Language
	Content  []byte
}

// NewSourceFile creates a SourceFile, detecting the language from the path
// extension when lang is unknown.
func NewSourceFile(path string, lang shared.Language, content []byte) SourceFile {
	if lang == shared.LanguageUnknown {
		lang = shared.DetectLanguage(path)
	}
	return SourceFile{Path: path, Language: lang, Content: content}
}

// ContentHash returns the hex encoded SHA-256 digest of the file content.
func (f SourceFile) ContentHash() string { return ContentHash(f.Content) }

// String returns a short description of the file for logs.
func (f SourceFile) String() string {
	return fmt.Sprintf("%s (%s, %d bytes)", f.Path, f.Language, len(f.Content))
}

// ContentHash returns the hex encoded SHA-256 digest of content.
func ContentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
