package scanning

import (
	"errors"
	"fmt"

	"github.com/ahrav/vulnguard/internal/domain/shared"
)

// ErrInvalidArgument is returned for malformed scan or validation requests.
var ErrInvalidArgument = errors.New("invalid argument")

// FileAccessError is raised when a file cannot be read. The file is excluded
// from the scan and from scoring.
type FileAccessError struct {
	Path string
	Err  error
}

// NewFileAccessError creates a new FileAccessError.
func NewFileAccessError(path string, err error) *FileAccessError {
	return &FileAccessError{Path: path, Err: err}
}

// Error returns a string representation of the error.
func (e *FileAccessError) Error() string {
	return fmt.Sprintf("cannot read %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying cause.
func (e *FileAccessError) Unwrap() error { return e.Err }

// ParseError is raised when a file cannot be parsed for structural matching.
// Textual patterns still apply to the file.
type ParseError struct {
	Path     string
	Language shared.Language
	Reason   string
}

// NewParseError creates a new ParseError.
func NewParseError(path string, lang shared.Language, reason string) *ParseError {
	return &ParseError{Path: path, Language: lang, Reason: reason}
}

// Error returns a string representation of the error.
func (e *ParseError) Error() string {
	lang := string(e.Language)
	if lang == "" {
		lang = "unknown language"
	}
	return fmt.Sprintf("parse %s (%s): %s", e.Path, lang, e.Reason)
}

// CacheCorruptionError is raised when a cache entry exists but cannot be
// decoded. Callers treat it as a miss.
type CacheCorruptionError struct {
	Key CacheKey
	Err error
}

// NewCacheCorruptionError creates a new CacheCorruptionError.
func NewCacheCorruptionError(key CacheKey, err error) *CacheCorruptionError {
	return &CacheCorruptionError{Key: key, Err: err}
}

// Error returns a string representation of the error.
func (e *CacheCorruptionError) Error() string {
	return fmt.Sprintf("corrupt cache entry %s: %v", e.Key, e.Err)
}

// Unwrap returns the underlying cause.
func (e *CacheCorruptionError) Unwrap() error { return e.Err }

// FileErrorFrom converts a per-file error into a FileError diagnostic.
func FileErrorFrom(path string, err error) FileError {
	kind := FileErrorMatch
	var accessErr *FileAccessError
	var parseErr *ParseError
	switch {
	case errors.As(err, &accessErr):
		kind = FileErrorAccess
	case errors.As(err, &parseErr):
		kind = FileErrorParse
	}
	return FileError{Path: path, Kind: kind, Message: err.Error()}
}
