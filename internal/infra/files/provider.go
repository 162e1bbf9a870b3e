// Package files discovers and reads the source files of a directory tree.
package files

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ahrav/vulnguard/internal/domain/scanning"
	"github.com/ahrav/vulnguard/internal/domain/shared"
)

// DefaultMaxFileBytes is the largest file the provider will hand to a scan.
const DefaultMaxFileBytes int64 = 2 * 1024 * 1024

// sniffLen is how much of a file is inspected for NUL bytes.
const sniffLen = 8000

// ErrFileTooLarge is wrapped in the FileAccessError returned for files over
// the size cap.
var ErrFileTooLarge = errors.New("file exceeds size limit")

var defaultExcludedDirs = map[string]bool{
	".git":         true,
	".hg":          true,
	".svn":         true,
	"node_modules": true,
	"vendor":       true,
	"__pycache__":  true,
	".venv":        true,
	"dist":         true,
	"build":        true,
}

var _ scanning.FileReader = (*Provider)(nil)

// Provider lists the scannable files below a root directory and reads them
// on demand. Paths it returns and accepts are slash separated and relative to
// the root.
type Provider struct {
	root         string
	maxBytes     int64
	excludedDirs map[string]bool

	mu       sync.Mutex
	walkErrs map[string]error // entries the last List failed to read
}

// Option configures a Provider.
type Option func(*Provider)

// WithMaxFileBytes overrides DefaultMaxFileBytes.
func WithMaxFileBytes(n int64) Option {
	return func(p *Provider) {
		if n > 0 {
			p.maxBytes = n
		}
	}
}

// WithExcludedDirs adds directory names that are never descended into.
func WithExcludedDirs(names ...string) Option {
	return func(p *Provider) {
		for _, n := range names {
			p.excludedDirs[n] = true
		}
	}
}

// NewProvider creates a Provider rooted at root.
func NewProvider(root string, opts ...Option) *Provider {
	p := &Provider{
		root:         root,
		maxBytes:     DefaultMaxFileBytes,
		excludedDirs: make(map[string]bool, len(defaultExcludedDirs)),
	}
	for name := range defaultExcludedDirs {
		p.excludedDirs[name] = true
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Root returns the directory the provider reads from.
func (p *Provider) Root() string { return p.root }

// List walks the root in lexical order and returns every regular file that
// does not look binary. Excluded directories are skipped entirely. Files over
// the size cap and entries the walk could not read are listed as well, so
// that ReadFile reports them instead of the scan dropping them silently.
func (p *Provider) List(ctx context.Context) ([]string, error) {
	var (
		paths    []string
		walkErrs = make(map[string]error)
	)
	err := filepath.WalkDir(p.root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if path == p.root {
				return err
			}
			if d != nil && d.IsDir() && p.excludedDirs[d.Name()] {
				return filepath.SkipDir
			}
			rel, relErr := p.rel(path)
			if relErr != nil {
				return nil
			}
			// WalkDir may report a directory twice, listing it once is enough.
			if _, seen := walkErrs[rel]; !seen {
				paths = append(paths, rel)
			}
			walkErrs[rel] = err
			return nil
		}
		if d.IsDir() {
			if path != p.root && p.excludedDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		// An unreadable file is listed so ReadFile reports why.
		if binary, err := isBinaryFile(path); err == nil && binary {
			return nil
		}

		rel, err := p.rel(path)
		if err != nil {
			return nil
		}
		paths = append(paths, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", p.root, err)
	}

	p.mu.Lock()
	p.walkErrs = walkErrs
	p.mu.Unlock()
	return paths, nil
}

func (p *Provider) rel(path string) (string, error) {
	rel, err := filepath.Rel(p.root, path)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

// ExcludesDir reports whether directories with this base name are skipped.
func (p *Provider) ExcludesDir(name string) bool { return p.excludedDirs[name] }

// Accepts reports whether the slash separated path below the root is a file
// List would return. Like List it accepts oversize and unreadable files so
// their errors reach the scan result.
func (p *Provider) Accepts(path string) bool {
	rel := filepath.FromSlash(path)
	if !filepath.IsLocal(rel) {
		return false
	}
	for _, part := range strings.Split(filepath.Dir(rel), string(filepath.Separator)) {
		if p.excludedDirs[part] {
			return false
		}
	}

	full := filepath.Join(p.root, rel)
	info, err := os.Lstat(full)
	if err != nil {
		return !errors.Is(err, fs.ErrNotExist)
	}
	if !info.Mode().IsRegular() {
		return false
	}
	binary, err := isBinaryFile(full)
	return err != nil || !binary
}

// ReadFile implements scanning.FileReader. Failures, including files over the
// size cap and directories the last List could not walk, are reported as
// *scanning.FileAccessError.
func (p *Provider) ReadFile(ctx context.Context, path string) (scanning.SourceFile, error) {
	if err := ctx.Err(); err != nil {
		return scanning.SourceFile{}, scanning.NewFileAccessError(path, err)
	}

	full := filepath.Join(p.root, filepath.FromSlash(path))
	info, err := os.Stat(full)
	if err != nil {
		return scanning.SourceFile{}, scanning.NewFileAccessError(path, err)
	}
	if info.IsDir() {
		p.mu.Lock()
		walkErr, ok := p.walkErrs[path]
		p.mu.Unlock()
		if ok {
			return scanning.SourceFile{}, scanning.NewFileAccessError(path, walkErr)
		}
	}
	if !info.Mode().IsRegular() {
		return scanning.SourceFile{}, scanning.NewFileAccessError(path, errors.New("not a regular file"))
	}
	if info.Size() > p.maxBytes {
		return scanning.SourceFile{}, scanning.NewFileAccessError(path,
			fmt.Errorf("%w: %d > %d bytes", ErrFileTooLarge, info.Size(), p.maxBytes))
	}

	content, err := os.ReadFile(full)
	if err != nil {
		return scanning.SourceFile{}, scanning.NewFileAccessError(path, err)
	}
	return scanning.NewSourceFile(path, shared.LanguageUnknown, content), nil
}

func isBinaryFile(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	buf := make([]byte, sniffLen)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return false, err
	}
	return bytes.IndexByte(buf[:n], 0) >= 0, nil
}
