package scanning

import "fmt"

// FileStatus represents where a single file is in the scan pipeline.
type FileStatus string

const (
	// FileStatusPending indicates the file has been accepted but not yet dispatched.
	FileStatusPending FileStatus = "PENDING"

	// FileStatusCacheHit indicates findings were served from the cache.
	FileStatusCacheHit FileStatus = "CACHE_HIT"

	// FileStatusMatching indicates patterns are being evaluated against the file.
	FileStatusMatching FileStatus = "MATCHING"

	// FileStatusSynthesizing indicates raw matches are being turned into findings.
	FileStatusSynthesizing FileStatus = "SYNTHESIZING"

	// FileStatusDone indicates the file's findings are final.
	FileStatusDone FileStatus = "DONE"

	// FileStatusFailed indicates the file could not be scanned.
	FileStatusFailed FileStatus = "FAILED"
)

func (s FileStatus) String() string { return string(s) }

// IsTerminal reports whether no further transition is possible.
func (s FileStatus) IsTerminal() bool {
	return s == FileStatusDone || s == FileStatusFailed
}

// ValidateTransition checks if a status transition is valid and returns an error if not.
func (s FileStatus) ValidateTransition(target FileStatus) error {
	if !s.isValidTransition(target) {
		return fmt.Errorf("invalid file status transition from %s to %s", s, target)
	}
	return nil
}

// isValidTransition enforces the per-file lifecycle.
func (s FileStatus) isValidTransition(target FileStatus) bool {
	switch s {
	case FileStatusPending:
		return target == FileStatusCacheHit || target == FileStatusMatching || target == FileStatusFailed
	case FileStatusCacheHit:
		return target == FileStatusDone
	case FileStatusMatching:
		return target == FileStatusSynthesizing || target == FileStatusFailed
	case FileStatusSynthesizing:
		return target == FileStatusDone || target == FileStatusFailed
	case FileStatusDone, FileStatusFailed:
		return false
	default:
		return false
	}
}

// FileProgress tracks the status of one file through a scan.
type FileProgress struct {
	Path   string
	status FileStatus
}

// NewFileProgress creates a FileProgress in the pending state.
func NewFileProgress(path string) *FileProgress {
	return &FileProgress{Path: path, status: FileStatusPending}
}

// Status returns the current status.
func (p *FileProgress) Status() FileStatus { return p.status }

// Advance moves the file to target if the transition is allowed.
func (p *FileProgress) Advance(target FileStatus) error {
	if err := p.status.ValidateTransition(target); err != nil {
		return fmt.Errorf("file %s: %w", p.Path, err)
	}
	p.status = target
	return nil
}
