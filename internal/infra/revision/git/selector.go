// Package git narrows file sets to the files changed since a git revision.
package git

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/vulnguard/internal/domain/scanning"
	"github.com/ahrav/vulnguard/pkg/common/logger"
)

var _ scanning.ChangeSelector = (*Selector)(nil)

// Selector implements scanning.ChangeSelector with the git command line.
// A file counts as changed when it differs from the revision in the working
// tree or index, or when it is untracked and not ignored.
type Selector struct {
	root   string
	logger *logger.Logger
	tracer trace.Tracer
}

// NewSelector creates a Selector for the repository (or subdirectory of a
// repository) at root.
func NewSelector(root string, log *logger.Logger, tracer trace.Tracer) *Selector {
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	return &Selector{
		root:   root,
		logger: log.With("component", "git_change_selector", "root", root),
		tracer: tracer,
	}
}

// SelectChanged returns the members of files changed since ref, in the order
// they were given. Paths may be absolute or relative to the selector root.
// An empty ref selects every file.
func (s *Selector) SelectChanged(ctx context.Context, files []string, ref string) ([]string, error) {
	if ref == "" {
		return files, nil
	}
	if strings.HasPrefix(ref, "-") {
		return nil, fmt.Errorf("%w: revision %q", scanning.ErrInvalidArgument, ref)
	}

	ctx, span := s.tracer.Start(ctx, "git_change_selector.select_changed",
		trace.WithAttributes(
			attribute.String("ref", ref),
			attribute.Int("candidates", len(files)),
		))
	defer span.End()

	changed := make(map[string]struct{})
	collect := func(args ...string) error {
		out, err := s.git(ctx, args...)
		if err != nil {
			return err
		}
		sc := bufio.NewScanner(bytes.NewReader(out))
		for sc.Scan() {
			if line := strings.TrimSpace(sc.Text()); line != "" {
				changed[line] = struct{}{}
			}
		}
		return sc.Err()
	}

	if err := collect("diff", "--name-only", "--relative", ref, "--"); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "git diff failed")
		return nil, err
	}
	if err := collect("ls-files", "--others", "--exclude-standard"); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "git ls-files failed")
		return nil, err
	}

	selected := make([]string, 0, len(changed))
	for _, f := range files {
		if _, ok := changed[s.relative(f)]; ok {
			selected = append(selected, f)
		}
	}

	span.SetAttributes(attribute.Int("selected", len(selected)))
	s.logger.Debug(ctx, "Selected changed files", "ref", ref, "candidates", len(files), "selected", len(selected))
	return selected, nil
}

// relative maps a caller path to the slash separated form git prints.
func (s *Selector) relative(path string) string {
	if filepath.IsAbs(path) {
		if rel, err := filepath.Rel(s.root, path); err == nil {
			path = rel
		}
	}
	return filepath.ToSlash(filepath.Clean(path))
}

func (s *Selector) git(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", s.root}, args...)...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("git %s failed: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}
