// Package watch rescans a directory tree whenever its files or the rule
// catalog change.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/vulnguard/internal/app/engine"
	"github.com/ahrav/vulnguard/internal/domain/events"
	"github.com/ahrav/vulnguard/internal/domain/rules"
	domain "github.com/ahrav/vulnguard/internal/domain/scanning"
	"github.com/ahrav/vulnguard/pkg/common/logger"
)

// DefaultDebounce is how long the watcher waits for the tree to settle before
// rescanning.
const DefaultDebounce = 300 * time.Millisecond

// Tree is the watched directory.
type Tree interface {
	engine.FileSource
	Root() string
	ExcludesDir(name string) bool
	Accepts(path string) bool
}

// Scanner runs a scan over a tree.
type Scanner interface {
	ScanPaths(ctx context.Context, src engine.FileSource, req engine.PathScanRequest) (*domain.ScanResult, error)
}

// Update is handed to the result callback after each rescan.
type Update struct {
	// Full is set when the whole tree was rescanned.
	Full bool `json:"full"`
	// Paths lists the files rescanned by an incremental pass.
	Paths  []string           `json:"paths,omitempty"`
	Result *domain.ScanResult `json:"result"`
}

// Watcher rescans changed files after a quiet period. A catalog reload
// triggers a full rescan.
type Watcher struct {
	tree     Tree
	scanner  Scanner
	bus      events.EventBus
	request  engine.PathScanRequest
	debounce time.Duration
	onUpdate func(Update)

	mu      sync.Mutex
	pending map[string]struct{}
	full    bool
	kick    chan struct{}

	logger *logger.Logger
	tracer trace.Tracer
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce overrides DefaultDebounce.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithEventBus subscribes the watcher to catalog reloads published on bus.
func WithEventBus(bus events.EventBus) Option {
	return func(w *Watcher) { w.bus = bus }
}

// WithRequest sets the rule selection used by every rescan. Its Paths and
// Since fields are ignored.
func WithRequest(req engine.PathScanRequest) Option {
	return func(w *Watcher) {
		req.Paths, req.Since = nil, ""
		w.request = req
	}
}

// New creates a Watcher. onUpdate is called serially after each rescan.
func New(tree Tree, scanner Scanner, onUpdate func(Update), log *logger.Logger, tracer trace.Tracer, opts ...Option) *Watcher {
	w := &Watcher{
		tree:     tree,
		scanner:  scanner,
		debounce: DefaultDebounce,
		onUpdate: onUpdate,
		pending:  make(map[string]struct{}),
		kick:     make(chan struct{}, 1),
		logger:   log.With("component", "watcher", "root", tree.Root()),
		tracer:   tracer,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run scans the whole tree once, then rescans on change until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	defer fw.Close()

	if err := w.addRecursive(fw, w.tree.Root()); err != nil {
		return fmt.Errorf("watch %s: %w", w.tree.Root(), err)
	}

	if w.bus != nil {
		err := w.bus.Subscribe(ctx, []events.EventType{rules.EventTypeCatalogReloaded},
			func(_ context.Context, evt events.EventEnvelope) error {
				if e, ok := evt.Payload.(rules.CatalogReloadedEvent); ok && !e.Changed() {
					return nil
				}
				w.markFull()
				w.signal()
				return nil
			})
		if err != nil {
			return fmt.Errorf("subscribe to catalog reloads: %w", err)
		}
	}

	w.markFull()
	if err := w.rescan(ctx); err != nil {
		return err
	}

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !w.handle(fw, ev) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, w.signal)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn(ctx, "File watcher error", "error", err)

		case <-w.kick:
			if err := w.rescan(ctx); err != nil {
				return err
			}
		}
	}
}

// handle records ev and reports whether a rescan should be scheduled.
func (w *Watcher) handle(fw *fsnotify.Watcher, ev fsnotify.Event) bool {
	rel, err := filepath.Rel(w.tree.Root(), ev.Name)
	if err != nil || !filepath.IsLocal(rel) {
		return false
	}
	rel = filepath.ToSlash(rel)

	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if w.tree.ExcludesDir(filepath.Base(ev.Name)) {
				return false
			}
			// Files written before the watch was added produce no events of
			// their own.
			_ = w.addRecursive(fw, ev.Name)
			w.markFull()
			return true
		}
	}
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Rename) {
		return false
	}
	if !w.tree.Accepts(rel) {
		return false
	}

	w.mu.Lock()
	w.pending[rel] = struct{}{}
	w.mu.Unlock()
	return true
}

func (w *Watcher) rescan(ctx context.Context) error {
	w.mu.Lock()
	full := w.full
	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	w.full = false
	clear(w.pending)
	w.mu.Unlock()

	if !full && len(paths) == 0 {
		return nil
	}
	slices.Sort(paths)

	req := w.request
	if full {
		paths = nil
	} else {
		// A file may have been removed or replaced since its event arrived.
		paths = slices.DeleteFunc(paths, func(p string) bool { return !w.tree.Accepts(p) })
		if len(paths) == 0 {
			return nil
		}
		req.Paths = paths
	}

	ctx, span := w.tracer.Start(ctx, "watcher.rescan",
		trace.WithAttributes(
			attribute.Bool("full", full),
			attribute.Int("paths", len(paths)),
		))
	defer span.End()

	res, err := w.scanner.ScanPaths(ctx, w.tree, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, rules.ErrNoUsableRules) {
			w.logger.Warn(ctx, "Rescan skipped", "error", err)
			return nil
		}
		span.RecordError(err)
		return fmt.Errorf("rescan: %w", err)
	}

	w.logger.Info(ctx, "Rescanned",
		"full", full,
		"files", res.FilesScanned,
		"findings", len(res.Findings),
		"score", res.Score,
	)
	if w.onUpdate != nil {
		w.onUpdate(Update{Full: full, Paths: paths, Result: res})
	}
	return nil
}

func (w *Watcher) markFull() {
	w.mu.Lock()
	w.full = true
	w.mu.Unlock()
}

func (w *Watcher) signal() {
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

func (w *Watcher) addRecursive(fw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && w.tree.ExcludesDir(d.Name()) {
			return filepath.SkipDir
		}
		return fw.Add(path)
	})
}
