// Package watcher watches source directories for changes and delivers them
// in debounced, de-duplicated batches.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/conneroisu/assetpipe/internal/logging"
)

// EventType is the kind of change seen for a path.
type EventType int

const (
	EventTypeCreated EventType = iota
	EventTypeModified
	EventTypeDeleted
	EventTypeRenamed
)

func (e EventType) String() string {
	switch e {
	case EventTypeCreated:
		return "created"
	case EventTypeModified:
		return "modified"
	case EventTypeDeleted:
		return "deleted"
	case EventTypeRenamed:
		return "renamed"
	default:
		return "unknown"
	}
}

func eventTypeOf(op fsnotify.Op) EventType {
	switch {
	case op.Has(fsnotify.Create):
		return EventTypeCreated
	case op.Has(fsnotify.Write):
		return EventTypeModified
	case op.Has(fsnotify.Remove):
		return EventTypeDeleted
	case op.Has(fsnotify.Rename):
		return EventTypeRenamed
	default:
		return EventTypeModified
	}
}

// ChangeEvent is one changed path. ModTime and Size are zero when the path no
// longer exists.
type ChangeEvent struct {
	Type    EventType
	Path    string
	ModTime time.Time
	Size    int64
}

// FileFilter reports whether path should be watched.
type FileFilter func(path string) bool

// ChangeHandler receives one debounced batch.
type ChangeHandler func(events []ChangeEvent) error

// FileWatcher delivers file system changes below the added roots in batches.
// A batch is flushed once no change arrived for the debounce delay, or after
// maxWait when changes keep coming.
type FileWatcher struct {
	fsw     *fsnotify.Watcher
	delay   time.Duration
	maxWait time.Duration
	changes chan ChangeEvent
	logger  logging.Logger

	mu          sync.RWMutex
	filters     []FileFilter
	rootFilters []FileFilter
	roots       []string
	handlers    []ChangeHandler

	stopOnce sync.Once
}

// NewFileWatcher creates a watcher that waits delay after the last change
// before delivering a batch. A nil logger discards output.
func NewFileWatcher(delay time.Duration, logger logging.Logger) (*FileWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &FileWatcher{
		fsw:     fsw,
		delay:   delay,
		maxWait: 10 * delay,
		changes: make(chan ChangeEvent, 256),
		logger:  logger.WithComponent("watcher"),
	}, nil
}

// AddFilter adds a filter that sees paths as they are watched.
func (fw *FileWatcher) AddFilter(filter FileFilter) {
	fw.mu.Lock()
	fw.filters = append(fw.filters, filter)
	fw.mu.Unlock()
}

// AddRootFilter adds a filter that sees paths relative to the root passed to
// AddRecursive, so directories above the root never affect it.
func (fw *FileWatcher) AddRootFilter(filter FileFilter) {
	fw.mu.Lock()
	fw.rootFilters = append(fw.rootFilters, filter)
	fw.mu.Unlock()
}

func (fw *FileWatcher) AddHandler(handler ChangeHandler) {
	fw.mu.Lock()
	fw.handlers = append(fw.handlers, handler)
	fw.mu.Unlock()
}

// AddRecursive watches root and every directory below it. Directories
// rejected by a filter are skipped with their subtree.
func (fw *FileWatcher) AddRecursive(root string) error {
	root = filepath.Clean(root)
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("invalid root path: %w", err)
	}
	if !info.IsDir() {
		return fw.fsw.Add(root)
	}
	fw.mu.Lock()
	fw.roots = append(fw.roots, root)
	fw.mu.Unlock()
	return fw.addTree(root)
}

func (fw *FileWatcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		switch {
		case err != nil:
			return err
		case !d.IsDir():
			return nil
		case path != root && !fw.accepts(path):
			return filepath.SkipDir
		}
		return fw.fsw.Add(path)
	})
}

// WatchList returns the watched directories, sorted.
func (fw *FileWatcher) WatchList() []string {
	list := fw.fsw.WatchList()
	sort.Strings(list)
	return list
}

// Start begins delivering batches to the handlers until ctx is cancelled or
// Stop is called. It does not block.
func (fw *FileWatcher) Start(ctx context.Context) error {
	go fw.readEvents(ctx)
	go fw.debounce(ctx)
	return nil
}

// Stop releases the underlying watcher. Calling it more than once is safe.
func (fw *FileWatcher) Stop() error {
	var err error
	fw.stopOnce.Do(func() { err = fw.fsw.Close() })
	return err
}

func (fw *FileWatcher) accepts(path string) bool {
	fw.mu.RLock()
	defer fw.mu.RUnlock()
	for _, filter := range fw.filters {
		if !filter(path) {
			return false
		}
	}
	if len(fw.rootFilters) == 0 {
		return true
	}
	rel := fw.relativeToRoot(path)
	for _, filter := range fw.rootFilters {
		if !filter(rel) {
			return false
		}
	}
	return true
}

// relativeToRoot returns path relative to the innermost root containing it,
// or path itself when no root does. Callers hold fw.mu.
func (fw *FileWatcher) relativeToRoot(path string) string {
	path = filepath.Clean(path)
	best := ""
	for _, root := range fw.roots {
		if path != root && !strings.HasPrefix(path, root+string(filepath.Separator)) && root != "." {
			continue
		}
		if len(root) > len(best) {
			best = root
		}
	}
	if best == "" {
		return path
	}
	rel, err := filepath.Rel(best, path)
	if err != nil {
		return path
	}
	return rel
}

func (fw *FileWatcher) readEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fw.fsw.Events:
			if !ok {
				return
			}
			if change, ok := fw.translate(ctx, event); ok {
				select {
				case fw.changes <- change:
				default:
					fw.logger.Warn(ctx, nil, "event queue full, dropping change", "path", change.Path)
				}
			}
		case err, ok := <-fw.fsw.Errors:
			if !ok {
				return
			}
			fw.logger.Warn(ctx, err, "file watcher error")
		}
	}
}

// translate turns an fsnotify event into a change, starting to watch
// directories as they are created.
func (fw *FileWatcher) translate(ctx context.Context, event fsnotify.Event) (ChangeEvent, bool) {
	if event.Op == fsnotify.Chmod || !fw.accepts(event.Name) {
		return ChangeEvent{}, false
	}
	change := ChangeEvent{Type: eventTypeOf(event.Op), Path: event.Name}

	info, err := os.Stat(event.Name)
	if err != nil {
		return change, true
	}
	change.ModTime = info.ModTime()
	change.Size = info.Size()

	// Files copied in along with a new directory produce no events of their
	// own, so the directory change is still delivered.
	if info.IsDir() && event.Op.Has(fsnotify.Create) {
		if err := fw.addTree(event.Name); err != nil {
			fw.logger.Warn(ctx, err, "cannot watch new directory", "path", event.Name)
		} else {
			fw.logger.Debug(ctx, "watching new directory", "path", event.Name)
		}
	}
	return change, true
}

func (fw *FileWatcher) debounce(ctx context.Context) {
	var (
		pending []ChangeEvent
		quiet   = stoppedTimer()
		limit   = stoppedTimer()
	)
	flush := func() {
		quiet.Stop()
		limit.Stop()
		if len(pending) == 0 {
			return
		}
		batch := coalesce(pending)
		pending = pending[:0]
		fw.deliver(ctx, batch)
	}

	for {
		select {
		case <-ctx.Done():
			quiet.Stop()
			limit.Stop()
			return
		case change := <-fw.changes:
			if len(pending) == 0 && fw.maxWait > 0 {
				limit.Reset(fw.maxWait)
			}
			pending = append(pending, change)
			quiet.Stop()
			quiet.Reset(fw.delay)
		case <-quiet.C:
			flush()
		case <-limit.C:
			flush()
		}
	}
}

func (fw *FileWatcher) deliver(ctx context.Context, batch []ChangeEvent) {
	fw.mu.RLock()
	handlers := append([]ChangeHandler(nil), fw.handlers...)
	fw.mu.RUnlock()

	fw.logger.Debug(ctx, "changes detected", "count", len(batch))
	for _, handler := range handlers {
		if err := handler(batch); err != nil {
			fw.logger.Error(ctx, err, "change handler failed", "events", len(batch))
		}
	}
}

func stoppedTimer() *time.Timer {
	t := time.NewTimer(time.Hour)
	t.Stop()
	return t
}

// coalesce keeps the last change per path and sorts the result by path.
func coalesce(events []ChangeEvent) []ChangeEvent {
	last := make(map[string]ChangeEvent, len(events))
	for _, e := range events {
		last[e.Path] = e
	}
	batch := make([]ChangeEvent, 0, len(last))
	for _, e := range last {
		batch = append(batch, e)
	}
	sort.Slice(batch, func(i, j int) bool { return batch[i].Path < batch[j].Path })
	return batch
}

// NoHiddenFilter rejects dot files and anything under a dot directory.
func NoHiddenFilter(path string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if len(part) > 1 && part[0] == '.' && part != ".." {
			return false
		}
	}
	return true
}

// NoEditorTempFilter rejects swap and backup files written by editors.
func NoEditorTempFilter(path string) bool {
	base := filepath.Base(path)
	if strings.HasSuffix(base, "~") || strings.HasPrefix(base, "#") {
		return false
	}
	switch filepath.Ext(base) {
	case ".swp", ".swx", ".tmp":
		return false
	}
	return true
}

// NoNodeModulesFilter rejects paths inside node_modules.
func NoNodeModulesFilter(path string) bool {
	p := filepath.ToSlash(path)
	return p != "node_modules" && !strings.HasPrefix(p, "node_modules/") && !strings.Contains(p, "/node_modules/")
}

// ExcludeDirFilter rejects dir and everything below it.
func ExcludeDirFilter(dir string) FileFilter {
	clean := filepath.Clean(dir)
	return func(path string) bool {
		p := filepath.Clean(path)
		return p != clean && !strings.HasPrefix(p, clean+string(filepath.Separator))
	}
}
