package task

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"github.com/conneroisu/assetpipe/internal/pipe"
	"github.com/conneroisu/assetpipe/internal/watcher"
)

// Watcher is the part of watcher.FileWatcher a watch task needs.
type Watcher interface {
	AddRecursive(root string) error
	AddHandler(handler watcher.ChangeHandler)
	Start(ctx context.Context) error
	Stop() error
}

// WatchSpec binds source globs to the task re-run when they change.
type WatchSpec struct {
	// Globs select the files; "!" prefixed globs exclude.
	Globs []string
	Task  Task
	// After runs once Task succeeded, e.g. to reload the browser.
	After func(ctx context.Context, changed []string)
}

type watch struct {
	name  string
	w     Watcher
	specs []WatchSpec
}

// Watch creates a task that watches the bases of every spec's globs and
// re-runs the matching tasks for each debounced batch of changes. A failing
// task never stops the watch. Run blocks until ctx is cancelled.
func Watch(name string, w Watcher, specs ...WatchSpec) Task {
	return &watch{name: name, w: w, specs: specs}
}

func (t *watch) Name() string { return t.name }

// WatchSpecs returns the bindings of a watch task, or nil for other tasks.
func WatchSpecs(t Task) []WatchSpec {
	if w, ok := t.(*watch); ok {
		return w.specs
	}
	return nil
}

func (t *watch) Run(ctx context.Context) error {
	logger := loggerFrom(ctx).With("task", t.name)

	roots := watchRoots(t.specs)
	for _, root := range roots {
		if err := t.w.AddRecursive(root); err != nil {
			logger.Warn(ctx, err, "cannot watch directory", "path", root)
		}
	}

	t.w.AddHandler(func(events []watcher.ChangeEvent) error {
		changed := make([]string, len(events))
		for i, e := range events {
			changed[i] = e.Path
		}
		t.dispatch(ctx, changed)
		return nil
	})

	if err := t.w.Start(ctx); err != nil {
		return err
	}
	logger.Info(ctx, "watching", "roots", roots)

	<-ctx.Done()
	if err := t.w.Stop(); err != nil {
		logger.Warn(ctx, err, "stopping watcher")
	}
	return nil
}

// dispatch runs every task with at least one matching path, in spec order.
func (t *watch) dispatch(ctx context.Context, changed []string) {
	logger := loggerFrom(ctx).With("task", t.name)
	for _, spec := range t.specs {
		if ctx.Err() != nil {
			return
		}
		matched := matching(spec.Globs, changed)
		if len(matched) == 0 {
			continue
		}
		logger.Info(ctx, "change detected", "trigger", spec.Task.Name(), "files", matched)

		if err := spec.Task.Run(ctx); err != nil {
			// The reporter has already been told; keep watching.
			logger.Debug(ctx, "triggered task failed", "trigger", spec.Task.Name(), "error", err.Error())
			continue
		}
		if spec.After != nil {
			spec.After(ctx, matched)
		}
	}
}

func matching(globs, paths []string) []string {
	var out []string
	for _, p := range paths {
		if pipe.MatchAny(globs, p) {
			out = append(out, p)
		}
	}
	return out
}

// watchRoots returns the existing static directories of every include glob,
// dropping those nested in another root.
func watchRoots(specs []WatchSpec) []string {
	seen := make(map[string]bool)
	var roots []string
	for _, spec := range specs {
		include, _, err := pipe.ParseGlobs(spec.Globs)
		if err != nil {
			continue
		}
		for _, g := range include {
			base := pipe.GlobBase(g.Pattern)
			if base == "" {
				base = "."
			}
			base = filepath.Clean(base)
			if info, err := os.Stat(base); err != nil || !info.IsDir() {
				base = filepath.Dir(base)
				if info, err := os.Stat(base); err != nil || !info.IsDir() {
					continue
				}
			}
			if !seen[base] {
				seen[base] = true
				roots = append(roots, base)
			}
		}
	}
	sort.Strings(roots)

	var out []string
	for _, r := range roots {
		nested := false
		for _, parent := range out {
			if r == parent || isWithin(parent, r) {
				nested = true
				break
			}
		}
		if !nested {
			out = append(out, r)
		}
	}
	return out
}

func isWithin(parent, child string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	return rel != ".." && !filepath.IsAbs(rel) && !startsWithParent(rel)
}

func startsWithParent(rel string) bool {
	return len(rel) >= 3 && rel[:3] == ".."+string(filepath.Separator)
}
