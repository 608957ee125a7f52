package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventTypeString(t *testing.T) {
	testCases := []struct {
		eventType EventType
		expected  string
	}{
		{EventTypeCreated, "created"},
		{EventTypeModified, "modified"},
		{EventTypeDeleted, "deleted"},
		{EventTypeRenamed, "renamed"},
		{EventType(42), "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.eventType.String())
		})
	}
}

func TestNewFileWatcher(t *testing.T) {
	watcher, err := NewFileWatcher(100*time.Millisecond, nil)
	require.NoError(t, err)
	defer watcher.Stop()

	assert.NotNil(t, watcher.fsw)
	assert.NotNil(t, watcher.logger)
	assert.Equal(t, time.Second, watcher.maxWait)
	assert.Empty(t, watcher.filters)
	assert.Empty(t, watcher.handlers)
	assert.NoError(t, watcher.Stop(), "stopping twice is fine")
}

func TestFileWatcherAddRecursiveMissingRoot(t *testing.T) {
	watcher, err := NewFileWatcher(100*time.Millisecond, nil)
	require.NoError(t, err)
	defer watcher.Stop()

	assert.Error(t, watcher.AddRecursive(filepath.Join(t.TempDir(), "missing")))
}

func TestFileWatcherAddRecursiveSkipsFiltered(t *testing.T) {
	root := t.TempDir()
	for _, dir := range []string{"scss/partials", "node_modules/pkg", ".git/objects", "images"} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, dir), 0o755))
	}

	watcher, err := NewFileWatcher(100*time.Millisecond, nil)
	require.NoError(t, err)
	defer watcher.Stop()

	watcher.AddFilter(NoNodeModulesFilter)
	watcher.AddRootFilter(NoHiddenFilter)
	require.NoError(t, watcher.AddRecursive(root))

	assert.ElementsMatch(t, []string{
		root,
		filepath.Join(root, "images"),
		filepath.Join(root, "scss"),
		filepath.Join(root, "scss/partials"),
	}, watcher.WatchList())
}

func TestFileWatcherRootUnderHiddenDirectory(t *testing.T) {
	root := filepath.Join(t.TempDir(), ".sites", "app")
	for _, dir := range []string{"scss", ".cache"} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, dir), 0o755))
	}

	watcher, err := NewFileWatcher(100*time.Millisecond, nil)
	require.NoError(t, err)
	defer watcher.Stop()

	watcher.AddRootFilter(NoHiddenFilter)
	require.NoError(t, watcher.AddRecursive(root))

	assert.ElementsMatch(t, []string{root, filepath.Join(root, "scss")}, watcher.WatchList())
	assert.True(t, watcher.accepts(filepath.Join(root, "scss", "a.scss")))
	assert.False(t, watcher.accepts(filepath.Join(root, ".cache", "x")))
	assert.False(t, watcher.accepts(filepath.Join(root, "scss", ".a.scss.swp")))
}

func TestFileWatcherDeliversDebouncedBatch(t *testing.T) {
	tempDir := t.TempDir()

	watcher, err := NewFileWatcher(50*time.Millisecond, nil)
	require.NoError(t, err)
	defer watcher.Stop()
	require.NoError(t, watcher.AddRecursive(tempDir))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var batches [][]ChangeEvent
	watcher.AddHandler(func(events []ChangeEvent) error {
		mu.Lock()
		batches = append(batches, events)
		mu.Unlock()
		return nil
	})
	require.NoError(t, watcher.Start(ctx))

	testFile := filepath.Join(tempDir, "style.scss")
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(testFile, []byte{byte('a' + i)}, 0o644))
	}

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(batches) > 0
	}, 2*time.Second, 20*time.Millisecond)

	mu.Lock()
	first := batches[0]
	mu.Unlock()
	require.Len(t, first, 1, "writes to one file collapse into one event")
	assert.Equal(t, testFile, first[0].Path)
}

func TestFileWatcherWatchesNewDirectories(t *testing.T) {
	tempDir := t.TempDir()

	watcher, err := NewFileWatcher(30*time.Millisecond, nil)
	require.NoError(t, err)
	defer watcher.Stop()
	require.NoError(t, watcher.AddRecursive(tempDir))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	seen := make(chan string, 64)
	watcher.AddHandler(func(events []ChangeEvent) error {
		for _, e := range events {
			seen <- e.Path
		}
		return nil
	})
	require.NoError(t, watcher.Start(ctx))

	newDir := filepath.Join(tempDir, "icons")
	require.NoError(t, os.Mkdir(newDir, 0o755))
	require.Eventually(t, func() bool {
		for _, p := range watcher.WatchList() {
			if p == newDir {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	icon := filepath.Join(newDir, "star.svg")
	require.NoError(t, os.WriteFile(icon, []byte("<svg/>"), 0o644))

	deadline := time.After(2 * time.Second)
	for {
		select {
		case p := <-seen:
			if p == icon {
				return
			}
		case <-deadline:
			t.Fatal("no event for a file in a newly created directory")
		}
	}
}

func TestCoalesce(t *testing.T) {
	batch := coalesce([]ChangeEvent{
		{Type: EventTypeCreated, Path: "b.js"},
		{Type: EventTypeModified, Path: "a.js"},
		{Type: EventTypeDeleted, Path: "b.js"},
	})

	require.Len(t, batch, 2)
	assert.Equal(t, "a.js", batch[0].Path)
	assert.Equal(t, "b.js", batch[1].Path)
	assert.Equal(t, EventTypeDeleted, batch[1].Type, "last event for a path wins")
}

func TestFileWatcherFlushesAfterMaxWait(t *testing.T) {
	watcher, err := NewFileWatcher(time.Hour, nil)
	require.NoError(t, err)
	defer watcher.Stop()
	watcher.maxWait = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	batches := make(chan []ChangeEvent, 1)
	watcher.AddHandler(func(events []ChangeEvent) error {
		batches <- events
		return nil
	})
	require.NoError(t, watcher.Start(ctx))

	watcher.changes <- ChangeEvent{Type: EventTypeModified, Path: "app/a.js"}
	watcher.changes <- ChangeEvent{Type: EventTypeModified, Path: "app/a.js"}

	select {
	case batch := <-batches:
		require.Len(t, batch, 1)
		assert.Equal(t, "app/a.js", batch[0].Path)
	case <-time.After(2 * time.Second):
		t.Fatal("a steady stream of changes was never flushed")
	}
}

func TestFilters(t *testing.T) {
	testCases := []struct {
		name     string
		filter   FileFilter
		path     string
		expected bool
	}{
		{"hidden file", NoHiddenFilter, "app/.DS_Store", false},
		{"hidden dir", NoHiddenFilter, ".git/HEAD", false},
		{"relative dot", NoHiddenFilter, "./app/index.html", true},
		{"parent dir", NoHiddenFilter, "../app/index.html", true},
		{"swap file", NoEditorTempFilter, "app/.index.html.swp", false},
		{"backup file", NoEditorTempFilter, "app/index.html~", false},
		{"emacs lock", NoEditorTempFilter, "app/#index.html#", false},
		{"normal file", NoEditorTempFilter, "app/index.html", true},
		{"node_modules root", NoNodeModulesFilter, "node_modules/x/y.js", false},
		{"nested node_modules", NoNodeModulesFilter, "app/node_modules/x.js", false},
		{"app js", NoNodeModulesFilter, "app/js/main.js", true},
		{"dist excluded", ExcludeDirFilter("dist"), "dist/css/style.min.css", false},
		{"dist itself", ExcludeDirFilter("dist/"), "dist", false},
		{"distant", ExcludeDirFilter("dist"), "distant/file.css", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.filter(tc.path))
		})
	}
}

func BenchmarkCoalesce(b *testing.B) {
	events := make([]ChangeEvent, 500)
	for i := range events {
		events[i] = ChangeEvent{Type: EventTypeModified, Path: filepath.Join("app", string(rune('a'+i%26)), "file.scss")}
	}

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = coalesce(events)
	}
}
