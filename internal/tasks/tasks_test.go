package tasks

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/assetpipe/internal/config"
	"github.com/conneroisu/assetpipe/internal/notify"
	"github.com/conneroisu/assetpipe/internal/pipe"
	"github.com/conneroisu/assetpipe/internal/task"
	"github.com/conneroisu/assetpipe/internal/version"
	"github.com/conneroisu/assetpipe/internal/watcher"
)

var fixedNow = time.Date(2024, 5, 1, 8, 20, 30, 0, time.UTC)

type fakeLive struct {
	mu       sync.Mutex
	reloads  [][]string
	css      [][]string
	started  chan struct{}
	startErr error
}

func newFakeLive() *fakeLive {
	return &fakeLive{started: make(chan struct{}, 1)}
}

func (f *fakeLive) Reload(paths ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reloads = append(f.reloads, paths)
}

func (f *fakeLive) InjectCSS(paths ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.css = append(f.css, paths)
}

func (f *fakeLive) Start(ctx context.Context) error {
	f.started <- struct{}{}
	if f.startErr != nil {
		return f.startErr
	}
	<-ctx.Done()
	return nil
}

func (f *fakeLive) reloadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reloads)
}

type fakeWatcher struct {
	mu       sync.Mutex
	roots    []string
	handlers []watcher.ChangeHandler
	started  chan struct{}
	stopped  bool
}

func (f *fakeWatcher) AddRecursive(root string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roots = append(f.roots, root)
	return nil
}

func (f *fakeWatcher) AddHandler(h watcher.ChangeHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = append(f.handlers, h)
}

func (f *fakeWatcher) Start(ctx context.Context) error {
	close(f.started)
	return nil
}

func (f *fakeWatcher) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	return nil
}

func (f *fakeWatcher) fire(paths ...string) {
	events := make([]watcher.ChangeEvent, len(paths))
	for i, p := range paths {
		events[i] = watcher.ChangeEvent{Type: watcher.EventTypeModified, Path: p, ModTime: time.Now()}
	}
	f.mu.Lock()
	handlers := append([]watcher.ChangeHandler(nil), f.handlers...)
	f.mu.Unlock()
	for _, h := range handlers {
		_ = h(events)
	}
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

// fakeTool writes an executable shell script standing in for an external
// binary and returns its path.
func fakeTool(t *testing.T, name, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake tools are shell scripts")
	}
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755))
	return path
}

// project returns a configuration rooted in a fresh temporary directory.
func project(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Default()
	require.NoError(t, err)
	root := t.TempDir()
	cfg.Paths.Src = filepath.Join(root, "app")
	cfg.Paths.Dist = filepath.Join(root, "dist")
	cfg.Tools.Sass = fakeTool(t, "sass", "cat")
	cfg.Tools.PostCSS = fakeTool(t, "postcss", "cat")
	cfg.Tools.CWebP = fakeTool(t, "cwebp", `cp "$4" "$6"`)
	return cfg
}

func setup(t *testing.T, cfg *config.Config, opts ...Option) (*task.Registry, *fakeLive) {
	t.Helper()
	live := newFakeLive()
	opts = append([]Option{WithLiveReload(live), WithClock(func() time.Time { return fixedNow })}, opts...)
	reg := task.NewRegistry()
	New(cfg, nil, opts...).Register(reg)
	return reg, live
}

func run(t *testing.T, reg *task.Registry, names ...string) {
	t.Helper()
	require.NoError(t, reg.Run(context.Background(), names...))
}

func TestRegister(t *testing.T) {
	reg, _ := setup(t, project(t))

	assert.Equal(t, []string{
		Build, Clean, task.DefaultTask, Fonts, HTML, Images, Scripts, Serve, Sprite, Styles, Version, Watching,
	}, reg.Names())
	assert.Equal(t, task.DefaultTask, reg.Default())
	assert.NotEmpty(t, reg.Description(Styles))

	build, err := reg.Get(Build)
	require.NoError(t, err)
	assert.Equal(t, "series", task.Kind(build))
	children := task.Children(build)
	require.Len(t, children, 3)
	assert.Equal(t, Clean, children[0].Name())
	assert.Equal(t, Version, children[1].Name())
	assert.Equal(t, "parallel", task.Kind(children[2]))

	var assets []string
	for _, c := range task.Children(children[2]) {
		assets = append(assets, c.Name())
	}
	assert.Equal(t, []string{HTML, Styles, Scripts, Images, Sprite}, assets)

	def, err := reg.Get(task.DefaultTask)
	require.NoError(t, err)
	assert.Equal(t, "parallel", task.Kind(def))
	top := task.Children(def)
	require.Len(t, top, 2)
	assert.Equal(t, "series", task.Kind(top[0]))
	assert.Equal(t, Serve, task.Children(top[0])[7].Name())
	assert.Equal(t, "watch", task.Kind(top[1]))

	watching, err := reg.Get(Watching)
	require.NoError(t, err)
	var triggers []string
	for _, spec := range task.WatchSpecs(watching) {
		triggers = append(triggers, spec.Task.Name())
	}
	assert.Equal(t, []string{Styles, Scripts, Images, HTML, Sprite}, triggers)
}

func TestCleanAndVersion(t *testing.T) {
	cfg := project(t)
	reg, _ := setup(t, cfg)

	writeFile(t, filepath.Join(cfg.Paths.Dist, "stale.css"), "old")
	run(t, reg, Clean, Version)

	_, err := os.Stat(filepath.Join(cfg.Paths.Dist, "stale.css"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	stamp, err := version.ReadStamp(cfg.Paths.Dist)
	require.NoError(t, err)
	assert.Equal(t, "1714551630000", stamp.Version)
	assert.True(t, fixedNow.Equal(stamp.BuiltAt))
}

func TestHTML(t *testing.T) {
	cfg := project(t)
	cfg.HTML.Context = map[string]interface{}{"site": "Demo"}
	reg, _ := setup(t, cfg)

	writeFile(t, filepath.Join(cfg.Paths.Src, "index.html"),
		`<html><head>@@include('html/head.html', {"title": "Home"})</head><body><img src="images/a.png"></body></html>`)
	writeFile(t, filepath.Join(cfg.Paths.Src, "html", "head.html"),
		`<title>@@title | @@site</title><link rel="stylesheet" href="css/style.min.css?v=@@version">`)

	run(t, reg, Version, HTML)

	out := readFile(t, filepath.Join(cfg.Paths.Dist, "index.html"))
	assert.Contains(t, out, "<title>Home | Demo</title>")
	assert.Contains(t, out, "style.min.css?v=1714551630000")
	assert.Contains(t, out, `<picture><source srcset="images/a.webp" type="image/webp"><img src="images/a.png"></picture>`)

	_, err := os.Stat(filepath.Join(cfg.Paths.Dist, "html", "head.html"))
	assert.ErrorIs(t, err, os.ErrNotExist, "partials are not published")
}

func TestHTMLVersionFromDisk(t *testing.T) {
	cfg := project(t)
	reg, _ := setup(t, cfg)

	_, err := version.Stamp{Version: "42"}.Write(cfg.Paths.Dist)
	require.NoError(t, err)
	writeFile(t, filepath.Join(cfg.Paths.Src, "index.html"), "v=@@version")

	run(t, reg, HTML)
	assert.Equal(t, "v=42", readFile(t, filepath.Join(cfg.Paths.Dist, "index.html")))
}

func TestStyles(t *testing.T) {
	cfg := project(t)
	reg, live := setup(t, cfg)

	writeFile(t, filepath.Join(cfg.Paths.Src, "scss", "style.scss"),
		"@media (max-width:600px) { a { color: red; } }\nb { color: blue; }\n")
	writeFile(t, filepath.Join(cfg.Paths.Src, "scss", "_partial.scss"), "c { color: green; }")

	run(t, reg, Styles)

	out := readFile(t, filepath.Join(cfg.Paths.Dist, "css", "style.min.css"))
	assert.Contains(t, out, "b{color:blue}")
	assert.Contains(t, out, "color:red")
	assert.Less(t, strings.Index(out, "b{color:blue}"), strings.Index(out, "@media"), "media queries move after plain rules")
	assert.NotContains(t, out, "green")
	assert.NotContains(t, out, "\n  ")

	assert.Equal(t, [][]string{{"css/style.min.css"}}, live.css)
}

func TestStylesFailureInWatchMode(t *testing.T) {
	cfg := project(t)
	cfg.Tools.Sass = fakeTool(t, "sass", `cat >/dev/null
echo "Error: Undefined variable." >&2
echo "  - 3:10  root stylesheet" >&2
exit 65`)
	reg, live := setup(t, cfg)
	writeFile(t, filepath.Join(cfg.Paths.Src, "scss", "style.scss"), "a { color: $missing; }")

	handler := notify.NewHandler(notify.ModeWatch, nil, nil)
	ctx := task.WithReporter(context.Background(), handler)
	require.NoError(t, reg.Run(ctx, Styles), "watch mode swallows the failure")

	be := handler.Collector().Get(Styles)
	require.NotNil(t, be)
	assert.Equal(t, "sass", be.Step)
	assert.Equal(t, 3, be.Line)
	assert.Empty(t, live.css)

	build := notify.NewHandler(notify.ModeBuild, nil, nil)
	err := reg.Run(task.WithReporter(context.Background(), build), Styles)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "styles/sass")
}

func TestScripts(t *testing.T) {
	cfg := project(t)
	reg, live := setup(t, cfg)

	writeFile(t, filepath.Join(cfg.Paths.Src, "js", "a.js"), "var first = 1;\n")
	writeFile(t, filepath.Join(cfg.Paths.Src, "js", "lib", "b.js"), "var second = 2;\n")
	writeFile(t, filepath.Join(cfg.Paths.Src, "js", "main.min.js"), "var excluded = 3;\n")
	writeFile(t, filepath.Join(cfg.Paths.Src, "vendor", "slider.js"), "var third = 4;\n")

	run(t, reg, Scripts)

	out := readFile(t, filepath.Join(cfg.Paths.Dist, "js", "script.min.js"))
	assert.Contains(t, out, "first=1")
	assert.Contains(t, out, "second=2")
	assert.Contains(t, out, "third=4", "scripts outside js/ are bundled too")
	assert.NotContains(t, out, "excluded")
	assert.Less(t, strings.Index(out, "first"), strings.Index(out, "second"))
	assert.Less(t, strings.Index(out, "second"), strings.Index(out, "third"))

	assert.Equal(t, [][]string{{"js/script.min.js"}}, live.reloads)
}

func TestImages(t *testing.T) {
	cfg := project(t)
	reg, _ := setup(t, cfg)

	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	writeFile(t, filepath.Join(cfg.Paths.Src, "images", "a.png"), buf.String())
	writeFile(t, filepath.Join(cfg.Paths.Src, "images", "icons", "x.svg"), `<svg viewBox="0 0 1 1"/>`)

	run(t, reg, Images)

	dist := filepath.Join(cfg.Paths.Dist, "images")
	assert.Equal(t, buf.String(), readFile(t, filepath.Join(dist, "a.png")))
	assert.Equal(t, buf.String(), readFile(t, filepath.Join(dist, "a.webp")), "the fake encoder copies its input")
	assert.FileExists(t, filepath.Join(dist, "icons", "x.svg"))
	assert.NoFileExists(t, filepath.Join(dist, "icons", "x.webp"))

	// Unchanged sources are skipped on the next run.
	require.NoError(t, os.Remove(filepath.Join(dist, "a.webp")))
	run(t, reg, Images)
	assert.NoFileExists(t, filepath.Join(dist, "a.webp"))
}

func TestSprite(t *testing.T) {
	cfg := project(t)
	reg, _ := setup(t, cfg)

	writeFile(t, filepath.Join(cfg.Paths.Src, "images", "icons", "search.svg"),
		`<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 24 24"><path d="M1 1h22"/></svg>`)

	run(t, reg, Sprite)

	out := readFile(t, filepath.Join(cfg.Paths.Dist, "images", "sprite.svg"))
	assert.Contains(t, out, `<symbol id="search" viewBox="0 0 24 24">`)
}

func TestFontsWithoutSources(t *testing.T) {
	cfg := project(t)
	reg, _ := setup(t, cfg)
	run(t, reg, Fonts)

	_, err := os.Stat(cfg.SrcPath("fonts"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestServe(t *testing.T) {
	cfg := project(t)
	reg, live := setup(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- reg.Run(ctx, Serve) }()

	select {
	case <-live.started:
	case <-time.After(5 * time.Second):
		t.Fatal("server not started")
	}
	cancel()
	assert.NoError(t, <-done)
}

func TestServeWithoutServer(t *testing.T) {
	reg := task.NewRegistry()
	New(project(t), nil).Register(reg)

	err := reg.Run(context.Background(), Serve)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no development server configured")
}

func TestWatching(t *testing.T) {
	cfg := project(t)
	fw := &fakeWatcher{started: make(chan struct{})}
	reg, live := setup(t, cfg, WithWatcher(func() (task.Watcher, error) { return fw, nil }))

	writeFile(t, filepath.Join(cfg.Paths.Src, "js", "a.js"), "var a = 1;")
	writeFile(t, filepath.Join(cfg.Paths.Src, "index.html"), "<p>hi</p>")
	writeFile(t, filepath.Join(cfg.Paths.Src, "scss", "style.scss"), "a{color:red}")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- reg.Run(ctx, Watching) }()

	select {
	case <-fw.started:
	case <-time.After(5 * time.Second):
		t.Fatal("watcher not started")
	}
	assert.Equal(t, []string{cfg.Paths.Src}, fw.roots)

	fw.fire(filepath.ToSlash(filepath.Join(cfg.Paths.Src, "js", "a.js")))
	assert.FileExists(t, filepath.Join(cfg.Paths.Dist, "js", "script.min.js"))
	assert.NoFileExists(t, filepath.Join(cfg.Paths.Dist, "index.html"))
	assert.Equal(t, 1, live.reloadCount())

	fw.fire(filepath.ToSlash(filepath.Join(cfg.Paths.Src, "index.html")))
	assert.FileExists(t, filepath.Join(cfg.Paths.Dist, "index.html"))
	assert.Equal(t, 2, live.reloadCount(), "html changes reload the page")

	cancel()
	require.NoError(t, <-done)
	assert.True(t, fw.stopped)
}

func TestOverriddenTaskUsedByCompositions(t *testing.T) {
	cfg := project(t)
	reg, _ := setup(t, cfg)

	var ran []string
	var mu sync.Mutex
	record := func(name string) task.Task {
		return task.New(name, func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			ran = append(ran, name)
			return nil
		})
	}
	for _, name := range []string{HTML, Styles, Scripts, Images, Sprite} {
		reg.Register(record(name), "")
	}

	run(t, reg, Build)
	assert.ElementsMatch(t, []string{HTML, Styles, Scripts, Images, Sprite}, ran)
	assert.FileExists(t, filepath.Join(cfg.Paths.Dist, version.StampFile))
}

func TestAfterHook(t *testing.T) {
	cfg := project(t)
	live := newFakeLive()
	g := New(cfg, nil, WithLiveReload(live))

	files := []*pipe.File{{Path: filepath.Join(cfg.Paths.Dist, "css", "site.css")}}

	hook, err := g.AfterHook(ReloadCSS)
	require.NoError(t, err)
	hook(context.Background(), files)
	assert.Equal(t, [][]string{{"css/site.css"}}, live.css)

	hook, err = g.AfterHook(ReloadPage)
	require.NoError(t, err)
	hook(context.Background(), files)
	assert.Equal(t, [][]string{{"css/site.css"}}, live.reloads)

	hook, err = g.AfterHook("")
	require.NoError(t, err)
	assert.Nil(t, hook)

	_, err = g.AfterHook("full")
	assert.ErrorContains(t, err, `unknown reload mode "full"`)
}
