// Package tasks defines assetpipe's built-in task graph: one task per asset
// type, the clean and version housekeeping tasks, the development server,
// the watcher, and the build and default compositions.
package tasks

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/conneroisu/assetpipe/internal/config"
	"github.com/conneroisu/assetpipe/internal/logging"
	"github.com/conneroisu/assetpipe/internal/pipe"
	"github.com/conneroisu/assetpipe/internal/task"
	"github.com/conneroisu/assetpipe/internal/transform"
	"github.com/conneroisu/assetpipe/internal/version"
	"github.com/conneroisu/assetpipe/internal/watcher"
)

// Task names.
const (
	Clean    = "clean"
	Version  = "version"
	HTML     = "html"
	Styles   = "styles"
	Scripts  = "scripts"
	Images   = "images"
	Fonts    = "fonts"
	Sprite   = "sprite"
	Serve    = "serve"
	Watching = "watching"
	Build    = "build"
)

// LiveReload is the part of the development server the tasks notify.
type LiveReload interface {
	Reload(paths ...string)
	InjectCSS(paths ...string)
	Start(ctx context.Context) error
}

// Graph builds the built-in tasks from the configuration.
type Graph struct {
	cfg        *config.Config
	logger     logging.Logger
	live       LiveReload
	steps      *transform.Registry
	newWatcher func() (task.Watcher, error)
	now        func() time.Time

	mu    sync.Mutex
	stamp *version.Stamp
}

// Option configures a Graph.
type Option func(*Graph)

// WithLiveReload attaches the development server. Without one the serve task
// fails and nothing is pushed to browsers.
func WithLiveReload(l LiveReload) Option {
	return func(g *Graph) { g.live = l }
}

// WithWatcher replaces the file watcher constructor.
func WithWatcher(fn func() (task.Watcher, error)) Option {
	return func(g *Graph) { g.newWatcher = fn }
}

// WithClock replaces time.Now for the version stamp.
func WithClock(now func() time.Time) Option {
	return func(g *Graph) { g.now = now }
}

// New creates the graph for cfg.
func New(cfg *config.Config, logger logging.Logger, opts ...Option) *Graph {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	g := &Graph{
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
	g.newWatcher = func() (task.Watcher, error) {
		w, err := watcher.NewFileWatcher(cfg.Watch.Debounce, g.logger)
		if err != nil {
			return nil, err
		}
		w.AddRootFilter(watcher.NoHiddenFilter)
		w.AddFilter(watcher.NoEditorTempFilter)
		w.AddFilter(watcher.NoNodeModulesFilter)
		w.AddFilter(watcher.ExcludeDirFilter(cfg.Paths.Dist))
		return w, nil
	}
	for _, opt := range opts {
		opt(g)
	}

	g.steps = transform.NewRegistry(transform.Defaults{
		SassBinary:     cfg.Tools.Sass,
		SassIncludes:   cfg.Styles.IncludePaths,
		PostCSSCommand: cfg.Tools.PostCSS,
		Browsers:       cfg.Styles.Autoprefixer.Browsers,
		Grid:           cfg.Styles.Autoprefixer.Grid,
		CWebPBinary:    cfg.Tools.CWebP,
		WebPQuality:    cfg.Images.WebPQuality,
		JPEGQuality:    cfg.Images.JPEGQuality,
		IncludePrefix:  cfg.HTML.IncludePrefix,
		IncludeContext: g.includeContext,
	})
	return g
}

// Steps returns the transform registry pipeline files build steps from.
func (g *Graph) Steps() *transform.Registry {
	return g.steps
}

// Config returns the configuration the graph was built from.
func (g *Graph) Config() *config.Config {
	return g.cfg
}

// Browser updates a pipeline can push once its files are written.
const (
	ReloadNone = "none"
	ReloadPage = "page"
	ReloadCSS  = "css"
)

// AfterHook returns the hook that pushes a pipeline's output to connected
// browsers according to mode.
func (g *Graph) AfterHook(mode string) (func(ctx context.Context, files []*pipe.File), error) {
	switch mode {
	case "", ReloadNone, ReloadPage, ReloadCSS:
		return g.after(mode), nil
	}
	return nil, fmt.Errorf("unknown reload mode %q (use %s, %s or %s)", mode, ReloadNone, ReloadPage, ReloadCSS)
}

func (g *Graph) after(mode string) func(ctx context.Context, files []*pipe.File) {
	switch mode {
	case ReloadPage:
		return func(ctx context.Context, files []*pipe.File) {
			if g.live != nil {
				g.live.Reload(g.distPaths(files)...)
			}
		}
	case ReloadCSS:
		return func(ctx context.Context, files []*pipe.File) {
			if g.live != nil {
				g.live.InjectCSS(g.distPaths(files)...)
			}
		}
	}
	return nil
}

// Register adds every built-in task to reg and makes the watch-and-serve
// composition the default. Compositions refer to tasks by name, so tasks
// replaced later in reg take effect everywhere.
func (g *Graph) Register(reg *task.Registry) {
	reg.Register(task.New(Clean, g.clean), "Remove the output directory")
	reg.Register(task.New(Version, g.writeVersion), "Write the cache-busting version stamp")
	reg.Register(g.htmlTask(), "Resolve includes in pages and point images at their WebP copies")
	reg.Register(g.stylesTask(), "Compile, prefix, group and minify the stylesheets")
	reg.Register(g.scriptsTask(), "Concatenate and minify the scripts")
	reg.Register(g.imagesTask(), "Copy changed images and convert them to WebP")
	reg.Register(g.fontsTask(), "Convert OTF and TTF fonts to WOFF")
	reg.Register(g.spriteTask(), "Combine the SVG icons into a sprite")
	reg.Register(task.New(Serve, g.serve), "Serve the output directory with live reload")
	reg.Register(g.watchTask(reg), "Rebuild on source changes")

	reg.Register(task.Series(Build,
		reg.Ref(Clean),
		reg.Ref(Version),
		task.Parallel("assets",
			reg.Ref(HTML), reg.Ref(Styles), reg.Ref(Scripts), reg.Ref(Images), reg.Ref(Sprite),
		),
	), "Build every asset once")

	reg.Register(task.Parallel(task.DefaultTask,
		task.Series("build-and-serve",
			reg.Ref(Clean), reg.Ref(Version),
			reg.Ref(HTML), reg.Ref(Styles), reg.Ref(Scripts), reg.Ref(Images), reg.Ref(Sprite),
			reg.Ref(Serve),
		),
		reg.Ref(Watching),
	), "Build, serve and rebuild on change")
	reg.SetDefault(task.DefaultTask)
}

func (g *Graph) clean(ctx context.Context) error {
	dist := g.cfg.Paths.Dist
	if err := os.RemoveAll(dist); err != nil {
		return fmt.Errorf("remove %s: %w", dist, err)
	}
	g.mu.Lock()
	g.stamp = nil
	g.mu.Unlock()
	return nil
}

func (g *Graph) writeVersion(ctx context.Context) error {
	s := version.NewStamp(g.now())
	path, err := s.Write(g.cfg.Paths.Dist)
	if err != nil {
		return err
	}
	g.mu.Lock()
	g.stamp = &s
	g.mu.Unlock()
	g.logger.Debug(ctx, "version stamp written", "path", path, "version", s.Version)
	return nil
}

// currentStamp returns the stamp of this run, the one on disk, or a fresh
// one when neither exists.
func (g *Graph) currentStamp() version.Stamp {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stamp == nil {
		s, err := version.ReadStamp(g.cfg.Paths.Dist)
		if err != nil {
			s = version.NewStamp(g.now())
		}
		g.stamp = &s
	}
	return *g.stamp
}

// includeContext is the variable set visible to every page.
func (g *Graph) includeContext() map[string]interface{} {
	ctx := make(map[string]interface{}, len(g.cfg.HTML.Context)+1)
	for k, v := range g.cfg.HTML.Context {
		ctx[k] = v
	}
	ctx["version"] = g.currentStamp().Version
	return ctx
}

func (g *Graph) htmlTask() task.Task {
	c := g.cfg
	p := pipe.New(c.SrcGlobs(c.HTML.Src)...).Pipe(
		transform.Include(transform.IncludeOptions{
			Prefix:      c.HTML.IncludePrefix,
			ContextFunc: g.includeContext,
		}),
	)
	if c.HTML.WebP {
		p.Pipe(transform.WebPHTML())
	}
	if c.HTML.Minify {
		p.Pipe(transform.Minify())
	}
	p.Pipe(pipe.Dest(c.Paths.Dist))
	return task.FromPipeline(HTML, p, nil)
}

func (g *Graph) stylesTask() task.Task {
	c := g.cfg
	p := pipe.New(c.SrcGlobs(c.Styles.Src)...).Pipe(
		transform.Sass(transform.SassOptions{
			Binary:       c.Tools.Sass,
			Style:        c.Styles.Style,
			IncludePaths: c.Styles.IncludePaths,
		}),
	)
	if c.Styles.Autoprefixer.Enabled {
		p.Pipe(transform.Autoprefixer(transform.AutoprefixerOptions{
			Command:  c.Tools.PostCSS,
			Browsers: c.Styles.Autoprefixer.Browsers,
			Grid:     c.Styles.Autoprefixer.Grid,
		}))
	}
	if c.Styles.GroupMedia {
		p.Pipe(transform.GroupMedia())
	}
	if c.Styles.Minify {
		p.Pipe(transform.Minify())
	}
	p.Pipe(transform.Concat(c.Styles.File), pipe.Dest(c.DistPath(c.Styles.Dest)))

	return task.FromPipeline(Styles, p, g.after(ReloadCSS))
}

func (g *Graph) scriptsTask() task.Task {
	c := g.cfg
	p := pipe.New(c.SrcGlobs(c.Scripts.Src)...).Pipe(transform.Concat(c.Scripts.File))
	if c.Scripts.Minify {
		p.Pipe(transform.Minify())
	}
	p.Pipe(pipe.Dest(c.DistPath(c.Scripts.Dest)))

	return task.FromPipeline(Scripts, p, g.after(ReloadPage))
}

func (g *Graph) imagesTask() task.Task {
	c := g.cfg
	dest := c.DistPath(c.Images.Dest)
	p := pipe.New(c.SrcGlobs(c.Images.Src)...).Pipe(
		transform.Newer(transform.NewerOptions{Dest: dest}),
	)
	if c.Images.Optimize {
		p.Pipe(transform.Optimize(transform.OptimizeOptions{JPEGQuality: c.Images.JPEGQuality}))
	}
	p.Pipe(pipe.Dest(dest))
	if c.Images.WebP {
		p.Pipe(
			transform.WebP(transform.WebPOptions{Binary: c.Tools.CWebP, Quality: c.Images.WebPQuality}),
			pipe.Dest(dest),
		)
	}
	return task.FromPipeline(Images, p, nil)
}

func (g *Graph) fontsTask() task.Task {
	c := g.cfg
	dest := filepath.FromSlash(c.SrcPath(c.Fonts.Dest))
	p := pipe.New(c.SrcGlobs(c.Fonts.Src)...).Pipe(
		transform.Newer(transform.NewerOptions{Dest: dest, Ext: ".woff"}),
		transform.WOFF(),
		pipe.Dest(dest),
	)
	return task.FromPipeline(Fonts, p, nil)
}

func (g *Graph) spriteTask() task.Task {
	c := g.cfg
	p := pipe.New(c.SrcGlobs(c.Sprite.Src)...).Pipe(
		transform.Sprite(transform.SpriteOptions{File: c.Sprite.File, IDPrefix: c.Sprite.IDPrefix}),
		pipe.Dest(c.DistPath(c.Sprite.Dest)),
	)
	return task.FromPipeline(Sprite, p, nil)
}

func (g *Graph) serve(ctx context.Context) error {
	if g.live == nil {
		return fmt.Errorf("no development server configured")
	}
	return g.live.Start(ctx)
}

func (g *Graph) watchTask(reg *task.Registry) task.Task {
	c := g.cfg
	reload := func(ctx context.Context, changed []string) {
		if g.live != nil {
			g.live.Reload()
		}
	}
	return task.Watch(Watching, &lazyWatcher{create: g.newWatcher},
		task.WatchSpec{Globs: c.SrcGlobs(c.Styles.Watch), Task: reg.Ref(Styles)},
		task.WatchSpec{Globs: c.SrcGlobs(c.Scripts.Watch), Task: reg.Ref(Scripts)},
		task.WatchSpec{Globs: c.SrcGlobs(c.Images.Src), Task: reg.Ref(Images)},
		task.WatchSpec{Globs: c.SrcGlobs(c.HTML.Watch), Task: reg.Ref(HTML), After: reload},
		task.WatchSpec{Globs: c.SrcGlobs(c.Sprite.Src), Task: reg.Ref(Sprite), After: reload},
	)
}

// distPaths returns the output files as slash separated paths relative to
// the output directory, the form browsers request them in.
func (g *Graph) distPaths(files []*pipe.File) []string {
	out := make([]string, 0, len(files))
	for _, f := range files {
		rel, err := filepath.Rel(g.cfg.Paths.Dist, f.Path)
		if err != nil {
			continue
		}
		out = append(out, filepath.ToSlash(rel))
	}
	return out
}

// lazyWatcher creates the file watcher on first use so tasks that never
// watch do not hold inotify handles.
type lazyWatcher struct {
	create func() (task.Watcher, error)

	once sync.Once
	w    task.Watcher
	err  error
}

func (l *lazyWatcher) get() (task.Watcher, error) {
	l.once.Do(func() {
		l.w, l.err = l.create()
	})
	return l.w, l.err
}

func (l *lazyWatcher) AddRecursive(root string) error {
	w, err := l.get()
	if err != nil {
		return err
	}
	return w.AddRecursive(root)
}

func (l *lazyWatcher) AddHandler(handler watcher.ChangeHandler) {
	if w, err := l.get(); err == nil {
		w.AddHandler(handler)
	}
}

func (l *lazyWatcher) Start(ctx context.Context) error {
	w, err := l.get()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	return w.Start(ctx)
}

func (l *lazyWatcher) Stop() error {
	w, err := l.get()
	if err != nil {
		return nil
	}
	return w.Stop()
}
