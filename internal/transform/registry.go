// Package transform contains the file transformations assetpipe tasks are
// assembled from: HTML includes, the <picture> rewrite, SCSS compilation,
// vendor prefixing, media query grouping, minification, concatenation,
// image conversion, font conversion and SVG sprites.
//
// Every transform is a pipe.Transform. The Registry exposes them by name so
// pipeline files can reference them with options.
package transform

import (
	"fmt"
	"sort"
	"strings"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/gocty"

	"github.com/conneroisu/assetpipe/internal/pipe"
)

// Options are the arguments of one step in a pipeline file.
type Options map[string]cty.Value

func (o Options) get(key string, want cty.Type, target interface{}) (bool, error) {
	val, ok := o[key]
	if !ok || val.IsNull() {
		return false, nil
	}
	if !val.IsWhollyKnown() {
		return false, fmt.Errorf("option %q is not known", key)
	}
	conv, err := convert.Convert(val, want)
	if err != nil {
		return false, fmt.Errorf("option %q: %w", key, err)
	}
	if err := gocty.FromCtyValue(conv, target); err != nil {
		return false, fmt.Errorf("option %q: %w", key, err)
	}
	return true, nil
}

// String returns a string option or def.
func (o Options) String(key, def string) (string, error) {
	var s string
	ok, err := o.get(key, cty.String, &s)
	if err != nil || !ok {
		return def, err
	}
	return s, nil
}

// Strings returns a list-of-strings option or def. A single string is
// accepted as a one-element list.
func (o Options) Strings(key string, def []string) ([]string, error) {
	if val, ok := o[key]; ok && !val.IsNull() && val.Type() == cty.String {
		return []string{val.AsString()}, nil
	}
	var s []string
	ok, err := o.get(key, cty.List(cty.String), &s)
	if err != nil || !ok {
		return def, err
	}
	return s, nil
}

// Bool returns a bool option or def.
func (o Options) Bool(key string, def bool) (bool, error) {
	var b bool
	ok, err := o.get(key, cty.Bool, &b)
	if err != nil || !ok {
		return def, err
	}
	return b, nil
}

// Int returns an integer option or def.
func (o Options) Int(key string, def int) (int, error) {
	var n int
	ok, err := o.get(key, cty.Number, &n)
	if err != nil || !ok {
		return def, err
	}
	return n, nil
}

// Check fails on keys that are not in allowed.
func (o Options) Check(allowed ...string) error {
	known := make(map[string]bool, len(allowed))
	for _, k := range allowed {
		known[k] = true
	}
	var unknown []string
	for k := range o {
		if !known[k] {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("unknown option(s): %s", strings.Join(unknown, ", "))
	}
	return nil
}

// Defaults are the settings transforms fall back to when a step does not
// override them, usually taken from the project configuration.
type Defaults struct {
	SassBinary     string
	SassIncludes   []string
	PostCSSCommand string
	Browsers       []string
	Grid           bool
	CWebPBinary    string
	WebPQuality    int
	JPEGQuality    int
	IncludePrefix  string
	IncludeContext func() map[string]interface{}
}

// Factory builds a transform from step options.
type Factory func(d Defaults, opts Options) (pipe.Transform, error)

// Registry maps step names to factories.
type Registry struct {
	defaults  Defaults
	factories map[string]Factory
}

// NewRegistry returns a registry with every built-in transform registered.
func NewRegistry(d Defaults) *Registry {
	r := &Registry{defaults: d, factories: make(map[string]Factory)}
	r.Register("include", newInclude)
	r.Register("webp-html", noOptions(WebPHTML))
	r.Register("sass", newSass)
	r.Register("autoprefixer", newAutoprefixer)
	r.Register("group-media", noOptions(GroupMedia))
	r.Register("minify", noOptions(Minify))
	r.Register("concat", newConcat)
	r.Register("rename", newRename)
	r.Register("newer", newNewer)
	r.Register("dest", newDest)
	r.Register("webp", newWebP)
	r.Register("optimize", newOptimize)
	r.Register("woff", noOptions(WOFF))
	r.Register("sprite", newSprite)
	return r
}

// Register adds or replaces a factory.
func (r *Registry) Register(name string, f Factory) {
	r.factories[name] = f
}

// Names returns the registered step names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build creates the transform registered under name.
func (r *Registry) Build(name string, opts Options) (pipe.Transform, error) {
	f, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown step %q", name)
	}
	t, err := f(r.defaults, opts)
	if err != nil {
		return nil, fmt.Errorf("step %q: %w", name, err)
	}
	return t, nil
}

func noOptions(fn func() pipe.Transform) Factory {
	return func(_ Defaults, opts Options) (pipe.Transform, error) {
		if err := opts.Check(); err != nil {
			return nil, err
		}
		return fn(), nil
	}
}

func newInclude(d Defaults, opts Options) (pipe.Transform, error) {
	if err := opts.Check("prefix"); err != nil {
		return nil, err
	}
	prefix, err := opts.String("prefix", d.IncludePrefix)
	if err != nil {
		return nil, err
	}
	return Include(IncludeOptions{Prefix: prefix, ContextFunc: d.IncludeContext}), nil
}

func newSass(d Defaults, opts Options) (pipe.Transform, error) {
	if err := opts.Check("style", "binary", "include_paths"); err != nil {
		return nil, err
	}
	style, err := opts.String("style", "expanded")
	if err != nil {
		return nil, err
	}
	if style != "expanded" && style != "compressed" {
		return nil, fmt.Errorf("style must be expanded or compressed, got %q", style)
	}
	binary, err := opts.String("binary", d.SassBinary)
	if err != nil {
		return nil, err
	}
	includes, err := opts.Strings("include_paths", d.SassIncludes)
	if err != nil {
		return nil, err
	}
	return Sass(SassOptions{Binary: binary, Style: style, IncludePaths: includes}), nil
}

func newAutoprefixer(d Defaults, opts Options) (pipe.Transform, error) {
	if err := opts.Check("browsers", "grid", "command"); err != nil {
		return nil, err
	}
	browsers, err := opts.Strings("browsers", d.Browsers)
	if err != nil {
		return nil, err
	}
	grid, err := opts.Bool("grid", d.Grid)
	if err != nil {
		return nil, err
	}
	command, err := opts.String("command", d.PostCSSCommand)
	if err != nil {
		return nil, err
	}
	return Autoprefixer(AutoprefixerOptions{Command: command, Browsers: browsers, Grid: grid}), nil
}

func newConcat(_ Defaults, opts Options) (pipe.Transform, error) {
	if err := opts.Check("file"); err != nil {
		return nil, err
	}
	file, err := opts.String("file", "")
	if err != nil {
		return nil, err
	}
	if file == "" {
		return nil, fmt.Errorf("file is required")
	}
	return Concat(file), nil
}

func newRename(_ Defaults, opts Options) (pipe.Transform, error) {
	if err := opts.Check("name", "prefix", "suffix", "ext"); err != nil {
		return nil, err
	}
	var ro RenameOptions
	var err error
	for key, dst := range map[string]*string{"name": &ro.Name, "prefix": &ro.Prefix, "suffix": &ro.Suffix, "ext": &ro.Ext} {
		if *dst, err = opts.String(key, ""); err != nil {
			return nil, err
		}
	}
	return Rename(ro), nil
}

func newNewer(_ Defaults, opts Options) (pipe.Transform, error) {
	if err := opts.Check("dest", "ext"); err != nil {
		return nil, err
	}
	dest, err := opts.String("dest", "")
	if err != nil {
		return nil, err
	}
	if dest == "" {
		return nil, fmt.Errorf("dest is required")
	}
	ext, err := opts.String("ext", "")
	if err != nil {
		return nil, err
	}
	return Newer(NewerOptions{Dest: dest, Ext: ext}), nil
}

func newDest(_ Defaults, opts Options) (pipe.Transform, error) {
	if err := opts.Check("dir"); err != nil {
		return nil, err
	}
	dir, err := opts.String("dir", "")
	if err != nil {
		return nil, err
	}
	if dir == "" {
		return nil, fmt.Errorf("dir is required")
	}
	return pipe.Dest(dir), nil
}

func newWebP(d Defaults, opts Options) (pipe.Transform, error) {
	if err := opts.Check("quality", "binary", "keep"); err != nil {
		return nil, err
	}
	quality, err := opts.Int("quality", d.WebPQuality)
	if err != nil {
		return nil, err
	}
	binary, err := opts.String("binary", d.CWebPBinary)
	if err != nil {
		return nil, err
	}
	keep, err := opts.Bool("keep", false)
	if err != nil {
		return nil, err
	}
	return WebP(WebPOptions{Binary: binary, Quality: quality, Keep: keep}), nil
}

func newOptimize(d Defaults, opts Options) (pipe.Transform, error) {
	if err := opts.Check("jpeg_quality"); err != nil {
		return nil, err
	}
	quality, err := opts.Int("jpeg_quality", d.JPEGQuality)
	if err != nil {
		return nil, err
	}
	return Optimize(OptimizeOptions{JPEGQuality: quality}), nil
}

func newSprite(_ Defaults, opts Options) (pipe.Transform, error) {
	if err := opts.Check("file", "id_prefix"); err != nil {
		return nil, err
	}
	file, err := opts.String("file", "sprite.svg")
	if err != nil {
		return nil, err
	}
	prefix, err := opts.String("id_prefix", "")
	if err != nil {
		return nil, err
	}
	return Sprite(SpriteOptions{File: file, IDPrefix: prefix}), nil
}
