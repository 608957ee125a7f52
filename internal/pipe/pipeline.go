package pipe

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Transform is one step of a pipeline. It receives every file of the
// stream and returns the files to forward downstream.
type Transform interface {
	Name() string
	Transform(ctx context.Context, files []*File) ([]*File, error)
}

type transformFunc struct {
	name string
	fn   func(ctx context.Context, files []*File) ([]*File, error)
}

func (t transformFunc) Name() string { return t.name }

func (t transformFunc) Transform(ctx context.Context, files []*File) ([]*File, error) {
	return t.fn(ctx, files)
}

// TransformFunc adapts a function to the Transform interface.
func TransformFunc(name string, fn func(ctx context.Context, files []*File) ([]*File, error)) Transform {
	return transformFunc{name: name, fn: fn}
}

// Each builds a transform applying fn to every file concurrently, bounded to
// the number of CPUs. fn may modify the file in place; returning a nil file
// drops it from the stream. Output order follows input order.
func Each(name string, fn func(ctx context.Context, f *File) (*File, error)) Transform {
	return TransformFunc(name, func(ctx context.Context, files []*File) ([]*File, error) {
		out := make([]*File, len(files))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(runtime.NumCPU())
		for i, f := range files {
			g.Go(func() error {
				res, err := fn(gctx, f)
				if err != nil {
					return err
				}
				out[i] = res
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		return compact(out), nil
	})
}

// Filter keeps only the files keep returns true for.
func Filter(name string, keep func(f *File) bool) Transform {
	return TransformFunc(name, func(_ context.Context, files []*File) ([]*File, error) {
		out := files[:0:0]
		for _, f := range files {
			if keep(f) {
				out = append(out, f)
			}
		}
		return out, nil
	})
}

func compact(files []*File) []*File {
	out := files[:0]
	for _, f := range files {
		if f != nil {
			out = append(out, f)
		}
	}
	return out
}

// Dest writes every file to dir, preserving its path relative to its base,
// and forwards the written files rebased on dir.
func Dest(dir string) Transform {
	return TransformFunc("dest", func(ctx context.Context, files []*File) ([]*File, error) {
		return Each("dest", func(_ context.Context, f *File) (*File, error) {
			out := f.Clone()
			out.SetBase(dir)

			if err := os.MkdirAll(filepath.Dir(out.Path), 0o755); err != nil {
				return nil, fmt.Errorf("create directory for %s: %w", out.Path, err)
			}

			mode := out.Mode
			if mode == 0 {
				mode = 0o644
			}
			if err := os.WriteFile(out.Path, out.Contents, mode); err != nil {
				return nil, fmt.Errorf("write %s: %w", out.Path, err)
			}
			if info, err := os.Stat(out.Path); err == nil {
				out.ModTime = info.ModTime()
			}
			return out, nil
		}).Transform(ctx, files)
	})
}

// Pipeline is a source glob list followed by an ordered chain of transforms.
type Pipeline struct {
	globs []string
	steps []Transform
}

// New starts a pipeline reading the given globs.
func New(globs ...string) *Pipeline {
	return &Pipeline{globs: globs}
}

// Pipe appends transforms to the pipeline.
func (p *Pipeline) Pipe(steps ...Transform) *Pipeline {
	p.steps = append(p.steps, steps...)
	return p
}

// Steps returns the names of the transforms in order.
func (p *Pipeline) Steps() []string {
	names := make([]string, len(p.steps))
	for i, s := range p.steps {
		names[i] = s.Name()
	}
	return names
}

// Run reads the sources and pushes them through every step. The first
// failing step aborts the run; its error is wrapped in a StepError.
func (p *Pipeline) Run(ctx context.Context) ([]*File, error) {
	files, err := Src(ctx, p.globs...)
	if err != nil {
		return nil, &StepError{Step: "src", Err: err}
	}
	return p.RunFiles(ctx, files)
}

// RunFiles pushes an existing stream through every step.
func (p *Pipeline) RunFiles(ctx context.Context, files []*File) ([]*File, error) {
	for _, step := range p.steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var err error
		files, err = step.Transform(ctx, files)
		if err != nil {
			return nil, &StepError{Step: step.Name(), Err: err}
		}
	}
	return files, nil
}

// StepError names the transform that failed.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
