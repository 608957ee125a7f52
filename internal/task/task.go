// Package task provides the composition primitives assetpipe's build graph is
// made of: named leaf tasks, series, parallel groups and file watches.
//
// The logger and the failure reporter travel in the context so nested tasks
// pick them up without explicit wiring.
package task

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	builderrors "github.com/conneroisu/assetpipe/internal/errors"
	"github.com/conneroisu/assetpipe/internal/logging"
	"github.com/conneroisu/assetpipe/internal/pipe"
)

// Task is a named unit of work.
type Task interface {
	Name() string
	Run(ctx context.Context) error
}

// Func is the body of a leaf task.
type Func func(ctx context.Context) error

// Reporter is told about the outcome of every leaf task. Failed decides
// whether a failure propagates: returning nil swallows it.
type Reporter interface {
	Failed(ctx context.Context, err *builderrors.BuildError) error
	Succeeded(ctx context.Context, task string)
}

type loggerKey struct{}

type reporterKey struct{}

// WithLogger attaches the logger tasks report their progress to.
func WithLogger(ctx context.Context, logger logging.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// WithReporter attaches the failure reporter.
func WithReporter(ctx context.Context, r Reporter) context.Context {
	return context.WithValue(ctx, reporterKey{}, r)
}

func loggerFrom(ctx context.Context) logging.Logger {
	if l, ok := ctx.Value(loggerKey{}).(logging.Logger); ok && l != nil {
		return l
	}
	return logging.NewNopLogger()
}

func reporterFrom(ctx context.Context) Reporter {
	if r, ok := ctx.Value(reporterKey{}).(Reporter); ok && r != nil {
		return r
	}
	return nil
}

type leaf struct {
	name string
	fn   Func
}

// New creates a leaf task. Its failures are converted to BuildErrors and
// passed to the Reporter in the context.
func New(name string, fn Func) Task {
	return &leaf{name: name, fn: fn}
}

func (t *leaf) Name() string { return t.name }

func (t *leaf) Run(ctx context.Context) error {
	err := timed(ctx, t.name, t.fn)
	rep := reporterFrom(ctx)
	if err == nil {
		if rep != nil {
			rep.Succeeded(ctx, t.name)
		}
		return nil
	}
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return err
	}
	be := toBuildError(t.name, err)
	if rep == nil {
		return be
	}
	return rep.Failed(ctx, be)
}

// FromPipeline runs a pipeline as a leaf task, calling after with the
// files that reached the end of it.
func FromPipeline(name string, p *pipe.Pipeline, after func(ctx context.Context, files []*pipe.File)) Task {
	return New(name, func(ctx context.Context) error {
		files, err := p.Run(ctx)
		if err != nil {
			return err
		}
		loggerFrom(ctx).Debug(ctx, "pipeline done", "task", name, "files", len(files))
		if after != nil {
			after(ctx, files)
		}
		return nil
	})
}

// toBuildError names the failing task and, for pipeline failures, the step.
func toBuildError(task string, err error) *builderrors.BuildError {
	be := builderrors.New(task, err)
	var stepErr *pipe.StepError
	if be.Step == "" && errors.As(err, &stepErr) {
		be.Step = stepErr.Step
		if _, nested := builderrors.As(err); !nested {
			be.Message = stepErr.Err.Error()
		}
	}
	return be
}

// timed runs fn between "starting" and "finished" log lines.
func timed(ctx context.Context, name string, fn Func) error {
	logger := loggerFrom(ctx).With("task", name)
	op := logging.StartOperation(logger, name)
	logger.Info(ctx, "starting")

	err := fn(ctx)
	switch {
	case err == nil:
		op.End(ctx, "finished")
	case ctx.Err() != nil:
		op.End(ctx, "cancelled")
	default:
		op.EndWithError(ctx, err, "errored")
	}
	return err
}

type composite struct {
	name     string
	kind     string
	children []Task
	run      func(ctx context.Context, children []Task) error
}

func (c *composite) Name() string { return c.name }

func (c *composite) Run(ctx context.Context) error {
	return timed(ctx, c.name, func(ctx context.Context) error {
		return c.run(ctx, c.children)
	})
}

// Series runs tasks one after another and stops at the first error.
func Series(name string, tasks ...Task) Task {
	return &composite{name: name, kind: "series", children: tasks, run: func(ctx context.Context, children []Task) error {
		for _, t := range children {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := t.Run(ctx); err != nil {
				return err
			}
		}
		return nil
	}}
}

// Parallel runs tasks concurrently. The first error cancels the others and
// is returned once all of them have stopped.
func Parallel(name string, tasks ...Task) Task {
	return &composite{name: name, kind: "parallel", children: tasks, run: func(ctx context.Context, children []Task) error {
		g, gctx := errgroup.WithContext(ctx)
		for _, t := range children {
			g.Go(func() error {
				return t.Run(gctx)
			})
		}
		return g.Wait()
	}}
}

// Children returns the direct subtasks of a series or parallel task.
func Children(t Task) []Task {
	switch c := t.(type) {
	case *composite:
		return c.children
	case *ref:
		if resolved, err := c.registry.Get(c.name); err == nil {
			return Children(resolved)
		}
	}
	return nil
}

// Kind describes how a task runs: "task", "series", "parallel", "watch".
func Kind(t Task) string {
	switch c := t.(type) {
	case *composite:
		return c.kind
	case *watch:
		return "watch"
	case *ref:
		if resolved, err := c.registry.Get(c.name); err == nil {
			return Kind(resolved)
		}
	}
	return "task"
}

// IsRef reports whether t is a by-name reference created with Registry.Ref.
func IsRef(t Task) bool {
	_, ok := t.(*ref)
	return ok
}
