// Package graphfile loads a project's task graph file: an HCL document that
// adds tasks to the built-in graph or replaces them.
//
//	task "styles" {
//	  src    = ["${src}/scss/style.scss"]
//	  dest   = "${dist}/css"
//	  reload = "css"
//	  step "sass" { style = "compressed" }
//	  step "concat" { file = "style.min.css" }
//	}
//
//	task "release" { series = ["clean", "styles"] }
//	task "dev"     { parallel = ["release", "watching"] }
//
//	default = "dev"
//
// A task is either a pipeline (src, steps and an optional dest) or a
// composition (series or parallel) of other tasks referenced by name.
// Expressions can use the variables src and dist, the configured source and
// output directories.
package graphfile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"

	"github.com/conneroisu/assetpipe/internal/logging"
	"github.com/conneroisu/assetpipe/internal/pipe"
	"github.com/conneroisu/assetpipe/internal/task"
	"github.com/conneroisu/assetpipe/internal/tasks"
	"github.com/conneroisu/assetpipe/internal/transform"
)

var fileSchema = &hcl.BodySchema{
	Attributes: []hcl.AttributeSchema{
		{Name: "default"},
	},
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "task", LabelNames: []string{"name"}},
	},
}

var taskSchema = &hcl.BodySchema{
	Attributes: []hcl.AttributeSchema{
		{Name: "description"},
		{Name: "src"},
		{Name: "dest"},
		{Name: "reload"},
		{Name: "series"},
		{Name: "parallel"},
	},
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "step", LabelNames: []string{"name"}},
	},
}

// File is a decoded graph file.
type File struct {
	Path    string
	Tasks   []*TaskDef
	Default string
}

// TaskDef is one task block.
type TaskDef struct {
	Name        string
	Description string

	// Pipeline tasks.
	Src    []string
	Dest   string
	Reload string
	Steps  []*StepDef

	// Compositions.
	Series   []string
	Parallel []string

	DefRange hcl.Range
	refs     map[string]hcl.Range
}

// IsPipeline reports whether the task reads files rather than running
// other tasks.
func (t *TaskDef) IsPipeline() bool {
	return len(t.Src) > 0
}

// StepDef is one step block of a pipeline task.
type StepDef struct {
	Name      string
	Options   transform.Options
	Transform pipe.Transform
	DefRange  hcl.Range
}

// EvalContext returns the variables and functions expressions in a graph
// file are evaluated with.
func EvalContext(src, dist string) *hcl.EvalContext {
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"src":  cty.StringVal(filepath.ToSlash(src)),
			"dist": cty.StringVal(filepath.ToSlash(dist)),
		},
		Functions: map[string]function.Function{
			"concat": stdlib.ConcatFunc,
			"format": stdlib.FormatFunc,
			"join":   stdlib.JoinFunc,
			"lower":  stdlib.LowerFunc,
			"upper":  stdlib.UpperFunc,
		},
	}
}

// Parse decodes a graph file. Steps are built through steps, so unknown
// step names and invalid step options are reported with their location.
func Parse(filename string, src []byte, evalCtx *hcl.EvalContext, steps *transform.Registry) (*File, hcl.Diagnostics) {
	parser := hclparse.NewParser()
	f, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, diags
	}

	content, moreDiags := f.Body.Content(fileSchema)
	diags = append(diags, moreDiags...)

	file := &File{Path: filename}
	if attr, ok := content.Attributes["default"]; ok {
		diags = append(diags, gohcl.DecodeExpression(attr.Expr, evalCtx, &file.Default)...)
	}

	seen := make(map[string]hcl.Range)
	for _, block := range content.Blocks {
		name := block.Labels[0]
		if prev, dup := seen[name]; dup {
			diags = append(diags, &hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Duplicate task",
				Detail:   fmt.Sprintf("Task %q was already defined at %s.", name, prev),
				Subject:  &block.DefRange,
			})
			continue
		}
		seen[name] = block.DefRange

		def, taskDiags := decodeTask(block, evalCtx, steps)
		diags = append(diags, taskDiags...)
		if def != nil {
			file.Tasks = append(file.Tasks, def)
		}
	}

	if diags.HasErrors() {
		return nil, diags
	}
	return file, diags
}

func decodeTask(block *hcl.Block, evalCtx *hcl.EvalContext, steps *transform.Registry) (*TaskDef, hcl.Diagnostics) {
	content, diags := block.Body.Content(taskSchema)

	def := &TaskDef{
		Name:     block.Labels[0],
		DefRange: block.DefRange,
		refs:     make(map[string]hcl.Range),
	}
	decode := func(name string, target interface{}) bool {
		attr, ok := content.Attributes[name]
		if !ok {
			return false
		}
		diags = append(diags, gohcl.DecodeExpression(attr.Expr, evalCtx, target)...)
		return true
	}
	decode("description", &def.Description)
	decode("src", &def.Src)
	decode("dest", &def.Dest)
	decode("reload", &def.Reload)
	if decode("series", &def.Series) {
		for _, name := range def.Series {
			def.refs[name] = content.Attributes["series"].Expr.Range()
		}
	}
	if decode("parallel", &def.Parallel) {
		for _, name := range def.Parallel {
			def.refs[name] = content.Attributes["parallel"].Expr.Range()
		}
	}

	for _, sb := range content.Blocks {
		step, stepDiags := decodeStep(sb, evalCtx, steps)
		diags = append(diags, stepDiags...)
		if step != nil {
			def.Steps = append(def.Steps, step)
		}
	}
	if diags.HasErrors() {
		return nil, diags
	}

	composition := len(def.Series) > 0 || len(def.Parallel) > 0
	pipeline := len(def.Src) > 0 || len(def.Steps) > 0 || def.Dest != "" || def.Reload != ""
	switch {
	case composition && pipeline:
		diags = append(diags, taskError(def, "Conflicting task body",
			"A task either runs a pipeline (src, step, dest, reload) or composes other tasks (series, parallel), not both."))
	case len(def.Series) > 0 && len(def.Parallel) > 0:
		diags = append(diags, taskError(def, "Conflicting task body",
			"A task cannot set both series and parallel. Define a second task for one of them."))
	case pipeline && len(def.Src) == 0:
		diags = append(diags, taskError(def, "Missing src",
			"A pipeline task needs at least one src glob."))
	case !composition && !pipeline:
		diags = append(diags, taskError(def, "Empty task",
			"Set src and steps for a pipeline, or series or parallel for a composition."))
	}
	switch def.Reload {
	case "", tasks.ReloadNone, tasks.ReloadPage, tasks.ReloadCSS:
	default:
		subject := content.Attributes["reload"].Expr.Range()
		diags = append(diags, &hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Invalid reload mode",
			Detail:   fmt.Sprintf("Reload must be %q, %q or %q.", tasks.ReloadNone, tasks.ReloadPage, tasks.ReloadCSS),
			Subject:  &subject,
		})
	}
	if diags.HasErrors() {
		return nil, diags
	}
	return def, diags
}

func decodeStep(block *hcl.Block, evalCtx *hcl.EvalContext, steps *transform.Registry) (*StepDef, hcl.Diagnostics) {
	attrs, diags := block.Body.JustAttributes()
	if diags.HasErrors() {
		return nil, diags
	}

	step := &StepDef{
		Name:     block.Labels[0],
		Options:  make(transform.Options, len(attrs)),
		DefRange: block.DefRange,
	}
	for name, attr := range attrs {
		val, valDiags := attr.Expr.Value(evalCtx)
		diags = append(diags, valDiags...)
		step.Options[name] = val
	}
	if diags.HasErrors() {
		return nil, diags
	}

	t, err := steps.Build(step.Name, step.Options)
	if err != nil {
		summary := "Invalid step"
		if !contains(steps.Names(), step.Name) {
			summary = "Unknown step"
		}
		return nil, append(diags, &hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  summary,
			Detail:   fmt.Sprintf("%s. Available steps: %v.", err, steps.Names()),
			Subject:  &block.LabelRanges[0],
		})
	}
	step.Transform = t
	return step, diags
}

func taskError(def *TaskDef, summary, detail string) *hcl.Diagnostic {
	return &hcl.Diagnostic{
		Severity: hcl.DiagError,
		Summary:  summary,
		Detail:   fmt.Sprintf("Task %q: %s", def.Name, detail),
		Subject:  &def.DefRange,
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Apply registers the tasks of f, replacing built-in tasks of the same name,
// and changes the default task when f names one. Nothing is registered when
// a task refers to a name that is neither registered nor defined in f, or
// when the resulting graph contains a cycle.
func (f *File) Apply(g *tasks.Graph, reg *task.Registry) error {
	var diags hcl.Diagnostics
	defined := make(map[string]bool, len(f.Tasks))
	for _, def := range f.Tasks {
		defined[def.Name] = true
	}
	for _, def := range f.Tasks {
		for _, name := range append(append([]string(nil), def.Series...), def.Parallel...) {
			if defined[name] || reg.Has(name) {
				continue
			}
			subject := def.refs[name]
			diags = append(diags, &hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Unknown task",
				Detail:   fmt.Sprintf("Task %q refers to %q, which is not defined. Available tasks: %v.", def.Name, name, reg.Names()),
				Subject:  &subject,
			})
		}
	}
	if f.Default != "" && !defined[f.Default] && !reg.Has(f.Default) {
		diags = append(diags, &hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Unknown default task",
			Detail:   fmt.Sprintf("The default task %q is not defined.", f.Default),
		})
	}
	if diags.HasErrors() {
		return fmt.Errorf("%s: %w", f.Path, diags)
	}

	built := make([]task.Task, 0, len(f.Tasks))
	for _, def := range f.Tasks {
		t, err := def.build(g, reg)
		if err != nil {
			return fmt.Errorf("%s: task %q: %w", f.Path, def.Name, err)
		}
		built = append(built, t)
	}

	defs := make([]task.Definition, len(f.Tasks))
	for i, def := range f.Tasks {
		desc := def.Description
		if desc == "" && reg.Has(def.Name) {
			desc = reg.Description(def.Name)
		}
		defs[i] = task.Definition{Task: built[i], Description: desc}
	}
	if err := reg.Apply(defs, f.Default); err != nil {
		return fmt.Errorf("%s: %w", f.Path, err)
	}
	return nil
}

func (t *TaskDef) build(g *tasks.Graph, reg *task.Registry) (task.Task, error) {
	refs := func(names []string) []task.Task {
		out := make([]task.Task, len(names))
		for i, name := range names {
			out[i] = reg.Ref(name)
		}
		return out
	}
	switch {
	case len(t.Series) > 0:
		return task.Series(t.Name, refs(t.Series)...), nil
	case len(t.Parallel) > 0:
		return task.Parallel(t.Name, refs(t.Parallel)...), nil
	}

	p := pipe.New(t.Src...)
	for _, step := range t.Steps {
		p.Pipe(step.Transform)
	}
	if t.Dest != "" {
		p.Pipe(pipe.Dest(filepath.FromSlash(t.Dest)))
	}
	after, err := g.AfterHook(t.Reload)
	if err != nil {
		return nil, err
	}
	return task.FromPipeline(t.Name, p, after), nil
}

// Load reads the graph file at path and applies it to reg. A missing file
// is not an error; it reports whether a file was applied.
func Load(ctx context.Context, path string, g *tasks.Graph, reg *task.Registry, logger logging.Logger) (bool, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	src, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		logger.Debug(ctx, "no task graph file", "path", path)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read task graph file: %w", err)
	}

	cfg := g.Config()
	file, diags := Parse(path, src, EvalContext(cfg.Paths.Src, cfg.Paths.Dist), g.Steps())
	if diags.HasErrors() {
		return false, fmt.Errorf("parse task graph file: %w", diags)
	}
	if err := file.Apply(g, reg); err != nil {
		return false, err
	}

	names := make([]string, len(file.Tasks))
	for i, def := range file.Tasks {
		names[i] = def.Name
	}
	logger.Info(ctx, "task graph file loaded", "path", path, "tasks", names, "default", reg.Default())
	return true, nil
}
