package task

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// DefaultTask is the name run when no task is given.
const DefaultTask = "default"

type entry struct {
	task        Task
	description string
}

// Registry holds the named tasks of a project.
type Registry struct {
	mu          sync.RWMutex
	tasks       map[string]entry
	defaultName string
}

// NewRegistry creates an empty registry whose default task is "default".
func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]entry), defaultName: DefaultTask}
}

// Register adds t, replacing any task with the same name.
func (r *Registry) Register(t Task, description string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[t.Name()] = entry{task: t, description: description}
}

// Get returns the task registered under name.
func (r *Registry) Get(name string) (Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tasks[name]
	if !ok {
		return nil, fmt.Errorf("task %q is not defined (available: %s)", name, strings.Join(r.namesLocked(), ", "))
	}
	return e.task, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tasks[name]
	return ok
}

// Description returns the help text of a task.
func (r *Registry) Description(name string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tasks[name].description
}

// Names returns every task name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namesLocked()
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.tasks))
	for name := range r.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetDefault changes the task run when none is named.
func (r *Registry) SetDefault(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultName = name
}

// Default returns the name of the default task.
func (r *Registry) Default() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultName
}

// Ref returns a task that looks name up when it runs, so compositions can
// refer to tasks registered or replaced later.
func (r *Registry) Ref(name string) Task {
	return &ref{name: name, registry: r}
}

// Run runs the named tasks one after another, or the default task when
// names is empty. Every name is resolved before anything runs.
func (r *Registry) Run(ctx context.Context, names ...string) error {
	if len(names) == 0 {
		names = []string{r.Default()}
	}
	tasks := make([]Task, len(names))
	for i, name := range names {
		t, err := r.Get(name)
		if err != nil {
			return err
		}
		tasks[i] = t
	}
	for _, t := range tasks {
		if err := t.Run(ctx); err != nil {
			return err
		}
	}
	return nil
}

type ref struct {
	name     string
	registry *Registry
}

func (t *ref) Name() string { return t.name }

func (t *ref) Run(ctx context.Context) error {
	resolved, err := t.registry.Get(t.name)
	if err != nil {
		return err
	}
	if other, ok := resolved.(*ref); ok && other.registry == t.registry && other.name == t.name {
		return fmt.Errorf("task %q refers to itself", t.name)
	}
	return resolved.Run(ctx)
}

// Check verifies that every reference inside the registered compositions
// names a registered task and that no task reaches itself.
func (r *Registry) Check() error {
	const (
		visiting = 1
		done     = 2
	)
	state := make(map[string]int)

	var visit func(name string, path []string) error
	walk := func(t Task, path []string) error {
		var err error
		var rec func(t Task)
		rec = func(t Task) {
			if err != nil {
				return
			}
			switch c := t.(type) {
			case *ref:
				if c.registry == r {
					err = visit(c.name, path)
				}
			case *composite:
				for _, child := range c.children {
					rec(child)
				}
			}
		}
		rec(t)
		return err
	}
	visit = func(name string, path []string) error {
		path = append(path[:len(path):len(path)], name)
		switch state[name] {
		case visiting:
			return fmt.Errorf("task cycle: %s", strings.Join(path, " -> "))
		case done:
			return nil
		}
		t, err := r.Get(name)
		if err != nil {
			if len(path) > 1 {
				return fmt.Errorf("task %q: %w", path[len(path)-2], err)
			}
			return err
		}
		state[name] = visiting
		if err := walk(t, path); err != nil {
			return err
		}
		state[name] = done
		return nil
	}

	for _, name := range r.Names() {
		if err := visit(name, nil); err != nil {
			return err
		}
	}
	if def := r.Default(); !r.Has(def) {
		return fmt.Errorf("default task %q is not defined", def)
	}
	return nil
}

// Definition is a task together with its help text.
type Definition struct {
	Task        Task
	Description string
}

// Apply registers defs and, when defaultName is not empty, makes it the
// default task. The registry is left unchanged when the result fails Check.
func (r *Registry) Apply(defs []Definition, defaultName string) error {
	r.mu.Lock()
	saved := make(map[string]entry, len(r.tasks))
	for name, e := range r.tasks {
		saved[name] = e
	}
	savedDefault := r.defaultName
	for _, d := range defs {
		r.tasks[d.Task.Name()] = entry{task: d.Task, description: d.Description}
	}
	if defaultName != "" {
		r.defaultName = defaultName
	}
	r.mu.Unlock()

	if err := r.Check(); err != nil {
		r.mu.Lock()
		r.tasks = saved
		r.defaultName = savedDefault
		r.mu.Unlock()
		return err
	}
	return nil
}
