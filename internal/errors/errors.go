// Package errors provides structured build errors for assetpipe tasks.
//
// A BuildError records which task and which transform step failed, the
// source file involved and, when the external compiler reports it, the line
// and column. ErrorCollector keeps the latest failure per task so the
// development server can show an overlay until the task succeeds again.
package errors

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrorSeverity represents the severity of an error
type ErrorSeverity int

const (
	ErrorSeverityInfo ErrorSeverity = iota
	ErrorSeverityWarning
	ErrorSeverityError
	ErrorSeverityFatal
)

// String returns the string representation of the severity
func (s ErrorSeverity) String() string {
	switch s {
	case ErrorSeverityInfo:
		return "info"
	case ErrorSeverityWarning:
		return "warning"
	case ErrorSeverityError:
		return "error"
	case ErrorSeverityFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// BuildError is a failure inside one task's pipeline.
type BuildError struct {
	Task      string        `json:"task"`
	Step      string        `json:"step,omitempty"`
	File      string        `json:"file,omitempty"`
	Line      int           `json:"line,omitempty"`
	Column    int           `json:"column,omitempty"`
	Message   string        `json:"message"`
	Severity  ErrorSeverity `json:"severity"`
	Timestamp time.Time     `json:"timestamp"`
	Err       error         `json:"-"`
}

// Error implements the error interface
func (be *BuildError) Error() string {
	var b strings.Builder
	if be.Task != "" {
		b.WriteString(be.Task)
		if be.Step != "" {
			b.WriteString("/")
			b.WriteString(be.Step)
		}
		b.WriteString(": ")
	}
	if be.File != "" {
		b.WriteString(be.File)
		if be.Line > 0 {
			fmt.Fprintf(&b, ":%d", be.Line)
			if be.Column > 0 {
				fmt.Fprintf(&b, ":%d", be.Column)
			}
		}
		b.WriteString(": ")
	}
	b.WriteString(be.Message)
	return b.String()
}

// Unwrap returns the underlying cause.
func (be *BuildError) Unwrap() error {
	return be.Err
}

// New creates a BuildError for a task from an arbitrary error. If err already
// carries a BuildError, its location is kept and the task name is filled in.
func New(task string, err error) *BuildError {
	if err == nil {
		return nil
	}
	var existing *BuildError
	if stderrors.As(err, &existing) {
		be := *existing
		if be.Task == "" {
			be.Task = task
		}
		if be.Timestamp.IsZero() {
			be.Timestamp = time.Now()
		}
		return &be
	}
	return &BuildError{
		Task:      task,
		Message:   err.Error(),
		Severity:  ErrorSeverityError,
		Timestamp: time.Now(),
		Err:       err,
	}
}

// As is a convenience wrapper around the standard errors.As for BuildError.
func As(err error) (*BuildError, bool) {
	var be *BuildError
	if stderrors.As(err, &be) {
		return be, true
	}
	return nil, false
}

// ErrorCollector keeps the most recent error of every task.
type ErrorCollector struct {
	byTask map[string]*BuildError
	mutex  sync.RWMutex
}

// NewErrorCollector creates a new error collector
func NewErrorCollector() *ErrorCollector {
	return &ErrorCollector{byTask: make(map[string]*BuildError)}
}

// Add records err as the current failure of its task.
func (ec *ErrorCollector) Add(err *BuildError) {
	if err == nil {
		return
	}
	ec.mutex.Lock()
	defer ec.mutex.Unlock()
	if err.Timestamp.IsZero() {
		err.Timestamp = time.Now()
	}
	ec.byTask[err.Task] = err
}

// Get returns the current failure of a task, or nil.
func (ec *ErrorCollector) Get(task string) *BuildError {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	return ec.byTask[task]
}

// Resolve clears the failure of a task after it ran successfully.
func (ec *ErrorCollector) Resolve(task string) {
	ec.mutex.Lock()
	defer ec.mutex.Unlock()
	delete(ec.byTask, task)
}

// Errors returns the current failures ordered by time.
func (ec *ErrorCollector) Errors() []*BuildError {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()

	result := make([]*BuildError, 0, len(ec.byTask))
	for _, err := range ec.byTask {
		result = append(result, err)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Timestamp.Equal(result[j].Timestamp) {
			return result[i].Task < result[j].Task
		}
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result
}

// Latest returns the most recent failure, or nil.
func (ec *ErrorCollector) Latest() *BuildError {
	errs := ec.Errors()
	if len(errs) == 0 {
		return nil
	}
	return errs[len(errs)-1]
}

// HasErrors returns true if there are any errors
func (ec *ErrorCollector) HasErrors() bool {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	return len(ec.byTask) > 0
}

