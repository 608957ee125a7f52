package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorSeverityString(t *testing.T) {
	testCases := []struct {
		severity ErrorSeverity
		expected string
	}{
		{ErrorSeverityInfo, "info"},
		{ErrorSeverityWarning, "warning"},
		{ErrorSeverityError, "error"},
		{ErrorSeverityFatal, "fatal"},
		{ErrorSeverity(99), "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.severity.String())
		})
	}
}

func TestBuildErrorFormatting(t *testing.T) {
	tests := []struct {
		name string
		err  BuildError
		want string
	}{
		{
			name: "full location",
			err:  BuildError{Task: "styles", Step: "sass", File: "app/scss/style.scss", Line: 3, Column: 10, Message: "Undefined variable."},
			want: "styles/sass: app/scss/style.scss:3:10: Undefined variable.",
		},
		{
			name: "file without line",
			err:  BuildError{Task: "fonts", File: "a.otf", Message: "bad table"},
			want: "fonts: a.otf: bad table",
		},
		{
			name: "message only",
			err:  BuildError{Message: "boom"},
			want: "boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestNewWrapsPlainErrors(t *testing.T) {
	cause := stderrors.New("disk full")
	be := New("images", fmt.Errorf("writing: %w", cause))

	require.NotNil(t, be)
	assert.Equal(t, "images", be.Task)
	assert.Equal(t, "writing: disk full", be.Message)
	assert.True(t, stderrors.Is(be, cause))
	assert.Nil(t, New("x", nil))
}

func TestNewKeepsNestedLocation(t *testing.T) {
	inner := &BuildError{Step: "sass", File: "a.scss", Line: 4, Message: "expected"}
	be := New("styles", fmt.Errorf("pipeline: %w", inner))

	assert.Equal(t, "styles", be.Task)
	assert.Equal(t, "a.scss", be.File)
	assert.Equal(t, 4, be.Line)
	assert.Empty(t, inner.Task, "original must not be mutated")
}

func TestAs(t *testing.T) {
	_, ok := As(stderrors.New("plain"))
	assert.False(t, ok)

	be, ok := As(fmt.Errorf("wrapped: %w", &BuildError{Task: "html"}))
	require.True(t, ok)
	assert.Equal(t, "html", be.Task)
}

func TestErrorCollector(t *testing.T) {
	collector := NewErrorCollector()
	assert.False(t, collector.HasErrors())
	assert.Nil(t, collector.Latest())

	now := time.Now()
	collector.Add(&BuildError{Task: "styles", Message: "one", Timestamp: now})
	collector.Add(&BuildError{Task: "scripts", Message: "two", Timestamp: now.Add(time.Second)})
	collector.Add(&BuildError{Task: "styles", Message: "three", Timestamp: now.Add(2 * time.Second)})
	collector.Add(nil)

	errs := collector.Errors()
	require.Len(t, errs, 2)
	assert.Equal(t, "two", errs[0].Message)
	assert.Equal(t, "three", collector.Latest().Message)

	assert.Equal(t, "three", collector.Get("styles").Message)
	assert.Nil(t, collector.Get("html"))

	collector.Resolve("styles")
	assert.Nil(t, collector.Get("styles"))
	require.Len(t, collector.Errors(), 1)
	assert.Equal(t, "scripts", collector.Latest().Task)

	collector.Resolve("scripts")
	assert.False(t, collector.HasErrors())
}

func TestErrorCollectorConcurrentAccess(t *testing.T) {
	collector := NewErrorCollector()
	done := make(chan struct{})

	for i := 0; i < 10; i++ {
		go func(i int) {
			defer func() { done <- struct{}{} }()
			task := fmt.Sprintf("task-%d", i%3)
			collector.Add(&BuildError{Task: task, Message: "x"})
			_ = collector.Errors()
			collector.Resolve(task)
		}(i)
	}
	for i := 0; i < 10; i++ {
		<-done
	}
}
