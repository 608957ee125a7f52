// Package notify reports task failures: it logs them, raises a desktop
// notification, remembers them for the development server and pushes them
// to connected browsers.
//
// In watch mode a failure is swallowed once reported so the watcher keeps
// running; in build mode it propagates and the process exits non-zero.
package notify

import (
	"context"

	"github.com/gen2brain/beeep"

	builderrors "github.com/conneroisu/assetpipe/internal/errors"
	"github.com/conneroisu/assetpipe/internal/logging"
)

// Mode selects whether failures propagate.
type Mode int

const (
	// ModeBuild propagates failures to the caller.
	ModeBuild Mode = iota
	// ModeWatch swallows failures after reporting them.
	ModeWatch
)

// String returns the string representation of the Mode
func (m Mode) String() string {
	if m == ModeWatch {
		return "watch"
	}
	return "build"
}

// Notifier raises a user visible notification.
type Notifier interface {
	Notify(title, message string) error
}

// Broadcaster pushes build state to connected browsers.
type Broadcaster interface {
	BroadcastError(err *builderrors.BuildError)
	BroadcastResolved(task string)
}

// DesktopNotifier shows native notifications through beeep.
type DesktopNotifier struct {
	// Icon is an optional path to the notification icon.
	Icon string
}

// Notify implements Notifier.
func (d DesktopNotifier) Notify(title, message string) error {
	return beeep.Notify(title, message, d.Icon)
}

// Handler implements task.Reporter.
type Handler struct {
	mode        Mode
	logger      logging.Logger
	collector   *builderrors.ErrorCollector
	notifier    Notifier
	broadcaster Broadcaster
}

// Option configures a Handler.
type Option func(*Handler)

// WithNotifier enables notifications through n.
func WithNotifier(n Notifier) Option {
	return func(h *Handler) { h.notifier = n }
}

// WithBroadcaster forwards failures to b.
func WithBroadcaster(b Broadcaster) Option {
	return func(h *Handler) { h.broadcaster = b }
}

// NewHandler creates a failure handler. A nil collector gets a fresh one.
func NewHandler(mode Mode, logger logging.Logger, collector *builderrors.ErrorCollector, opts ...Option) *Handler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if collector == nil {
		collector = builderrors.NewErrorCollector()
	}
	h := &Handler{
		mode:      mode,
		logger:    logger.WithComponent("notify"),
		collector: collector,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Collector returns the collector failures are recorded in.
func (h *Handler) Collector() *builderrors.ErrorCollector {
	return h.collector
}

// Failed reports err. It returns nil in watch mode and err otherwise.
func (h *Handler) Failed(ctx context.Context, err *builderrors.BuildError) error {
	if err == nil {
		return nil
	}
	h.collector.Add(err)

	fields := []interface{}{"task", err.Task}
	if err.Step != "" {
		fields = append(fields, "step", err.Step)
	}
	if err.File != "" {
		fields = append(fields, "file", err.File)
	}
	if err.Line > 0 {
		fields = append(fields, "line", err.Line, "column", err.Column)
	}
	h.logger.Error(ctx, nil, err.Error(), fields...)

	if h.notifier != nil {
		if nerr := h.notifier.Notify(title(err), err.Message); nerr != nil {
			h.logger.Debug(ctx, "desktop notification failed", "error", nerr.Error())
		}
	}

	if h.broadcaster != nil {
		h.broadcaster.BroadcastError(err)
	}

	if h.mode == ModeWatch {
		return nil
	}
	return err
}

// Succeeded clears a previous failure of task.
func (h *Handler) Succeeded(ctx context.Context, task string) {
	if h.collector.Get(task) == nil {
		return
	}
	h.collector.Resolve(task)
	h.logger.Info(ctx, "task recovered", "task", task)

	if h.broadcaster != nil {
		h.broadcaster.BroadcastResolved(task)
	}
}

func title(err *builderrors.BuildError) string {
	if err.Step != "" {
		return "assetpipe: " + err.Task + " (" + err.Step + ")"
	}
	return "assetpipe: " + err.Task
}
