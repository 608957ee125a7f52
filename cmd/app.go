package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/conneroisu/assetpipe/internal/config"
	builderrors "github.com/conneroisu/assetpipe/internal/errors"
	"github.com/conneroisu/assetpipe/internal/graphfile"
	"github.com/conneroisu/assetpipe/internal/logging"
	"github.com/conneroisu/assetpipe/internal/notify"
	"github.com/conneroisu/assetpipe/internal/server"
	"github.com/conneroisu/assetpipe/internal/task"
	"github.com/conneroisu/assetpipe/internal/tasks"
)

// app is everything one command invocation runs tasks with.
type app struct {
	cfg       *config.Config
	logger    logging.Logger
	collector *builderrors.ErrorCollector
	server    *server.Server
	graph     *tasks.Graph
	registry  *task.Registry

	// notifier raises desktop notifications; nil disables them.
	notifier notify.Notifier
}

// newApp loads the configuration and the task graph. With serve set the
// development server is created and build results are pushed to it.
func newApp(cmd *cobra.Command, serve bool) (*app, error) {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	logger := logging.NewLogger(&logging.LoggerConfig{
		Level:  level,
		Format: cfg.Log.Format,
		Output: cmd.ErrOrStderr(),
	})

	a := &app{
		cfg:       cfg,
		logger:    logger,
		collector: builderrors.NewErrorCollector(),
		registry:  task.NewRegistry(),
	}
	if cfg.Notify.Desktop {
		a.notifier = notify.DesktopNotifier{Icon: cfg.Notify.Icon}
	}

	var opts []tasks.Option
	if serve {
		a.server = server.New(server.Config{
			Host:           cfg.Server.Host,
			Port:           cfg.Server.Port,
			Root:           cfg.Paths.Dist,
			Open:           cfg.Server.Open,
			AllowedOrigins: cfg.Server.AllowedOrigins,
		}, logger, a.collector)
		opts = append(opts, tasks.WithLiveReload(a.server))
	}
	a.graph = tasks.New(cfg, logger, opts...)
	a.graph.Register(a.registry)

	if _, err := graphfile.Load(cmd.Context(), cfg.Graph, a.graph, a.registry, logger); err != nil {
		return nil, err
	}
	return a, nil
}

// watches reports whether running names starts a watcher, in which case
// failures must not stop the process.
func (a *app) watches(names []string) bool {
	if len(names) == 0 {
		names = []string{a.registry.Default()}
	}
	var visit func(t task.Task) bool
	visit = func(t task.Task) bool {
		if task.Kind(t) == "watch" {
			return true
		}
		for _, child := range task.Children(t) {
			if visit(child) {
				return true
			}
		}
		return false
	}
	for _, name := range names {
		if t, err := a.registry.Get(name); err == nil && visit(t) {
			return true
		}
	}
	return false
}

// handler creates the failure reporter for mode.
func (a *app) handler(mode notify.Mode) *notify.Handler {
	var opts []notify.Option
	if a.notifier != nil {
		opts = append(opts, notify.WithNotifier(a.notifier))
	}
	if a.server != nil {
		opts = append(opts, notify.WithBroadcaster(a.server))
	}
	return notify.NewHandler(mode, a.logger, a.collector, opts...)
}

// run runs names until they finish or the process is interrupted.
func (a *app) run(ctx context.Context, mode notify.Mode, names ...string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx = task.WithLogger(ctx, a.logger)
	ctx = task.WithReporter(ctx, a.handler(mode))

	err := a.registry.Run(ctx, names...)
	if err != nil && ctx.Err() != nil {
		a.logger.Info(context.Background(), "interrupted")
		return nil
	}
	return err
}

// runTasks runs the named tasks, or the default one.
func runTasks(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, true)
	if err != nil {
		return err
	}
	mode := notify.ModeBuild
	if a.watches(args) {
		mode = notify.ModeWatch
	}
	return a.run(cmd.Context(), mode, args...)
}
