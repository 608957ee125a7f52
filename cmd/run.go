package cmd

import (
	"github.com/spf13/cobra"

	"github.com/conneroisu/assetpipe/internal/notify"
	"github.com/conneroisu/assetpipe/internal/tasks"
)

var runCmd = &cobra.Command{
	Use:     "run <task...>",
	Aliases: []string{"r"},
	Short:   "Run the named tasks",
	Long: `Run the named tasks one after another. Every name is resolved before
anything runs, so a typo fails without touching the output directory.

Examples:
  assetpipe run styles             # Compile the stylesheets
  assetpipe run clean build        # Same as assetpipe build
  assetpipe run release            # A task from assetpipe.hcl`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTasks,
}

var buildCmd = &cobra.Command{
	Use:     "build",
	Aliases: []string{"b"},
	Short:   "Build every asset once",
	Long: `Clean the output directory, write the version stamp and build the pages,
stylesheets, scripts, images and sprite in parallel.

The first failure stops the build and the command exits with status 1.

Examples:
  assetpipe build                  # Build into dist/
  assetpipe build --dist public    # Build into public/`,
	Args: cobra.NoArgs,
	RunE: runBuild,
}

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"s"},
	Short:   "Serve the output directory with live reload",
	Long: `Serve the output directory without building it first. Pages get the
live reload client injected.

Examples:
  assetpipe serve                  # Serve dist/ on localhost:3000
  assetpipe serve -p 8080 --no-open`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var watchCmd = &cobra.Command{
	Use:     "watch",
	Aliases: []string{"w"},
	Short:   "Rebuild on source changes without serving",
	Long: `Watch the sources and re-run the task responsible for whatever changed.
Failures are reported and the watcher keeps running.

Examples:
  assetpipe watch
  assetpipe watch --log-level debug`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(watchCmd)
}

func runBuild(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, false)
	if err != nil {
		return err
	}
	return a.run(cmd.Context(), notify.ModeBuild, tasks.Build)
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, true)
	if err != nil {
		return err
	}
	return a.run(cmd.Context(), notify.ModeWatch, tasks.Serve)
}

func runWatch(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, false)
	if err != nil {
		return err
	}
	return a.run(cmd.Context(), notify.ModeWatch, tasks.Watching)
}
