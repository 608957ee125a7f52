package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/conneroisu/assetpipe/internal/task"
)

var tasksCmd = &cobra.Command{
	Use:     "tasks",
	Aliases: []string{"t", "list"},
	Short:   "List the task graph",
	Long: `List every task with what it runs. Tasks from the task graph file
replace built-in tasks of the same name.

Examples:
  assetpipe tasks
  assetpipe tasks --config site.yml`,
	Args: cobra.NoArgs,
	RunE: runTasksList,
}

func init() {
	rootCmd.AddCommand(tasksCmd)
}

func runTasksList(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, false)
	if err != nil {
		return err
	}
	reg := a.registry

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Default task: %s\n\n", reg.Default())

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tKIND\tRUNS\tDESCRIPTION")
	for _, name := range reg.Names() {
		t, err := reg.Get(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", name, task.Kind(t), describeRuns(t), reg.Description(name))
	}
	return w.Flush()
}

// describeRuns renders what a composition or watch task runs, nesting
// anonymous groups: "clean, version, parallel(html, styles)".
func describeRuns(t task.Task) string {
	if specs := task.WatchSpecs(t); specs != nil {
		names := make([]string, 0, len(specs))
		for _, s := range specs {
			names = append(names, s.Task.Name())
		}
		return strings.Join(names, ", ")
	}

	children := task.Children(t)
	if len(children) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(children))
	for _, child := range children {
		parts = append(parts, describeChild(child))
	}
	return strings.Join(parts, ", ")
}

func describeChild(t task.Task) string {
	switch kind := task.Kind(t); kind {
	case "series", "parallel":
		if !task.IsRef(t) {
			return fmt.Sprintf("%s(%s)", kind, describeRuns(t))
		}
	}
	return t.Name()
}
