package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/conneroisu/assetpipe/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Print the configuration assetpipe runs with, after defaults, the
configuration file, ASSETPIPE_* environment variables and flags are applied.

Examples:
  assetpipe config                 # Print the effective configuration
  assetpipe config validate        # Report every configuration problem
  assetpipe config init            # Write a starter .assetpipe.yml`,
	Args: cobra.NoArgs,
	RunE: runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	Long: `Check every setting and report all errors and warnings at once.
Exits with status 1 when there are errors.`,
	Args: cobra.NoArgs,
	RunE: runConfigValidate,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter configuration",
	Long: `Write the default configuration to .assetpipe.yml (or the --config path)
and, with --graph, an example task graph file.

Examples:
  assetpipe config init
  assetpipe config init --graph --force`,
	Args: cobra.NoArgs,
	RunE: runConfigInit,
}

var (
	initForce bool
	initGraph bool
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configInitCmd)

	configInitCmd.Flags().BoolVarP(&initForce, "force", "f", false, "overwrite existing files")
	configInitCmd.Flags().BoolVar(&initGraph, "graph", false, "also write an example task graph file")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	out, err := cfg.YAML()
	if err != nil {
		return fmt.Errorf("render configuration: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	v, err := newViper(cmd)
	if err != nil {
		return err
	}
	cfg, err := config.Decode(v)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	result := cfg.ValidateDetails()
	if used := v.ConfigFileUsed(); used != "" {
		fmt.Fprintf(out, "Configuration file: %s\n", used)
	}
	if !result.HasErrors() && !result.HasWarnings() {
		fmt.Fprintln(out, "Configuration is valid")
		return nil
	}
	fmt.Fprint(out, result.String())
	if result.HasErrors() {
		return fmt.Errorf("configuration has %d error(s)", len(result.Errors))
	}
	return nil
}

const exampleGraph = `# Tasks defined here are added to the built-in tasks or replace the ones
# with the same name. Run "assetpipe tasks" to see the resulting graph.
#
# Expressions can use ${src} and ${dist}, the configured source and output
# directories.

task "vendor" {
  description = "Bundle third party scripts"
  src         = ["${src}/vendor/**/*.js"]
  dest        = "${dist}/js"
  reload      = "page"

  step "concat" { file = "vendor.min.js" }
  step "minify" {}
}

task "release" {
  description = "Production build including vendor scripts"
  series      = ["build", "vendor"]
}
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	cfg, err := config.Default()
	if err != nil {
		return err
	}
	data, err := cfg.YAML()
	if err != nil {
		return fmt.Errorf("render configuration: %w", err)
	}

	path := cfgFile
	if path == "" {
		path = ".assetpipe.yml"
	}
	header := []byte("# assetpipe configuration. Every key can be overridden with an\n# ASSETPIPE_<SECTION>_<KEY> environment variable.\n")
	if err := writeNew(path, append(header, data...)); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)

	if initGraph {
		if err := writeNew(cfg.Graph, []byte(exampleGraph)); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", cfg.Graph)
	}
	return nil
}

// writeNew writes data to path unless the file exists and --force is unset.
func writeNew(path string, data []byte) error {
	if !initForce {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		} else if !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
