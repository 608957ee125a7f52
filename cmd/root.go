package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/assetpipe/internal/config"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "assetpipe [task...]",
	Short: "Build front-end assets and serve them with live reload",
	Long: `assetpipe compiles the pages, stylesheets, scripts, images, fonts and
icons of a static site into a distribution directory, serves it with live
reload and rebuilds whatever changes.

Without arguments the default task runs: clean, stamp the version, build every
asset, serve the result and watch the sources. Named tasks run one after
another instead.

Quick Start:
  assetpipe                      Build, serve and watch
  assetpipe build                Build once for production
  assetpipe tasks                List the available tasks
  assetpipe run styles scripts   Run specific tasks
  assetpipe config init          Write a starter .assetpipe.yml`,
	Args:          cobra.ArbitraryArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runTasks,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(rootCmd.ErrOrStderr(), "Error:", err)
	}
	return err
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is .assetpipe.yml, can also use ASSETPIPE_CONFIG_FILE env var)")
	flags.StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "text", "log format (text, json)")
	flags.String("src", "app", "source directory")
	flags.String("dist", "dist", "output directory")
	flags.IntP("port", "p", 3000, "development server port")
	flags.String("host", "localhost", "development server host")
	flags.Bool("no-open", false, "don't open the browser when the server starts")
}

// flagKeys maps flags to the configuration keys they override.
var flagKeys = map[string]string{
	"log-level":  "log.level",
	"log-format": "log.format",
	"src":        "paths.src",
	"dist":       "paths.dist",
	"port":       "server.port",
	"host":       "server.host",
	"no-open":    "server.no-open",
}

// newViper collects the settings of one invocation of cmd.
//
// Configuration file priority (highest to lowest):
//  1. --config flag
//  2. ASSETPIPE_CONFIG_FILE environment variable
//  3. .assetpipe.yml in the current directory, when present
//
// ASSETPIPE_<SECTION>_<KEY> environment variables override the file, and
// flags the user set override both.
func newViper(cmd *cobra.Command) (*viper.Viper, error) {
	v := viper.New()
	explicit := true
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv(config.EnvPrefix + "_CONFIG_FILE"); envConfigFile != "" {
		v.SetConfigFile(envConfigFile)
	} else {
		explicit = false
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName(".assetpipe")
	}

	config.ConfigureEnv(v)
	for name, key := range flagKeys {
		if f := cmd.Flags().Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}
	return v, nil
}

// loadConfig returns the validated configuration for cmd.
func loadConfig(cmd *cobra.Command) (*config.Config, *viper.Viper, error) {
	v, err := newViper(cmd)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := config.LoadFrom(v)
	if err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}
