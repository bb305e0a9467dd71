package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vango-dev/sharedstate/internal/config"
	"github.com/vango-dev/sharedstate/internal/errors"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// globalFlags are shared by every command.
type globalFlags struct {
	configPath string
	envFiles   []string
	noColor    bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		errors.PrintError(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:   "sharedstate",
		Short: "Reactive shared state over HTTP",
		Long: `sharedstate serves a family of reactive cells over HTTP and websockets.

Every cell is addressed by key, persisted to the configured backend and
pushed to watchers as it changes. Backends:

  • memory  (default, single process)
  • redis   (shared, with cross-process change events)
  • sqlite  (single node, durable)
  • s3      (object storage)`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flags.noColor {
				errors.DisableColors()
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "",
		"Config file (default ./"+config.ConfigFileName+" when present)")
	rootCmd.PersistentFlags().StringSliceVar(&flags.envFiles, "env-file", nil,
		"Dotenv files to load (default .env)")
	rootCmd.PersistentFlags().BoolVar(&flags.noColor, "no-color", false,
		"Disable colored error output")

	rootCmd.AddCommand(
		serveCmd(flags),
		getCmd(flags),
		putCmd(flags),
		deleteCmd(flags),
		configCmd(flags),
		versionCmd(),
	)
	return rootCmd
}

// loadConfig loads dotenv files, then the config file and environment.
func loadConfig(flags *globalFlags) (*config.Config, error) {
	if err := config.LoadEnv(flags.envFiles...); err != nil {
		return nil, err
	}
	path := flags.configPath
	if path == "" {
		if _, err := os.Stat(config.ConfigFileName); err == nil {
			path = config.ConfigFileName
		}
	}
	return config.Load(path)
}

// success prints a success message.
func success(format string, args ...any) {
	fmt.Printf("\033[32m✓\033[0m %s\n", fmt.Sprintf(format, args...))
}

// info prints an info message.
func info(format string, args ...any) {
	fmt.Printf("  %s\n", fmt.Sprintf(format, args...))
}
