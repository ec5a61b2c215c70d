package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/harshul/agent-ivy/internal/config"
)

// Version information (can be set at build time)
var (
	version = "0.1.0"
)

var (
	configPath string
	verbose    bool

	// v collects flag bindings from subcommands before the config is loaded.
	v   = config.NewViper()
	cfg config.Config

	logger = slog.Default()
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "ivy",
	Short: "Prepare, start and watch Angular dev servers",
	Long: `Ivy prepares an Angular workspace for automated UI testing and keeps its
dev server under control. It injects a test-harness route, installs
dependencies with the project's package manager, starts ng serve on a free
port and waits until the app compiles or fails.

Usage:
  ivy start <path>    Prepare and start a dev server, stop it on Ctrl+C
  ivy serve           Expose the orchestrator over HTTP
  ivy doctor <path>   Check that a project can be served on this host
  ivy init            Write a default .ivy.yaml`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger = newLogger(verbose)
		slog.SetDefault(logger)

		loaded, err := config.Load(v, configPath)
		if err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the configuration file (default ./"+config.DefaultFileName+")")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(detectCmd)
	rootCmd.AddCommand(patchCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(initCmd)
}

func newLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// bindFlag binds a command flag to a config key so it overrides file and env values.
func bindFlag(cmd *cobra.Command, flag, key string) {
	if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", flag, err))
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
