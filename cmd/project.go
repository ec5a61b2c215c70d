package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/harshul/agent-ivy/internal/config"
	"github.com/harshul/agent-ivy/internal/doctor"
	"github.com/harshul/agent-ivy/internal/patcher"
	"github.com/harshul/agent-ivy/internal/provisioner"
	"github.com/harshul/agent-ivy/internal/ui"
)

// detectCmd represents the detect command
var detectCmd = &cobra.Command{
	Use:   "detect [path]",
	Short: "Show the package manager and commands used for a project",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		project, err := projectArg(args)
		if err != nil {
			return err
		}
		out := ui.NewPrinter(cmd.OutOrStdout())

		check := provisioner.Check(project)
		if check.IsAvailable {
			out.Success(fmt.Sprintf("%s found at %s", check.Manager, check.Path))
		} else {
			out.Warn(fmt.Sprintf("%s is not installed: %s", check.Manager, check.InstallHint))
		}
		out.Highlight("Install", provisioner.InstallCommand(project).String())
		out.Highlight("Serve", provisioner.ServeCommand(project, cfg.DevServer.Port).String())

		if v := provisioner.Validate(project); !v.Valid {
			for _, issue := range v.Issues {
				out.Warn(issue)
			}
		}
		return nil
	},
}

// patchCmd represents the patch command
var patchCmd = &cobra.Command{
	Use:   "patch [path]",
	Short: "Inject the test-harness route without starting a server",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		project, err := projectArg(args)
		if err != nil {
			return err
		}
		out := ui.NewPrinter(cmd.OutOrStdout())

		res, err := patcher.InjectHarnessRoute(project)
		if err != nil {
			return err
		}
		if res.AlreadyPatched {
			out.Info("Harness route already present in " + res.RoutesFile)
			return nil
		}
		out.Success("Injected " + patcher.HarnessPath + " into " + res.RoutesFile)
		return nil
	},
}

// doctorCmd represents the doctor command
var doctorCmd = &cobra.Command{
	Use:   "doctor [path]",
	Short: "Check that a project can be served on this machine",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		project, err := projectArg(args)
		if err != nil {
			return err
		}

		d := doctor.Diagnose(project)
		ui.NewPrinter(cmd.OutOrStdout()).Diagnosis(d)
		if !d.Healthy {
			return fmt.Errorf("%d issue(s) found", len(d.Issues))
		}
		return nil
	},
}

// initCmd represents the init command
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a " + config.DefaultFileName + " with the effective settings",
	Args:  cobra.NoArgs,
	RunE:  runInit,
}

func init() {
	initCmd.Flags().StringP("output", "o", config.DefaultFileName, "Output file path for the configuration")
	initCmd.Flags().BoolP("force", "f", false, "Overwrite an existing file")
}

func runInit(cmd *cobra.Command, args []string) error {
	output, _ := cmd.Flags().GetString("output")
	force, _ := cmd.Flags().GetBool("force")

	if _, err := os.Stat(output); err == nil && !force {
		return fmt.Errorf("%s already exists. Use --force to overwrite", output)
	}

	if err := config.Write(output, cfg); err != nil {
		return err
	}
	ui.NewPrinter(cmd.OutOrStdout()).Success("Configuration written to " + output)
	return nil
}

func projectArg(args []string) (string, error) {
	path := "."
	if len(args) == 1 {
		path = args[0]
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	if info, err := os.Stat(abs); err != nil || !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", abs)
	}
	return abs, nil
}
