package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool

	// buildVersion is propagated into telemetry service metadata.
	buildVersion = "dev"
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	buildVersion = version
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "labforge",
		Short: "LabForge - Workshop Environment Orchestrator",
		Long: `LabForge provisions and tears down per-attendee cloud environments for
time-boxed workshops.

Features:
  - One isolated cloud project and IAM user per attendee
  - Terraform-driven provisioning against OVH
  - Sequential workshop deployment with per-attendee isolation
  - Reconciliation sweeps for ended, expired, stuck and orphaned state
  - Email delivery of attendee credentials and teardown notices`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newMigrateCommand())
	rootCmd.AddCommand(newDeployCommand())
	rootCmd.AddCommand(newDestroyCommand())
	rootCmd.AddCommand(newSweepCommand())
	rootCmd.AddCommand(newWorkshopCommand())

	return rootCmd
}
