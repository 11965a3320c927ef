package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "gantry",
	Short: "Gantry - deployment orchestrator for auto scaling groups",
	Long: `Gantry rolls machine images onto cloud auto scaling groups by driving a
remote ASG management service through a fixed task pipeline: create the
next group generation, wait for instance and load balancer health, shift
traffic, retire the old generation.

One deployment per application-environment-region at a time. Pause, resume
and cancel requests take effect at task boundaries.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Gantry version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("config", "", "Path to the YAML configuration file")
	rootCmd.PersistentFlags().String("server", "http://127.0.0.1:8080", "Gantry server URL")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(opsCmd)
	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(deploymentsCmd)
	rootCmd.AddCommand(deploymentCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(watchCmd)
}
