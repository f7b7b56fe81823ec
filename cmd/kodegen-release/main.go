package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cyrup-ai/kodegen-release/pkg/log"
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
		os.Exit(2)
	}
}

var rootCmd = &cobra.Command{
	Use:   "kodegen-release",
	Short: "Resumable, rollback-safe release automation for kodegen packages",
	Long: `kodegen-release drives a complete package release: version bump,
cross-platform installer bundling, signing, upload to the release host,
and publication - as one resumable, checkpointed operation.

A crashed release resumes from its last checkpoint on the next run; an
unrecoverable failure rolls back every remote object it created.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"kodegen-release %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	// Global flags
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(releaseCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(rollbackCmd)
	rootCmd.AddCommand(cleanupCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(level, jsonOut)
}
