package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cyrup-ai/kodegen-release/pkg/inventory"
	"github.com/cyrup-ai/kodegen-release/pkg/state"
)

var statusCmd = &cobra.Command{
	Use:   "status [dir]",
	Short: "Show the saved release state for a working tree",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := "."
		if len(args) == 1 {
			dir = args[0]
		}

		store := state.New(dir, state.DefaultConfig())
		rec, err := store.Load()
		if errors.Is(err, state.ErrNotFound) {
			fmt.Println("no release in progress")
			return nil
		}
		if err != nil {
			return err
		}

		fmt.Printf("release:  %s (%s bump)\n", rec.TargetVersion, rec.VersionBump)
		fmt.Printf("phase:    %s (%.0f%%)\n", rec.CurrentPhase, rec.CurrentPhase.Progress())
		fmt.Printf("started:  %s\n", rec.StartedAt.Format("2006-01-02 15:04:05 MST"))
		fmt.Printf("updated:  %s (save #%d)\n", rec.UpdatedAt.Format("2006-01-02 15:04:05 MST"), rec.SaveVersion)
		if rec.HostState != nil {
			fmt.Printf("remote:   %s/%s", rec.HostState.Owner, rec.HostState.Repo)
			if rec.HostState.URL != "" {
				fmt.Printf(" (%s)", rec.HostState.URL)
			}
			fmt.Println()
			fmt.Printf("uploaded: %d asset(s)\n", len(rec.HostState.UploadedAssets))
		}
		if len(rec.Checkpoints) > 0 {
			fmt.Println("checkpoints:")
			for _, cp := range rec.Checkpoints {
				fmt.Printf("  %-28s %s  %s\n", cp.Name, cp.Phase,
					cp.Timestamp.Format("15:04:05"))
			}
		}
		if len(rec.Errors) > 0 {
			fmt.Println("errors:")
			for _, e := range rec.Errors {
				kind := "fatal"
				if e.Recoverable {
					kind = "recoverable"
				}
				fmt.Printf("  [%s] %s: %s\n", kind, e.Phase, e.Message)
			}
		}
		return nil
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Sweep stale active-release entries and their temp trees",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		inv, err := inventory.Default()
		if err != nil {
			return err
		}
		swept, err := inv.Sweep()
		if err != nil {
			return err
		}
		fmt.Printf("swept %d stale release entr%s\n", swept, pluralY(swept))
		return nil
	},
}

func pluralY(n int) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}
