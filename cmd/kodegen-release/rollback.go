package main

import (
	"github.com/spf13/cobra"

	"github.com/cyrup-ai/kodegen-release/pkg/git"
	"github.com/cyrup-ai/kodegen-release/pkg/github"
	"github.com/cyrup-ai/kodegen-release/pkg/log"
	"github.com/cyrup-ai/kodegen-release/pkg/release"
	"github.com/cyrup-ai/kodegen-release/pkg/retry"
	"github.com/cyrup-ai/kodegen-release/pkg/state"
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback [dir]",
	Short: "Manually roll back a failed release from its saved state",
	Long: `Roll back the release recorded in the working tree's state file:
delete the draft release, remote and local tags, and the release branch,
then return to the pre-release branch.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := "."
		if len(args) == 1 {
			dir = args[0]
		}
		logger := log.WithComponent("cli")

		store := state.New(dir, state.DefaultConfig())
		defer store.Close()

		rec, err := store.Load()
		if err != nil {
			return err
		}

		var host github.Client
		if rec.HostState != nil && rec.HostState.Owner != "" {
			apiClient, err := github.NewFromEnv(cmd.Context(), rec.HostState.Owner, rec.HostState.Repo)
			if err != nil {
				logger.Warn().Err(err).Msg("no release-host credentials; skipping remote release cleanup")
			} else {
				host = apiClient
			}
		}

		deps := release.Deps{
			Store:   store,
			Git:     git.New(dir),
			Host:    host,
			Budgets: retry.LoadBudgets(),
		}
		return release.RunRollback(cmd.Context(), dir, release.Options{}, deps)
	},
}
