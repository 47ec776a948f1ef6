package main

import (
	"context"

	"github.com/spf13/cobra"
)

func newRemoveCmd(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove",
		Short: "Restore the host's original archive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			a, err := loadApp(ctx, global, true)
			if err != nil {
				return err
			}
			defer a.close()

			return a.orch.Remove(ctx, newConsoleReporter(cmd.OutOrStdout(), cmd.ErrOrStderr(), "Mod removed"))
		},
	}
}

func newClearCacheCmd(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-cache",
		Short: "Delete cached mod archives",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			a, err := loadApp(ctx, global, true)
			if err != nil {
				return err
			}
			defer a.close()

			return a.orch.ClearCache(newConsoleReporter(cmd.OutOrStdout(), cmd.ErrOrStderr(), "Cache cleared"))
		},
	}
}
