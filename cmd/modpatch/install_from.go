package main

import (
	"context"

	"github.com/spf13/cobra"
)

func newInstallFromCmd(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "install-from <path | file-url | deep-link>",
		Short: "Install a local packed archive",
		Long: `Install-from writes a local .asar archive over the host's archive. The
source may be a path, a file:// URL, or a deep link such as
modpatch://patch/from_mod/<path>.`,
		Args: cobra.ExactArgs(1),
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

			rep := newConsoleReporter(cmd.OutOrStdout(), cmd.ErrOrStderr(), "Archive installed")
			return a.orch.InstallFromFile(ctx, args[0], rep)
		},
	}
}
