package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ZebulonRouseFrantzich/modpatch/internal/elevate"
	"github.com/ZebulonRouseFrantzich/modpatch/internal/hostapp"
	"github.com/ZebulonRouseFrantzich/modpatch/internal/logging"
	"github.com/spf13/cobra"
)

func newGrantAccessCmd(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "grant-access",
		Short: "Give your user write access to the host files (Linux)",
		Long: `Grant-access asks for administrator rights through pkexec and hands the
host's resource directory to the current user, so installs no longer fail
with linux_permissions_required.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			a, err := loadApp(ctx, global, false)
			if err != nil {
				return err
			}
			defer a.close()

			if !a.info.IsLinux() {
				return errors.New("grant-access is only needed on Linux")
			}

			paths := hostapp.ResolvePaths(a.cfg.Host, "")
			candidates := elevate.GrantCandidates(os.Getuid(), os.Getgid(), paths.ResourceDir)
			runner := elevate.NewRunner(logging.Named(a.logger, "elevate"))
			if err := runner.Run(ctx, candidates); err != nil {
				return fmt.Errorf("grant access to %s: %w", paths.ResourceDir, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Write access granted to %s\n", paths.ResourceDir)
			return nil
		},
	}
}
