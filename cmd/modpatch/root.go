package main

import (
	"github.com/spf13/cobra"
)

// globalOptions are shared by every subcommand.
type globalOptions struct {
	configPath string
	logLevel   string
	logFile    string
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "modpatch",
		Short: "Install and update mods for the host music application",
		Long: `modpatch installs a replacement resource bundle over the host application's
packed archive, keeps a backup of the original, and re-signs the host's
integrity metadata so the modded archive is accepted.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to modpatch.lua (default: user config dir)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&opts.logFile, "log-file", "", "Also write JSON logs to this file")

	rootCmd.AddCommand(newInstallCmd(opts))
	rootCmd.AddCommand(newInstallFromCmd(opts))
	rootCmd.AddCommand(newRemoveCmd(opts))
	rootCmd.AddCommand(newClearCacheCmd(opts))
	rootCmd.AddCommand(newStatusCmd(opts))
	rootCmd.AddCommand(newGrantAccessCmd(opts))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}
